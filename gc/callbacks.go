package gc

import (
	"reflect"
	"sync"

	"github.com/tinygc/gcext/internal/task"
)

// Lifecycle callbacks. All of them run while the collector has constrained
// the world: they must not allocate collector-managed memory, must not
// trigger or wait on a collection, and must not block on synchronization that
// could deadlock with the collector. They have no error channel by design; a
// listener that hits an unrecoverable condition must abort the process rather
// than unwind into the collector.
//
// The full argument distinguishes a full collection from a partial one, so
// listeners can skip expensive work on partial cycles.

// A RootScanner enumerates global references the collector would not
// otherwise discover, by enqueueing them through ctx.
type RootScanner func(ctx *Context, full bool)

// A TaskScanner enumerates references reachable from one task's local state,
// by enqueueing them through ctx. It is invoked once per registered task per
// cycle.
type TaskScanner func(ctx *Context, t *task.Task, full bool)

// A GCHook runs before any marking (pre-GC) or after sweep completes
// (post-GC).
type GCHook func(full bool)

// An AllocWatcher is notified of allocations the collector tracks outside
// the block pool. addr is the object data address.
type AllocWatcher func(addr Object, size uintptr)

// A FreeWatcher is notified when an externally tracked allocation is
// reclaimed.
type FreeWatcher func(addr Object)

// A PressureWatcher is notified when a collection failed to recover enough
// headroom. It carries no ordering guarantee relative to collection cycles.
type PressureWatcher func()

// Event kinds index the callback table.
type eventKind int

const (
	evRootScanner eventKind = iota
	evTaskScanner
	evPreGC
	evPostGC
	evExternalAlloc
	evExternalFree
	evPressure
	numEvents
)

// callbackSlot associates a listener with its identity key. A slot list is
// replaced wholesale on registration so a running cycle, which reads a
// snapshot, never observes a half-updated slot.
type callbackSlot struct {
	key uintptr
	fn  any
}

var cbTable struct {
	sync.Mutex
	slots [numEvents][]callbackSlot
}

func resetCallbacks() {
	cbTable.Lock()
	for i := range cbTable.slots {
		cbTable.slots[i] = nil
	}
	cbTable.Unlock()
}

// setCallback adds or removes a listener for one event kind. Both directions
// are idempotent: enabling a listener that is already enabled and disabling
// one that is not are no-ops.
func setCallback(kind eventKind, fn any, enable bool) {
	key := reflect.ValueOf(fn).Pointer()
	cbTable.Lock()
	defer cbTable.Unlock()
	old := cbTable.slots[kind]
	idx := -1
	for i, slot := range old {
		if slot.key == key {
			idx = i
			break
		}
	}
	if enable == (idx >= 0) {
		// Already in the requested state.
		return
	}
	slots := make([]callbackSlot, 0, len(old)+1)
	slots = append(slots, old...)
	if enable {
		slots = append(slots, callbackSlot{key: key, fn: fn})
	} else {
		slots = append(slots[:idx], slots[idx+1:]...)
	}
	cbTable.slots[kind] = slots
}

// listeners returns the current listener list for one event kind. The
// returned slice is never mutated afterwards, so a cycle can iterate it
// without holding the table lock.
func listeners(kind eventKind) []callbackSlot {
	cbTable.Lock()
	slots := cbTable.slots[kind]
	cbTable.Unlock()
	return slots
}

// SetRootScanner registers or removes a root scanner callback.
func SetRootScanner(fn RootScanner, enable bool) { setCallback(evRootScanner, fn, enable) }

// SetTaskScanner registers or removes a task scanner callback.
func SetTaskScanner(fn TaskScanner, enable bool) { setCallback(evTaskScanner, fn, enable) }

// SetPreGC registers or removes a callback invoked before any marking.
func SetPreGC(fn GCHook, enable bool) { setCallback(evPreGC, fn, enable) }

// SetPostGC registers or removes a callback invoked after sweep completes.
func SetPostGC(fn GCHook, enable bool) { setCallback(evPostGC, fn, enable) }

// SetNotifyExternalAlloc registers or removes a watcher for externally
// tracked allocations.
func SetNotifyExternalAlloc(fn AllocWatcher, enable bool) { setCallback(evExternalAlloc, fn, enable) }

// SetNotifyExternalFree registers or removes a watcher for reclamation of
// externally tracked allocations.
func SetNotifyExternalFree(fn FreeWatcher, enable bool) { setCallback(evExternalFree, fn, enable) }

// SetNotifyPressure registers or removes a memory pressure watcher.
func SetNotifyPressure(fn PressureWatcher, enable bool) { setCallback(evPressure, fn, enable) }

func invokeRootScanners(ctx *Context, full bool) {
	for _, slot := range listeners(evRootScanner) {
		slot.fn.(RootScanner)(ctx, full)
	}
}

func invokeTaskScanners(ctx *Context, t *task.Task, full bool) {
	for _, slot := range listeners(evTaskScanner) {
		slot.fn.(TaskScanner)(ctx, t, full)
	}
}

func invokePreGC(full bool) {
	for _, slot := range listeners(evPreGC) {
		slot.fn.(GCHook)(full)
	}
}

func invokePostGC(full bool) {
	for _, slot := range listeners(evPostGC) {
		slot.fn.(GCHook)(full)
	}
}

func invokeExternalAlloc(addr Object, size uintptr) {
	for _, slot := range listeners(evExternalAlloc) {
		slot.fn.(AllocWatcher)(addr, size)
	}
}

func invokeExternalFree(addr Object) {
	for _, slot := range listeners(evExternalFree) {
		slot.fn.(FreeWatcher)(addr)
	}
}

func invokePressure() {
	for _, slot := range listeners(evPressure) {
		slot.fn.(PressureWatcher)()
	}
}
