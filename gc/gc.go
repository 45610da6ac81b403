// Package gc implements a block-based mark/sweep heap together with the
// extension surface that lets code outside the collector take part in
// collection cycles: lifecycle callbacks, foreign types with custom mark and
// sweep functions, an explicit mark worklist, conservative pointer
// classification, and task stack introspection.
//
// The memory manager is a textbook mark/sweep implementation. The heap is
// divided into blocks of 4 pointers big (see bytesPerBlock) and every
// allocation rounds up to that size. Per-block state (free, head, tail, mark)
// is kept in a metadata area at the end of the heap, so the start and end of
// every object can be found from any interior address. Objects that do not fit
// the pooled path, or whose type is registered as large, are tracked in a side
// table outside the block pool.
//
// Marking never recurses. Scanners and custom mark functions push objects onto
// an explicit worklist (a list linked through object headers) and the
// collector drains it to a fixed point. Deduplication happens on the per-block
// mark state with a compare-and-swap, so an object is visited at most once per
// cycle even when several scanners race on it.
//
// More information:
// https://aykevl.nl/2020/09/gc-tinygo
// https://github.com/micropython/micropython/wiki/Memory-Manager
// "The Garbage Collection Handbook" by Richard Jones, Antony Hosking, Eliot
// Moss.
package gc

import (
	"errors"
	"unsafe"

	"github.com/tinygc/gcext/config"
)

// gcDebug enables printing of heap dumps and other debug output on state
// transitions. Only useful while working on the collector itself.
var gcDebug = false

// gcAsserts enables cheap consistency checks plus the (more expensive)
// contract checks on the extension surface: enqueueing outside a mark phase,
// double sweep scheduling, allocation during a collection. Violations fault
// the process, they are never returned as errors.
var gcAsserts = true

// An Object is the address of collector-managed object data, just past its
// bookkeeping header. The zero value is NoObject.
type Object uintptr

// NoObject is the sentinel returned by classification queries when an address
// does not belong to a pooled allocation.
const NoObject Object = 0

// A Context carries the per-phase state that scanners, mark functions and
// allocation sites need. During a collection cycle the collector hands a
// mark-active context to root scanners, task scanners and custom mark
// functions; only through such a context may objects be enqueued. Outside a
// cycle, MainContext is used to allocate.
type Context struct {
	markActive bool

	// Stats accumulated while draining the worklist.
	objectsMarked uint64
	edgesVisited  uint64
}

var mainContext Context

// MainContext returns the process-wide allocation context. It must not be
// used to enqueue objects.
func MainContext() *Context {
	return &mainContext
}

var (
	// ErrHeapSize is returned by Init for a zero or shrinking heap
	// configuration.
	ErrHeapSize = errors.New("gc: invalid heap size configuration")
)

var initialized bool

// Init reserves the heap arena and resets all collector state: block
// metadata, free ranges, the foreign type registry, callback slots, roots and
// tasks. It must be called before any allocation. Calling it again tears down
// the previous world; the caller is responsible for not holding objects
// across reinitialization.
func Init(cfg config.Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	gcAsserts = cfg.Asserts
	gcDebug = cfg.Debug

	start, limit, err := reserveArena(uintptr(cfg.MaxHeapSize))
	if err != nil {
		return err
	}
	gcLock.Lock()
	heapStart = start
	heapEnd = start + uintptr(cfg.HeapSize)
	arenaLimit = limit
	growthPercent = cfg.GrowthPercent
	if heapEnd > arenaLimit {
		gcLock.Unlock()
		return ErrHeapSize
	}
	initHeap()
	resetExtensionState()
	initialized = true
	gcLock.Unlock()
	return nil
}

// resetExtensionState clears everything the extension surface registered
// against the previous heap. Called with gcLock held.
func resetExtensionState() {
	scanList = nil
	gcTotalAlloc = 0
	gcMallocs = 0
	gcCycles = 0
	largeObjects = make(map[Object]*largeObject)
	roots = roots[:0]
	resetTasks()
	resetCallbacks()
	resetTypes()
	resetConservative()
}

// runtimePanic faults the process on a violated collector invariant. The
// extension layer's hot-path contracts are not recoverable: unwinding through
// a half-finished cycle would leave the heap corrupt.
func runtimePanic(msg string) {
	panic(msg)
}

// align rounds the given address up to pointer alignment.
func align(p uintptr) uintptr {
	return (p + unsafe.Alignof(uintptr(0)) - 1) &^ (unsafe.Alignof(uintptr(0)) - 1)
}
