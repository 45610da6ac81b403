package gc

import "sync/atomic"

// Conservative pointer classification: given an arbitrary machine word,
// decide whether it plausibly addresses a live pooled object, and if so
// which one. This is a sharp tool for scanning foreign stacks and structures
// of unknown layout. It can produce false positives (non-pointer data that
// happens to look like an object address); it must never produce a false
// negative for a truly live pointer.

// conservativeEnabled is monotonic: once support is enabled it stays enabled
// for the lifetime of the process. There is deliberately no disable
// operation.
var conservativeEnabled atomic.Bool

func resetConservative() {
	conservativeEnabled.Store(false)
}

// EnableConservativeScan enables support for conservative pointer
// classification and returns whether support was already enabled. Enabling
// runs a full collection to bring the pool metadata that reverse lookups
// consult up to date; callers must tolerate that latency. Calling it twice
// is safe and returns true the second time.
func EnableConservativeScan() bool {
	prev := conservativeEnabled.Swap(true)
	if !prev {
		Collect(true)
	}
	return prev
}

// ConservativeScanEnabled reports whether conservative classification
// support has been enabled. It has no side effects.
func ConservativeScanEnabled() bool {
	return conservativeEnabled.Load()
}

// ClassifyPointer returns the object whose pooled allocation contains the
// given address (including addresses interior to the object), or NoObject.
//
// Only pool allocations are covered. Externally tracked allocations must be
// followed through the alloc/free notification callbacks, and a match there
// validated by the caller (IsRegisteredType on the object's type) before it
// is treated as live.
//
// Valid to call only while pool metadata is stable: from within a
// GC-coordinated context, never concurrently with allocation or collection.
func ClassifyPointer(addr uintptr) Object {
	if gcAsserts && !conservativeEnabled.Load() {
		runtimePanic("gc: ClassifyPointer without conservative support enabled")
	}
	if !isOnHeap(addr) {
		return NoObject
	}
	block := blockFromAddr(addr)
	if block.state() == blockStateFree {
		return NoObject
	}
	head := block.findHead()
	base := head.address() + headerSize
	if addr < base {
		// Inside the object's bookkeeping header.
		return NoObject
	}
	return Object(base)
}
