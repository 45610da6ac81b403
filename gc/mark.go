package gc

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// The mark worklist is a list linked through object headers, the same list
// the sweep phase consumes from. Objects are deduplicated when they are
// enqueued (block mark state for pooled objects, header mark flag for
// externally tracked ones), so every reachable object is visited exactly
// once per cycle and draining the list computes the transitive closure of
// everything the scanners enqueued. No marking ever recurses; deep object
// graphs cost list space, not stack depth.

var (
	// scanList is a singly linked list of heap objects that have been marked
	// but not scanned.
	scanList *objHeader

	// scanListLock serializes pushes. Dedup already guarantees single
	// ownership of each pushed header, the lock only orders the list links
	// between concurrent scanners.
	scanListLock sync.Mutex

	lastMarked uint64
	lastEdges  uint64
)

func pushScan(hdr *objHeader) {
	scanListLock.Lock()
	hdr.next = scanList
	scanList = hdr
	scanListLock.Unlock()
}

func popScan() *objHeader {
	scanListLock.Lock()
	hdr := scanList
	if hdr != nil {
		scanList = hdr.next
		hdr.next = nil
	}
	scanListLock.Unlock()
	return hdr
}

// EnqueueObject submits one object for tracing. It reports whether this was
// the first time the object was enqueued in the current mark phase; false
// means it was already marked or queued and the caller need not track a
// visited set of its own.
//
// Valid only while a mark phase is active, from within a root scanner or
// task scanner callback or a custom mark function. Calling it at any other
// time is a contract violation.
func (ctx *Context) EnqueueObject(obj Object) bool {
	if gcAsserts && !ctx.markActive {
		runtimePanic("gc: object enqueued outside the mark phase")
	}
	if obj == NoObject {
		return false
	}
	hdr := obj.header()
	if isOnHeap(uintptr(obj)) {
		head := blockFromAddr(uintptr(unsafe.Pointer(hdr)))
		if gcAsserts && head.address() != uintptr(unsafe.Pointer(hdr)) {
			runtimePanic("gc: enqueued pointer is not an object base")
		}
		if !head.tryMark() {
			return false
		}
	} else {
		if largeObjects[obj] == nil {
			// Not a collector-owned object (for example the zero-size
			// sentinel). Nothing to trace.
			return false
		}
		if !tryMarkLarge(hdr) {
			return false
		}
	}
	ctx.objectsMarked++
	pushScan(hdr)
	return true
}

// EnqueueObjectArray submits a batch of references held by owner, as if each
// were passed to EnqueueObject. The batch form exists for efficiency and so
// the edges can be attributed to owner in diagnostics. The same mark-phase
// restriction applies.
func (ctx *Context) EnqueueObjectArray(owner Object, objs []Object) {
	if gcAsserts && !ctx.markActive {
		runtimePanic("gc: object array enqueued outside the mark phase")
	}
	if gcDebug {
		println("enqueue", len(objs), "objects owned by", uintptr(owner))
	}
	for _, obj := range objs {
		ctx.EnqueueObject(obj)
	}
	ctx.edgesVisited += uint64(len(objs))
}

// tryMarkLarge transitions the header mark flag of an externally tracked
// object, reporting whether this call won the transition.
func tryMarkLarge(hdr *objHeader) bool {
	for {
		old := atomic.LoadUint32(&hdr.flags)
		if old&objFlagMarked != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&hdr.flags, old, old|objFlagMarked) {
			return true
		}
	}
}

// finishMark drains the worklist to empty. Foreign objects are traced by
// their type's mark function, which may push more entries; everything else
// that may contain pointers is scanned conservatively.
func finishMark(ctx *Context) {
	for {
		hdr := popScan()
		if hdr == nil {
			return
		}
		obj := Object(uintptr(unsafe.Pointer(hdr)) + headerSize)

		if d := foreignDescOf(hdr.typ); d != nil {
			if d.mark != nil {
				ctx.edgesVisited += uint64(d.mark(ctx, obj))
			}
			continue
		}

		if hdr.typ != nil && hdr.typ.flags&typeHasPointers == 0 {
			// This object doesn't contain any pointers.
			continue
		}

		// Compute the scan bounds.
		start := uintptr(obj)
		var end uintptr
		if isOnHeap(start) {
			end = blockFromAddr(uintptr(unsafe.Pointer(hdr))).findNext().address()
		} else {
			end = start + largeObjects[obj].size
		}

		// Scan the object.
		scanConservative(ctx, start, end-start)
	}
}

// markRoot marks the pooled object a possible pointer refers to, if any.
// Interior pointers resolve to the object base. Externally tracked objects
// are deliberately not covered: conservative words are too weak an identity
// for them, they are kept alive only by exact enqueues.
func markRoot(ctx *Context, root uintptr) {
	// Find the heap block corresponding to the root.
	if !isOnHeap(root) {
		// This is not a heap pointer.
		return
	}
	block := blockFromAddr(root)

	// Find the head of the corresponding object.
	if block.state() == blockStateFree {
		// The to-be-marked object doesn't actually exist.
		// This could either be a dangling pointer (oops!) but most likely
		// just a false positive.
		return
	}
	head := block.findHead()

	// Mark the object.
	if !head.tryMark() {
		// This object is already marked.
		return
	}

	// Add the object to the scan list.
	ctx.objectsMarked++
	pushScan((*objHeader)(head.pointer()))
}

// scanConservative scans all possible pointer locations in a range and marks
// referenced pooled allocations. The starting address must be valid and
// pointer-aligned.
func scanConservative(ctx *Context, addr, len uintptr) {
	for len >= unsafe.Sizeof(addr) {
		root := *(*uintptr)(unsafe.Pointer(addr))
		markRoot(ctx, root)

		addr += unsafe.Alignof(addr)
		len -= unsafe.Alignof(addr)
	}
}
