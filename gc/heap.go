package gc

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	gcTotalAlloc uint64     // total number of bytes allocated
	gcMallocs    uint64     // total number of allocations
	gcCycles     uint64     // number of completed collection cycles
	gcLock       sync.Mutex // lock to avoid race conditions between allocation and collection

	// cycleActive is set for the duration of a collection cycle. It backs
	// the assert that nothing reenters the allocator from a callback.
	cycleActive atomic.Bool

	// roots is the internal root set, for references pinned without a root
	// scanner callback.
	roots []Object

	// largeObjects tracks every allocation outside the block pool, keyed by
	// object data address. The map entry keeps the backing memory alive.
	largeObjects map[Object]*largeObject
)

// zeroSizedAlloc is just a sentinel that gets returned when allocating 0 bytes.
var zeroSizedAlloc [1]byte

// largeObject is the side-table entry of an externally tracked allocation.
type largeObject struct {
	buf  []byte
	size uintptr
}

func (l *largeObject) header() *objHeader {
	return (*objHeader)(unsafe.Pointer(&l.buf[0]))
}

// AllocateTyped returns fresh zeroed memory of at least the given size,
// registered as an instance of t. Instances of large types, and requests
// above MaxInternalObjectSize, are tracked outside the block pool and fire
// the external-alloc notification; everything else is placed in the pool.
//
// Allocation may trigger a collection cycle and therefore must not be called
// from a callback, a mark function, or a sweep function.
func AllocateTyped(ctx *Context, size uintptr, t *Type) Object {
	if gcAsserts {
		if !initialized {
			runtimePanic("gc: allocation before Init")
		}
		if ctx == nil || ctx.markActive {
			runtimePanic("gc: allocation from a mark-phase context")
		}
		if cycleActive.Load() {
			runtimePanic("gc: allocation during a collection cycle")
		}
		if t != nil && !IsRegisteredType(t) {
			runtimePanic("gc: allocation with an unregistered type")
		}
	}
	if size == 0 {
		return Object(uintptr(unsafe.Pointer(&zeroSizedAlloc[0])))
	}
	if size > MaxInternalObjectSize() || (t != nil && t.flags&typeLarge != 0) {
		return allocLarge(size, t)
	}
	return allocPooled(size, t)
}

// allocPooled finds free space in the block pool, possibly doing a garbage
// collection cycle if needed. If no space can be made free, it panics.
func allocPooled(size uintptr, t *Type) Object {
	// Round the size up to a multiple of blocks, adding space for the header.
	rawSize := size
	size += headerSize
	size += bytesPerBlock - 1
	if size < rawSize {
		// The size overflowed.
		runtimePanic("gc: out of memory")
	}
	neededBlocks := size / bytesPerBlock
	size = neededBlocks * bytesPerBlock

	// Make sure there are no concurrent allocations. The heap is not currently
	// designed for concurrent alloc/GC.
	gcLock.Lock()

	// Update the total allocation counters.
	gcTotalAlloc += uint64(rawSize)
	gcMallocs++

	// Acquire a range of free blocks.
	var ranGC bool
	var pointer unsafe.Pointer
	for {
		pointer = popFreeRange(neededBlocks)
		if pointer != nil {
			break
		}

		if !ranGC {
			// Run the collector and try again.
			freeBytes := runGC(false)
			ranGC = true
			heapSize := uintptr(metadataStart) - heapStart
			if freeBytes < heapSize/3 {
				// The cycle did not recover enough headroom. Tell the
				// pressure listeners and try to grow.
				invokePressure()
				growHeap()
			}
			continue
		}

		if growHeap() {
			continue
		}

		// The reservation is exhausted and collection did not help.
		runtimePanic("gc: out of memory")
	}

	// Set the backing blocks as being allocated.
	block := blockFromAddr(uintptr(pointer))
	block.setState(blockStateHead)
	for i := block + 1; i != block+gcBlock(neededBlocks); i++ {
		i.setState(blockStateTail)
	}

	// Create the object header.
	header := (*objHeader)(pointer)
	header.next = nil
	header.typ = t
	header.flags = 0

	// We've claimed this allocation, now we can unlock the heap.
	gcLock.Unlock()

	// Return a pointer to this allocation.
	pointer = unsafe.Add(pointer, headerSize)
	memzero(pointer, size-headerSize)
	return Object(uintptr(pointer))
}

// allocLarge places an allocation outside the block pool and records it in
// the side table. Conservative classification does not cover these objects:
// interested callers must track them through the notification callbacks.
func allocLarge(size uintptr, t *Type) Object {
	l := &largeObject{
		buf:  make([]byte, headerSize+size),
		size: size,
	}
	hdr := l.header()
	hdr.typ = t

	obj := Object(uintptr(unsafe.Pointer(&l.buf[0])) + headerSize)
	gcLock.Lock()
	gcTotalAlloc += uint64(size)
	gcMallocs++
	largeObjects[obj] = l
	gcLock.Unlock()

	invokeExternalAlloc(obj, size)
	return obj
}

// ScheduleForeignSweep marks an object of a foreign type so that its type's
// sweep function runs when the object is found unreachable. Sweep functions
// are never invoked automatically: an object that is not scheduled is
// reclaimed without one. Scheduling is valid at most once per object,
// conventionally right after allocating it; a second call is a caller error.
func ScheduleForeignSweep(ctx *Context, obj Object) {
	hdr := obj.header()
	if gcAsserts {
		if ctx == nil || ctx.markActive {
			runtimePanic("gc: sweep scheduling from a mark-phase context")
		}
		if !IsForeignType(hdr.typ) {
			runtimePanic("gc: sweep scheduling on a non-foreign object")
		}
		if hdr.flags&objFlagSweepScheduled != 0 {
			runtimePanic("gc: sweep scheduled twice for the same object")
		}
	}
	hdr.flags |= objFlagSweepScheduled
}

// AddRoot pins an object: it and everything reachable from it survive every
// collection until RemoveRoot. For roots known only at scan time, register a
// root scanner callback instead.
func AddRoot(obj Object) {
	gcLock.Lock()
	roots = append(roots, obj)
	gcLock.Unlock()
}

// RemoveRoot unpins an object previously passed to AddRoot.
func RemoveRoot(obj Object) {
	gcLock.Lock()
	for i, r := range roots {
		if r == obj {
			roots = append(roots[:i], roots[i+1:]...)
			break
		}
	}
	gcLock.Unlock()
}

// Collect performs a garbage collection cycle. full distinguishes a full
// collection from a partial one; this collector does the same work either
// way and the flag only routes information to listeners.
func Collect(full bool) {
	gcLock.Lock()
	runGC(full)
	gcLock.Unlock()
}

// runGC performs a garbage collection cycle: pre-GC hooks, root and task
// scanner callbacks, internal marking, worklist drain, sweep, post-GC hooks.
// It returns the number of free bytes in the heap after the cycle. Called
// with the heap lock held.
func runGC(full bool) (freeBytes uintptr) {
	gcCycles++
	cycleActive.Store(true)
	invokePreGC(full)

	ctx := &Context{markActive: true}

	// Root scanner callbacks run first.
	invokeRootScanners(ctx, full)

	// Then the per-task scanners, along with a conservative scan of each
	// task's active stack region.
	scanTasks(ctx, full)

	// Internal marking: the pinned root set.
	for _, r := range roots {
		ctx.EnqueueObject(r)
	}

	// Drain the worklist to a fixed point.
	finishMark(ctx)
	ctx.markActive = false

	// Sweep phase: run scheduled sweep functions for dying pooled objects,
	// free all non-marked objects and unmark marked objects for the next
	// collection cycle, then do the same for externally tracked objects.
	sweepScheduled()
	sweep()
	sweepLarge()

	// Rebuild the free ranges list.
	freeBytes = buildFreeRanges()

	lastMarked = ctx.objectsMarked
	lastEdges = ctx.edgesVisited
	cycleActive.Store(false)
	invokePostGC(full)

	if gcDebug {
		println("gc cycle done, marked", ctx.objectsMarked, "objects")
	}
	return
}

// sweepScheduled walks the block pool and runs the registered sweep function
// of every dying object that opted in through ScheduleForeignSweep. It must
// run before sweep() clears the block states.
func sweepScheduled() {
	for block := gcBlock(0); block < endBlock; {
		state := block.state()
		if state == blockStateHead {
			// An unmarked head: this object is about to be reclaimed.
			hdr := (*objHeader)(block.pointer())
			if hdr.flags&objFlagSweepScheduled != 0 {
				if d := foreignDescOf(hdr.typ); d != nil && d.sweep != nil {
					d.sweep(Object(block.address() + headerSize))
				}
			}
		}
		if state == blockStateHead || state == blockStateMark {
			block = block.findNext()
		} else {
			block++
		}
	}
}

func foreignDescOf(t *Type) *foreignDesc {
	if t == nil || t.flags&typeForeign == 0 {
		return nil
	}
	return t.dyn.Load()
}

// Sweep goes through all memory and frees unmarked memory.
func sweep() {
	metadataEnd := unsafe.Add(metadataStart, (endBlock+(blocksPerStateByte-1))/blocksPerStateByte)
	var carry byte
	for meta := metadataStart; meta != metadataEnd; meta = unsafe.Add(meta, 1) {
		// Fetch the state byte.
		stateBytePtr := (*byte)(unsafe.Pointer(meta))
		stateByte := *stateBytePtr

		// Separate blocks by type.
		// Split the nibbles.
		// Each nibble is a mask of blocks.
		high := stateByte >> blocksPerStateByte
		low := stateByte & blockStateEach
		// Marked heads are in both nibbles.
		markedHeads := low & high
		// Unmarked heads are in the low nibble but not the high nibble.
		unmarkedHeads := low &^ high
		// Tails are in the high nibble but not the low nibble.
		tails := high &^ low

		// Clear all tail runs after unmarked (freed) heads.
		//
		// Adding 1 to the start of a bit run will clear the run and set the next bit:
		//   (2^k - 1) + 1 = 2^k
		//   e.g. 0b0011 + 1 = 0b0100
		// Bitwise-and with the original mask to clear the newly set bit.
		//   e.g. (0b0011 + 1) & 0b0011 = 0b0100 & 0b0011 = 0b0000
		// This will not clear bits after the run because the gap stops the carry:
		//   e.g. (0b1011 + 1) & 0b1011 = 0b1100 & 0b1011 = 0b1000
		// This can clear multiple runs in a single addition:
		//   e.g. (0b1101 + 0b0101) & 0b1101 = 0b10010 & 0b1101 = 0b0000
		//
		// In order to find tail run starts after unmarked heads we could use tails & (unmarkedHeads << 1).
		// It is possible omit the bitwise-and because the clear still works if the next block is not a tail.
		// A head is not a tail, so corresponding missing tail bit will stop the carry from a previous tail run.
		// As such it will set the next bit which will be cleared back away later.
		// e.g. HHTH: (0b0010 + (0b1101 << 1)) & 0b0010 = 0b11100 & 0b0010 = 0b0000
		//
		// Treat the whole heap as a single pair of integer masks.
		// This is accomplished for addition by carrying the overflow to the next state byte.
		// The unmarkedHeads << 1 is equivalent to unmarkedHeads + unmarkedHeads, so it can be merged with the sum.
		// This does not require any special work for the bitwise-and because it operates bitwise.
		tailClear := tails + (unmarkedHeads << 1) + carry
		carry = tailClear >> blocksPerStateByte
		tails &= tailClear

		// Construct the new state byte.
		*stateBytePtr = markedHeads | (tails << blocksPerStateByte)
	}
}

// sweepLarge reclaims unmarked externally tracked objects and unmarks the
// marked ones for the next cycle. Dying objects run their scheduled sweep
// function and fire the external-free notification; the backing memory is
// released by dropping the side-table entry.
func sweepLarge() {
	for obj, l := range largeObjects {
		hdr := l.header()
		if hdr.flags&objFlagMarked != 0 {
			hdr.flags &^= objFlagMarked
			continue
		}
		if hdr.flags&objFlagSweepScheduled != 0 {
			if d := foreignDescOf(hdr.typ); d != nil && d.sweep != nil {
				d.sweep(obj)
			}
		}
		delete(largeObjects, obj)
		invokeExternalFree(obj)
	}
}
