package gc

// The heap lives in a single contiguous arena reserved up front at the
// configured maximum size. heapEnd only ever moves up inside the reservation
// (see growHeap); the metadata area is recomputed and copied on each grow.

var (
	heapStart     uintptr // address of the first heap byte
	heapEnd       uintptr // address just past the used part of the arena
	arenaLimit    uintptr // address just past the reservation; heapEnd <= arenaLimit
	growthPercent int     // how much to grow the heap by, relative to its size
)

// growHeap tries to grow the heap within the reservation. It returns whether
// the heap could be grown at all.
func growHeap() bool {
	if heapEnd >= arenaLimit {
		// The reservation is exhausted.
		return false
	}

	// Grow the heap by the configured percentage, but at least one block.
	increase := (heapEnd - heapStart) * uintptr(growthPercent) / 100
	if increase < bytesPerBlock {
		increase = bytesPerBlock
	}
	// Round up to 4KB so the metadata area keeps ending on a word boundary
	// (the mark transition operates on whole 32-bit metadata words).
	newHeapEnd := (heapEnd + increase + 4095) &^ 4095
	if newHeapEnd > arenaLimit || newHeapEnd < heapEnd {
		newHeapEnd = arenaLimit
	}
	setHeapEnd(newHeapEnd)
	return true
}
