package gc

import (
	"fmt"
	"unsafe"

	"github.com/inhies/go-bytesize"
)

// MemStats records statistics about the memory allocator and the collector.
type MemStats struct {
	// Sys is the total arena obtained from the system, including metadata.
	Sys uint64

	// HeapSys is the part of the arena usable for allocations.
	HeapSys uint64

	// GCSys is the block metadata overhead.
	GCSys uint64

	// HeapInuse, HeapAlloc and Alloc are the bytes in live pooled blocks.
	HeapInuse uint64
	HeapAlloc uint64
	Alloc     uint64

	// HeapIdle is the free pooled space.
	HeapIdle uint64

	// ExternalSys is the bytes held by externally tracked (large) objects.
	ExternalSys uint64

	// ExternalObjects is the number of externally tracked objects alive.
	ExternalObjects uint64

	// TotalAlloc is the cumulative bytes allocated, Mallocs and Frees the
	// cumulative allocation and reclamation counts.
	TotalAlloc uint64
	Mallocs    uint64
	Frees      uint64

	// NumGC is the number of completed collection cycles. MarkedObjects and
	// MarkedEdges describe the most recent cycle.
	NumGC         uint64
	MarkedObjects uint64
	MarkedEdges   uint64
}

// ReadMemStats populates m with memory statistics.
//
// The returned memory statistics are up to date as of the
// call to ReadMemStats. This would not do GC implicitly for you.
func ReadMemStats(m *MemStats) {
	gcLock.Lock()

	// Calculate the raw size of the heap.
	m.Sys = uint64(heapEnd - heapStart)
	m.HeapSys = uint64(uintptr(metadataStart) - heapStart)
	m.GCSys = uint64(heapEnd - uintptr(metadataStart))

	// Count live heads and tails.
	var liveHeads, liveTails uintptr
	metadataEnd := unsafe.Add(metadataStart, (endBlock+(blocksPerStateByte-1))/blocksPerStateByte)
	for meta := metadataStart; meta != metadataEnd; meta = unsafe.Add(meta, 1) {
		// Since we are outside of a GC, nothing is marked.
		// A bit in the low nibble implies a head.
		// A bit in the high nibble implies a tail.
		stateByte := *(*byte)(unsafe.Pointer(meta))
		liveHeads += uintptr(count4LUT[stateByte&blockStateEach])
		liveTails += uintptr(count4LUT[stateByte>>blocksPerStateByte])
	}

	// Add heads and tails to count live blocks.
	liveBlocks := liveHeads + liveTails
	liveBytes := uint64(liveBlocks * bytesPerBlock)
	m.HeapInuse = liveBytes
	m.HeapAlloc = liveBytes
	m.Alloc = liveBytes

	// Subtract live blocks from total blocks to count free blocks.
	freeBlocks := uintptr(endBlock) - liveBlocks
	m.HeapIdle = uint64(freeBlocks * bytesPerBlock)

	// Externally tracked objects.
	m.ExternalObjects = uint64(len(largeObjects))
	var externalBytes uint64
	for _, l := range largeObjects {
		externalBytes += uint64(len(l.buf))
	}
	m.ExternalSys = externalBytes

	// Record the number of allocated objects.
	m.Mallocs = gcMallocs

	// Subtract live objects from allocated objects to count freed objects.
	m.Frees = gcMallocs - uint64(liveHeads) - m.ExternalObjects

	// Record the total allocated bytes.
	m.TotalAlloc = gcTotalAlloc

	m.NumGC = gcCycles
	m.MarkedObjects = lastMarked
	m.MarkedEdges = lastEdges

	gcLock.Unlock()
}

// String renders the statistics in human-readable sizes.
func (m *MemStats) String() string {
	bs := func(v uint64) bytesize.ByteSize { return bytesize.New(float64(v)) }
	return fmt.Sprintf(
		"heap %s/%s in use, %s idle, %s metadata, %s external (%d objects), %d cycles",
		bs(m.HeapInuse), bs(m.HeapSys), bs(m.HeapIdle), bs(m.GCSys),
		bs(m.ExternalSys), m.ExternalObjects, m.NumGC)
}

// count4LUT is a lookup table used to count set bits in a 4-bit mask.
var count4LUT = [16]uint8{
	0b0000: 0,
	0b0001: 1,
	0b0010: 1,
	0b0011: 2,
	0b0100: 1,
	0b0101: 2,
	0b0110: 2,
	0b0111: 3,
	0b1000: 1,
	0b1001: 2,
	0b1010: 2,
	0b1011: 3,
	0b1100: 2,
	0b1101: 3,
	0b1110: 3,
	0b1111: 4,
}
