//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package gc

import "unsafe"

// arenaMapping keeps the arena reachable for the lifetime of the process.
var arenaMapping []byte

// reserveArena allocates the arena as ordinary memory on platforms without
// mmap. Unlike the mapped variant this commits the whole maximum heap size up
// front.
func reserveArena(size uintptr) (start, limit uintptr, err error) {
	arenaMapping = make([]byte, size)
	start = uintptr(unsafe.Pointer(&arenaMapping[0]))
	return start, start + size, nil
}
