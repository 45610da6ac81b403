//go:build linux || darwin || freebsd || netbsd || openbsd

package gc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// arenaMapping keeps the mapping reachable for the lifetime of the process.
// Reinitializing the heap unmaps the previous arena first.
var arenaMapping []byte

// reserveArena maps an anonymous region of the given size and returns its
// bounds. The mapping is committed lazily by the kernel, so reserving a large
// maximum heap is cheap until the heap actually grows into it.
func reserveArena(size uintptr) (start, limit uintptr, err error) {
	if arenaMapping != nil {
		unix.Munmap(arenaMapping)
		arenaMapping = nil
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, 0, err
	}
	arenaMapping = mem
	start = uintptr(unsafe.Pointer(&mem[0]))
	return start, start + size, nil
}
