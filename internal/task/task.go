// Package task provides the execution contexts the collector scans: each
// Task owns a reserved stack region and records how much of it is in use.
// The scheduler that would normally drive these tasks is out of scope; the
// embedder advances task state explicitly.
package task

import (
	"sync/atomic"
	"unsafe"
)

// stackCanary is stored at the lowest address of every stack reservation and
// checked when the stack pointer moves. If it is overwritten, a stack
// overflow has occurred.
const stackCanary = uintptr(uint64(0x670c1333b83bf575))

var nextID uint64

// A Task is one execution context. Its stack grows downward inside a fixed
// reservation: total extent [StackBounds], in-use extent [SP, high bound).
type Task struct {
	// Next is the next task in a linked list of tasks, such as a Queue.
	Next *Task

	id    uint64
	stack []byte
	sp    uintptr // current stack pointer; 0 while the task has never run
}

// New reserves a stack of the given size and returns a task that has not yet
// executed anything: its active stack region is empty.
func New(stackSize uintptr) *Task {
	if stackSize < unsafe.Sizeof(uintptr(0))*2 {
		stackSize = unsafe.Sizeof(uintptr(0)) * 2
	}
	t := &Task{
		id:    atomic.AddUint64(&nextID, 1),
		stack: make([]byte, stackSize),
	}
	*(*uintptr)(unsafe.Pointer(&t.stack[0])) = stackCanary
	return t
}

// ID returns the task's process-unique identifier.
func (t *Task) ID() uint64 { return t.id }

// StackBounds returns the total extent of the stack reservation,
// [low, high).
func (t *Task) StackBounds() (low, high uintptr) {
	low = uintptr(unsafe.Pointer(&t.stack[0]))
	return low, low + uintptr(len(t.stack))
}

// SP returns the saved stack pointer, or 0 if the task has never run.
func (t *Task) SP() uintptr {
	return t.sp
}

// Push writes the given words onto the task's stack, moving the stack
// pointer down, as an executing frame would. It is how an embedder (or a
// test) places values where a conservative stack scan will see them.
func (t *Task) Push(words ...uintptr) {
	low, high := t.StackBounds()
	sp := t.sp
	if sp == 0 {
		sp = high
	}
	for _, w := range words {
		sp -= unsafe.Sizeof(w)
		if sp <= low {
			panic("task: stack overflow")
		}
		*(*uintptr)(unsafe.Pointer(sp)) = w
	}
	t.setSP(sp)
}

// Pop discards n words from the top of the stack.
func (t *Task) Pop(n int) {
	if t.sp == 0 {
		return
	}
	_, high := t.StackBounds()
	sp := t.sp + uintptr(n)*unsafe.Sizeof(uintptr(0))
	if sp >= high {
		sp = 0 // back to never-ran: empty active region
	}
	t.sp = sp
}

// setSP records a new stack pointer, checking the canary at the lowest
// address of the reservation.
func (t *Task) setSP(sp uintptr) {
	if *(*uintptr)(unsafe.Pointer(&t.stack[0])) != stackCanary {
		panic("task: stack overflow")
	}
	t.sp = sp
}
