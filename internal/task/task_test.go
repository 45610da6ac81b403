package task

import (
	"testing"
	"unsafe"
)

func TestNewTask(t *testing.T) {
	t1 := New(4096)
	t2 := New(4096)
	if t1.ID() == t2.ID() {
		t.Error("tasks share an ID")
	}
	low, high := t1.StackBounds()
	if high-low != 4096 {
		t.Errorf("stack reservation = %d bytes, want 4096", high-low)
	}
	if t1.SP() != 0 {
		t.Errorf("fresh task SP = %#x, want 0 (never ran)", t1.SP())
	}
}

func TestPushPop(t *testing.T) {
	tk := New(4096)
	_, high := tk.StackBounds()
	wordSize := unsafe.Sizeof(uintptr(0))

	tk.Push(1, 2, 3)
	if got := tk.SP(); got != high-3*wordSize {
		t.Errorf("SP after 3 pushes = %#x, want %#x", got, high-3*wordSize)
	}
	// The stack grows down: the last pushed word is at SP.
	if got := *(*uintptr)(unsafe.Pointer(tk.SP())); got != 3 {
		t.Errorf("word at SP = %d, want 3", got)
	}

	tk.Pop(2)
	if got := tk.SP(); got != high-wordSize {
		t.Errorf("SP after popping 2 = %#x, want %#x", got, high-wordSize)
	}
	tk.Pop(1)
	if tk.SP() != 0 {
		t.Errorf("SP after popping everything = %#x, want 0", tk.SP())
	}
}

func TestStackOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("pushing past the reservation did not panic")
		}
	}()
	tk := New(64)
	for i := 0; i < 64; i++ {
		tk.Push(uintptr(i))
	}
}
