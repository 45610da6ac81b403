package gc

import (
	"testing"
	"unsafe"

	"github.com/tinygc/gcext/internal/task"
)

func TestActiveTaskStackIdle(t *testing.T) {
	initTestHeap(t)

	tk := task.New(8192)
	activeStart, activeEnd, totalStart, totalEnd := ActiveTaskStack(tk)

	if totalEnd-totalStart != 8192 {
		t.Errorf("total range = %d bytes, want the full 8192-byte reservation", totalEnd-totalStart)
	}
	// A task with no execution in progress has an empty active range.
	if activeStart != activeEnd {
		t.Errorf("active range = [%#x, %#x) for an idle task, want empty", activeStart, activeEnd)
	}
	if activeStart < totalStart || activeEnd > totalEnd {
		t.Errorf("active range [%#x, %#x) outside total range [%#x, %#x)",
			activeStart, activeEnd, totalStart, totalEnd)
	}
}

func TestActiveTaskStackContainment(t *testing.T) {
	initTestHeap(t)

	tk := task.New(8192)
	for frames := 1; frames <= 16; frames++ {
		tk.Push(uintptr(frames))

		activeStart, activeEnd, totalStart, totalEnd := ActiveTaskStack(tk)
		if activeStart < totalStart || activeEnd > totalEnd || activeStart > activeEnd {
			t.Fatalf("after %d pushes: active [%#x, %#x) not contained in total [%#x, %#x)",
				frames, activeStart, activeEnd, totalStart, totalEnd)
		}

		// The active range must cover every word the task pushed: a
		// conservative scanner restricted to it may over-scan but can never
		// miss a live slot.
		used := uintptr(frames) * unsafe.Sizeof(uintptr(0))
		if activeEnd-activeStart < used {
			t.Fatalf("after %d pushes: active range %d bytes, in use %d bytes (live roots would be missed)",
				frames, activeEnd-activeStart, used)
		}
	}
}

func TestActiveTaskStackMatchesPushedWords(t *testing.T) {
	initTestHeap(t)

	tk := task.New(4096)
	tk.Push(0xdead, 0xbeef)

	activeStart, activeEnd, _, _ := ActiveTaskStack(tk)
	words := (activeEnd - activeStart) / unsafe.Sizeof(uintptr(0))
	if words != 2 {
		t.Errorf("active range holds %d words, want 2", words)
	}
	top := *(*uintptr)(unsafe.Pointer(activeStart))
	if top != 0xbeef {
		t.Errorf("top of stack = %#x, want the last pushed word", top)
	}
}
