package gc

import (
	"testing"

	"github.com/tinygc/gcext/internal/task"
)

func TestCallbackOrdering(t *testing.T) {
	initTestHeap(t)

	tk := task.New(4096)
	AddTask(tk)
	defer RemoveTask(tk)

	var order []string
	pre := func(full bool) { order = append(order, "pre") }
	root := func(ctx *Context, full bool) { order = append(order, "root") }
	scan := func(ctx *Context, tk *task.Task, full bool) { order = append(order, "task") }
	post := func(full bool) { order = append(order, "post") }

	SetPreGC(pre, true)
	SetRootScanner(root, true)
	SetTaskScanner(scan, true)
	SetPostGC(post, true)
	defer func() {
		SetPreGC(pre, false)
		SetRootScanner(root, false)
		SetTaskScanner(scan, false)
		SetPostGC(post, false)
	}()

	Collect(true)

	want := []string{"pre", "root", "task", "post"}
	if len(order) != len(want) {
		t.Fatalf("callback sequence = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callback sequence = %v, want %v", order, want)
		}
	}
}

func TestCallbackFullFlag(t *testing.T) {
	initTestHeap(t)

	var got []bool
	pre := func(full bool) { got = append(got, full) }
	SetPreGC(pre, true)
	defer SetPreGC(pre, false)

	Collect(true)
	Collect(false)
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("full flags = %v, want [true false]", got)
	}
}

func TestCallbackIdempotent(t *testing.T) {
	initTestHeap(t)

	count := 0
	pre := func(full bool) { count++ }

	// Registering twice while enabled is a no-op: one invocation per cycle.
	SetPreGC(pre, true)
	SetPreGC(pre, true)
	Collect(false)
	if count != 1 {
		t.Errorf("listener invoked %d times after double registration, want 1", count)
	}

	// Disabling twice is a no-op too, and the listener stays inert.
	SetPreGC(pre, false)
	SetPreGC(pre, false)
	Collect(false)
	if count != 1 {
		t.Errorf("listener invoked %d times after disabling, want 1", count)
	}
}

func TestMultipleListeners(t *testing.T) {
	initTestHeap(t)

	var a, b int
	first := func(full bool) { a++ }
	second := func(full bool) { b++ }
	SetPostGC(first, true)
	SetPostGC(second, true)
	defer func() {
		SetPostGC(first, false)
		SetPostGC(second, false)
	}()

	Collect(false)
	if a != 1 || b != 1 {
		t.Errorf("listener invocations = (%d, %d), want (1, 1)", a, b)
	}

	SetPostGC(first, false)
	Collect(false)
	if a != 1 || b != 2 {
		t.Errorf("after disabling one listener: (%d, %d), want (1, 2)", a, b)
	}
}

func TestExternalAllocNotifications(t *testing.T) {
	initTestHeap(t)

	type allocEvent struct {
		addr Object
		size uintptr
	}
	var allocs []allocEvent
	var frees []Object
	onAlloc := func(addr Object, size uintptr) { allocs = append(allocs, allocEvent{addr, size}) }
	onFree := func(addr Object) { frees = append(frees, addr) }
	SetNotifyExternalAlloc(onAlloc, true)
	SetNotifyExternalFree(onFree, true)
	defer func() {
		SetNotifyExternalAlloc(onAlloc, false)
		SetNotifyExternalFree(onFree, false)
	}()

	ctx := MainContext()
	large, err := RegisterForeignType("LargeBlob", "gctest", TypeAny, nil, nil, false, true)
	if err != nil {
		t.Fatal(err)
	}

	kept := AllocateTyped(ctx, 100, large)
	dropped := AllocateTyped(ctx, 200, large)
	AddRoot(kept)

	if len(allocs) != 2 || allocs[0] != (allocEvent{kept, 100}) || allocs[1] != (allocEvent{dropped, 200}) {
		t.Fatalf("alloc notifications = %v, want the two large allocations", allocs)
	}

	// Pooled allocations are not external and must not notify.
	AllocateTyped(ctx, 32, TypeOpaque)
	if len(allocs) != 2 {
		t.Errorf("pooled allocation fired an external-alloc notification")
	}

	Collect(true)
	if len(frees) != 1 || frees[0] != dropped {
		t.Errorf("free notifications = %v, want exactly the dropped object", frees)
	}
	if largeObjects[kept] == nil {
		t.Error("rooted external object was reclaimed")
	}
	if largeObjects[dropped] != nil {
		t.Error("unreachable external object still tracked")
	}

	// The survivor dies once unrooted.
	RemoveRoot(kept)
	Collect(true)
	if len(frees) != 2 || frees[1] != kept {
		t.Errorf("free notifications after unrooting = %v, want both objects", frees)
	}
}

func TestLargeForeignSweep(t *testing.T) {
	initTestHeap(t)

	ctx := MainContext()
	var sweepCalls int
	typ, err := RegisterForeignType("LargeForeign", "gctest", TypeAny, nil,
		func(obj Object) { sweepCalls++ }, false, true)
	if err != nil {
		t.Fatal(err)
	}

	obj := AllocateTyped(ctx, 4096, typ)
	ScheduleForeignSweep(ctx, obj)
	Collect(true)
	if sweepCalls != 1 {
		t.Errorf("sweep function called %d times for a large foreign object, want 1", sweepCalls)
	}
}

func TestTaskScannerReceivesEachTask(t *testing.T) {
	initTestHeap(t)

	t1 := task.New(4096)
	t2 := task.New(4096)
	AddTask(t1)
	AddTask(t2)
	defer func() {
		RemoveTask(t1)
		RemoveTask(t2)
	}()

	seen := map[uint64]int{}
	scan := func(ctx *Context, tk *task.Task, full bool) { seen[tk.ID()]++ }
	SetTaskScanner(scan, true)
	defer SetTaskScanner(scan, false)

	Collect(false)
	if seen[t1.ID()] != 1 || seen[t2.ID()] != 1 {
		t.Errorf("task scanner invocations = %v, want once per task", seen)
	}

	RemoveTask(t2)
	Collect(false)
	if seen[t1.ID()] != 2 || seen[t2.ID()] != 1 {
		t.Errorf("after removing a task: %v, want the removed task not scanned again", seen)
	}
}

func TestTaskStackKeepsObjectAlive(t *testing.T) {
	initTestHeap(t)

	ctx := MainContext()
	obj := AllocateTyped(ctx, 64, TypeOpaque)

	tk := task.New(4096)
	AddTask(tk)
	defer RemoveTask(tk)

	// A word on the task stack referencing the object is found by the
	// conservative stack scan.
	tk.Push(uintptr(obj))
	Collect(true)
	if state := blockStateOf(obj); state != blockStateHead {
		t.Errorf("object referenced from a task stack was reclaimed (state %v)", state)
	}

	// Popping the frame makes the object unreachable again.
	tk.Pop(1)
	Collect(true)
	if state := blockStateOf(obj); state != blockStateFree {
		t.Errorf("object with no references still alive (state %v)", state)
	}
}

func TestPressureNotification(t *testing.T) {
	initTestHeap(t)

	pressured := 0
	onPressure := func() { pressured++ }
	SetNotifyPressure(onPressure, true)
	defer SetNotifyPressure(onPressure, false)

	// Fill the heap with rooted objects so collection cannot recover
	// headroom; the allocator must signal pressure while growing.
	ctx := MainContext()
	for i := 0; i < 512; i++ {
		AddRoot(AllocateTyped(ctx, 1024, TypeOpaque))
	}
	if pressured == 0 {
		t.Error("no pressure notification while the heap was forced to grow")
	}
}
