package gc

import (
	"github.com/tinygc/gcext/internal/task"
)

// taskList holds every task whose stack the collector scans. Channel or
// scheduler activity may move tasks between queues while the collector is
// idle, so the scan pops each task off, scans it, and restores the queue
// afterwards.
var taskList task.Queue

func resetTasks() {
	for taskList.Pop() != nil {
	}
}

// AddTask registers a task so its stack is scanned on every collection
// cycle.
func AddTask(t *task.Task) {
	taskList.Push(t)
}

// RemoveTask unregisters a task. Its stack is no longer a source of roots;
// anything only reachable from it becomes collectable.
func RemoveTask(t *task.Task) {
	var kept task.Queue
	for {
		popped := taskList.Pop()
		if popped == nil {
			break
		}
		if popped != t {
			kept.Push(popped)
		}
	}
	taskList.Append(&kept)
}

// scanTasks runs the task scanner callbacks for every registered task and
// conservatively scans each task's active stack region.
func scanTasks(ctx *Context, full bool) {
	var scanned task.Queue
	for {
		t := taskList.Pop()
		if t == nil {
			break
		}

		invokeTaskScanners(ctx, t, full)

		activeStart, activeEnd, _, _ := ActiveTaskStack(t)
		if activeEnd > activeStart {
			scanConservative(ctx, activeStart, activeEnd-activeStart)
		}

		scanned.Push(t)
	}
	taskList.Append(&scanned)
}

// ActiveTaskStack reports the extents of a task's execution stack: the total
// reserved region and the currently in-use (active) part of it. The active
// range is a best-effort approximation. It may be wider than the memory the
// task actually uses, but it is never narrower: a conservative scanner that
// covers it cannot miss a live root. For a task with no execution in
// progress the active range is empty.
func ActiveTaskStack(t *task.Task) (activeStart, activeEnd, totalStart, totalEnd uintptr) {
	totalStart, totalEnd = t.StackBounds()
	sp := t.SP()
	if sp == 0 {
		// Never ran: nothing is in use.
		return totalEnd, totalEnd, totalStart, totalEnd
	}
	if gcAsserts && (sp < totalStart || sp > totalEnd) {
		runtimePanic("gc: task stack pointer outside its reservation")
	}
	return sp, totalEnd, totalStart, totalEnd
}
