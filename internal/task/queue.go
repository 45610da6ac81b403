package task

import "sync"

const asserts = false

// queueLock guards the Next links of all tasks. A single lock is enough:
// queue operations are short and tasks move between few queues.
var queueLock sync.Mutex

// Queue is a FIFO container of tasks.
// The zero value is an empty queue.
type Queue struct {
	head, tail *Task
}

// Push a task onto the queue.
func (q *Queue) Push(t *Task) {
	queueLock.Lock()
	if asserts && t.Next != nil {
		queueLock.Unlock()
		panic("task: pushing a task to a queue with a non-nil Next pointer")
	}
	if q.tail != nil {
		q.tail.Next = t
	}
	q.tail = t
	t.Next = nil
	if q.head == nil {
		q.head = t
	}
	queueLock.Unlock()
}

// Pop a task off of the queue.
func (q *Queue) Pop() *Task {
	queueLock.Lock()
	t := q.head
	if t == nil {
		queueLock.Unlock()
		return nil
	}
	q.head = t.Next
	if q.tail == t {
		q.tail = nil
	}
	t.Next = nil
	queueLock.Unlock()
	return t
}

// Append pops the contents of another queue and pushes them onto the end of this queue.
func (q *Queue) Append(other *Queue) {
	queueLock.Lock()
	if q.head == nil {
		q.head = other.head
	} else {
		q.tail.Next = other.head
	}
	if other.tail != nil {
		q.tail = other.tail
	}
	other.head, other.tail = nil, nil
	queueLock.Unlock()
}

// Empty checks if the queue is empty.
func (q *Queue) Empty() bool {
	queueLock.Lock()
	empty := q.head == nil
	queueLock.Unlock()
	return empty
}

// Stack is a LIFO container of tasks.
// The zero value is an empty stack.
// This is slightly cheaper than a queue, so it can be preferable when strict ordering is not necessary.
type Stack struct {
	top *Task
}

// Push a task onto the stack.
func (s *Stack) Push(t *Task) {
	queueLock.Lock()
	if asserts && t.Next != nil {
		queueLock.Unlock()
		panic("task: pushing a task to a stack with a non-nil Next pointer")
	}
	s.top, t.Next = t, s.top
	queueLock.Unlock()
}

// Pop a task off of the stack.
func (s *Stack) Pop() *Task {
	queueLock.Lock()
	t := s.top
	if t != nil {
		s.top = t.Next
		t.Next = nil
	}
	queueLock.Unlock()
	return t
}
