// Package queue implements the bounded byte queue between the generation
// goroutine and the audio callback.
package queue

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Queue is a lock-free ring of bytes with a single producer and a single
// consumer. Push must only be called by the producer and Pop only by the
// consumer. Clear may be called by the producer while the consumer pops.
type Queue struct {
	_    cpu.CacheLinePad
	head atomic.Uint64
	_    cpu.CacheLinePad
	tail atomic.Uint64
	_    cpu.CacheLinePad
	buf  []byte
}

// New returns a queue that holds up to capacity bytes.
func New(capacity int) *Queue {
	return &Queue{buf: make([]byte, max(capacity, 1))}
}

// Cap returns the capacity of the queue.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Len returns the number of bytes ready to be popped.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push copies as many bytes of p as fit and returns their number.
func (q *Queue) Push(p []byte) int {
	tail := q.tail.Load()
	free := uint64(len(q.buf)) - (tail - q.head.Load())
	n := min(uint64(len(p)), free)
	if n == 0 {
		return 0
	}
	pos := tail % uint64(len(q.buf))
	copied := uint64(copy(q.buf[pos:], p[:n]))
	if copied < n {
		copy(q.buf, p[copied:n])
	}
	q.tail.Store(tail + n)
	return int(n)
}

// Pop copies up to len(p) bytes into p and returns their number. Bytes
// dropped by a concurrent Clear are not reported.
func (q *Queue) Pop(p []byte) int {
	head := q.head.Load()
	n := min(uint64(len(p)), q.tail.Load()-head)
	if n == 0 {
		return 0
	}
	pos := head % uint64(len(q.buf))
	copied := uint64(copy(p[:n], q.buf[pos:]))
	if copied < n {
		copy(p[copied:n], q.buf)
	}
	if !q.head.CompareAndSwap(head, head+n) {
		return 0
	}
	return int(n)
}

// Clear drops every byte in the queue.
func (q *Queue) Clear() {
	for {
		head := q.head.Load()
		if q.head.CompareAndSwap(head, q.tail.Load()) {
			return
		}
	}
}
