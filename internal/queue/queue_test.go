package queue_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/engine/internal/queue"
)

func TestPushPop(t *testing.T) {
	q := queue.New(8)
	assert.Equal(t, 8, q.Cap())
	assert.Equal(t, 5, q.Push([]byte{1, 2, 3, 4, 5}))
	assert.Equal(t, 3, q.Push([]byte{6, 7, 8, 9}))
	assert.Equal(t, 0, q.Push([]byte{10}))
	assert.Equal(t, 8, q.Len())

	out := make([]byte, 6)
	assert.Equal(t, 6, q.Pop(out))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, out)

	// wraps around the end of the ring.
	assert.Equal(t, 4, q.Push([]byte{11, 12, 13, 14}))
	out = make([]byte, 10)
	assert.Equal(t, 6, q.Pop(out))
	assert.Equal(t, []byte{7, 8, 11, 12, 13, 14}, out[:6])
	assert.Equal(t, 0, q.Pop(out))
	assert.Equal(t, 0, q.Len())
}

func TestClear(t *testing.T) {
	q := queue.New(4)
	q.Push([]byte{1, 2, 3})
	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Pop(make([]byte, 4)))
	assert.Equal(t, 4, q.Push([]byte{4, 5, 6, 7}))
}

func TestProducerConsumer(t *testing.T) {
	const total = 1 << 16
	q := queue.New(97)
	var wg sync.WaitGroup
	wg.Add(1)
	received := make([]byte, 0, total)
	go func() {
		defer wg.Done()
		buf := make([]byte, 13)
		for len(received) < total {
			n := q.Pop(buf)
			received = append(received, buf[:n]...)
		}
	}()
	sent := make([]byte, total)
	for i := range sent {
		sent[i] = byte(i % 251)
	}
	for p := sent; len(p) > 0; {
		n := q.Push(p[:min(len(p), 31)])
		p = p[n:]
	}
	wg.Wait()
	assert.Equal(t, sent, received)
}

func TestNoAllocs(t *testing.T) {
	q := queue.New(1024)
	in, out := make([]byte, 512), make([]byte, 512)
	allocs := testing.AllocsPerRun(100, func() {
		q.Push(in)
		q.Pop(out)
	})
	assert.Equal(t, 0.0, allocs)
}
