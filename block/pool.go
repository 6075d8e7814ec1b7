package block

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	// DefaultMinPower is the power of two of the smallest bucket.
	DefaultMinPower = 6
	// DefaultMaxPower is the power of two of the largest bucket.
	DefaultMaxPower = 30
	// OutOfRange is the bucket index of buffers allocated outside of the
	// pool. Such buffers are dropped on release.
	OutOfRange = -1

	alignment = 64
)

// Header describes a pooled allocation. While a header sits in a free list
// it belongs to the pool, otherwise it belongs to exactly one Buffer.
type Header struct {
	bucket          int
	capacity        int
	size            int
	channelByteSize int
	sampleRate      uint
	channels        Arrangement
	data            []byte
	next            atomic.Pointer[Header]
}

// Bucket returns the index of the bucket the header belongs to.
func (h *Header) Bucket() int {
	return h.bucket
}

// Capacity returns the number of bytes available.
func (h *Header) Capacity() int {
	return h.capacity
}

// Size returns the number of bytes in use.
func (h *Header) Size() int {
	return h.size
}

// ChannelByteSize returns the size of a single channel.
func (h *Header) ChannelByteSize() int {
	return h.channelByteSize
}

// SampleRate returns the sample rate of the audio held.
func (h *Header) SampleRate() uint {
	return h.sampleRate
}

// Channels returns the channel arrangement of the audio held.
func (h *Header) Channels() Arrangement {
	return h.channels
}

// Bytes returns the data in use.
func (h *Header) Bytes() []byte {
	return h.data[:h.size]
}

type bucket struct {
	_    cpu.CacheLinePad
	head atomic.Pointer[Header]
	free atomic.Int64
	_    cpu.CacheLinePad
}

// push and pop are lock-free. A header must never be pushed while it is
// still reachable from a live Buffer.
func (b *bucket) push(h *Header) {
	for {
		head := b.head.Load()
		h.next.Store(head)
		if b.head.CompareAndSwap(head, h) {
			b.free.Add(1)
			return
		}
	}
}

func (b *bucket) pop() *Header {
	for {
		head := b.head.Load()
		if head == nil {
			return nil
		}
		if b.head.CompareAndSwap(head, head.next.Load()) {
			head.next.Store(nil)
			b.free.Add(-1)
			return head
		}
	}
}

// Pool hands out audio buffers from power of two size classes. Acquire and
// Release never lock, so they are safe to call on the real-time path once
// buckets are warm.
type Pool struct {
	minPower    int
	maxPower    int
	buckets     []bucket
	allocations atomic.Int64
	dropped     atomic.Int64
}

// Option configures the pool.
type Option func(*Pool)

// WithMinPower sets the power of two of the smallest bucket.
func WithMinPower(power int) Option {
	return func(p *Pool) {
		p.minPower = power
	}
}

// WithMaxPower sets the power of two of the largest bucket.
func WithMaxPower(power int) Option {
	return func(p *Pool) {
		p.maxPower = power
	}
}

// NewPool creates a pool. Powers are clamped so at least one bucket exists.
func NewPool(options ...Option) *Pool {
	p := Pool{
		minPower: DefaultMinPower,
		maxPower: DefaultMaxPower,
	}
	for _, option := range options {
		option(&p)
	}
	if p.minPower < 0 {
		p.minPower = 0
	}
	if p.maxPower < p.minPower {
		p.maxPower = p.minPower
	}
	p.buckets = make([]bucket, p.maxPower-p.minPower+1)
	return &p
}

// BucketIndex returns the bucket that serves allocations of size bytes or
// OutOfRange when size exceeds the largest bucket.
func (p *Pool) BucketIndex(size int) int {
	if size <= 1<<p.minPower {
		return 0
	}
	if size > 1<<p.maxPower {
		return OutOfRange
	}
	return bits.Len(uint(size-1)) - p.minPower
}

// BucketCapacity returns the allocation size of the bucket.
func (p *Pool) BucketCapacity(index int) int {
	return 1 << (index + p.minPower)
}

// Buckets returns the number of buckets.
func (p *Pool) Buckets() int {
	return len(p.buckets)
}

// Acquire returns a header with room for every channel. It reuses a free
// header of the matching bucket and falls back to a direct allocation.
func (p *Pool) Acquire(channelByteSize int, sampleRate uint, channels Arrangement) *Header {
	size := channelByteSize * int(channels)
	index := p.BucketIndex(size)
	var h *Header
	if index == OutOfRange {
		h = p.allocate(index, size)
	} else if h = p.buckets[index].pop(); h == nil {
		h = p.allocate(index, p.BucketCapacity(index))
	}
	h.size = size
	h.channelByteSize = channelByteSize
	h.sampleRate = sampleRate
	h.channels = channels
	return h
}

// Release returns the header to its bucket. Out of range headers are left
// to the garbage collector.
func (p *Pool) Release(h *Header) {
	if h == nil {
		return
	}
	if h.bucket == OutOfRange {
		p.dropped.Add(1)
		return
	}
	p.buckets[h.bucket].push(h)
}

// Clear drains every free list and returns the number of headers dropped.
// It must not be called concurrently with Acquire or Release.
func (p *Pool) Clear() int {
	var n int
	for i := range p.buckets {
		h := p.buckets[i].head.Swap(nil)
		p.buckets[i].free.Store(0)
		for h != nil {
			next := h.next.Load()
			h.next.Store(nil)
			h.data = nil
			h = next
			n++
		}
	}
	p.dropped.Add(int64(n))
	return n
}

// Free returns the number of headers in the bucket free list.
func (p *Pool) Free(index int) int {
	if index < 0 || index >= len(p.buckets) {
		return 0
	}
	return int(p.buckets[index].free.Load())
}

// Allocations returns the number of direct allocations made so far.
func (p *Pool) Allocations() int64 {
	return p.allocations.Load()
}

// Dropped returns the number of headers handed back to the runtime.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pool) allocate(index, capacity int) *Header {
	p.allocations.Add(1)
	raw := make([]byte, capacity+alignment)
	offset := int(-uintptr(unsafe.Pointer(unsafe.SliceData(raw))) & (alignment - 1))
	return &Header{
		bucket:   index,
		capacity: capacity,
		data:     raw[offset : offset+capacity : offset+capacity],
	}
}
