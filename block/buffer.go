package block

import "unsafe"

// Buffer owns a pooled allocation of planar float32 channels. The zero
// value holds nothing and must be sized with Resize before use.
type Buffer struct {
	pool   *Pool
	header *Header
}

// NewBuffer acquires a buffer from the pool.
func NewBuffer(pool *Pool, channelByteSize int, sampleRate uint, channels Arrangement) Buffer {
	return Buffer{
		pool:   pool,
		header: pool.Acquire(channelByteSize, sampleRate, channels),
	}
}

// Resize makes the buffer hold data of the given layout. The allocation is
// reused when it is big enough and comes from the same pool.
func (b *Buffer) Resize(pool *Pool, channelByteSize int, sampleRate uint, channels Arrangement) {
	size := channelByteSize * int(channels)
	if h := b.header; h != nil && b.pool == pool && size <= h.capacity {
		h.size = size
		h.channelByteSize = channelByteSize
		h.sampleRate = sampleRate
		h.channels = channels
		return
	}
	b.Release()
	b.pool = pool
	b.header = pool.Acquire(channelByteSize, sampleRate, channels)
}

// Release hands the allocation back to the pool.
func (b *Buffer) Release() {
	if b.header == nil {
		return
	}
	b.pool.Release(b.header)
	b.header = nil
}

// Allocated reports whether the buffer holds an allocation.
func (b *Buffer) Allocated() bool {
	return b.header != nil
}

// Header returns the allocation header.
func (b *Buffer) Header() *Header {
	return b.header
}

// View returns a non-owning view of the buffer.
func (b *Buffer) View() View {
	return View{header: b.header}
}

// Clear zeroes the data in use.
func (b *Buffer) Clear() {
	b.View().Clear()
}

// View is a non-owning handle to buffer data. Views are passed between
// tasks and must not outlive the buffer they come from.
type View struct {
	header *Header
	// frames limits the samples in use, zero means all of them.
	frames int
}

// Crop returns a view of the first frames samples of every channel.
func (v View) Crop(frames int) View {
	if frames <= 0 || frames >= v.capacity() {
		v.frames = 0
		return v
	}
	v.frames = frames
	return v
}

// Valid reports whether the view points at data.
func (v View) Valid() bool {
	return v.header != nil
}

// Channels returns the number of channels.
func (v View) Channels() int {
	if v.header == nil {
		return 0
	}
	return int(v.header.channels)
}

// Frames returns the number of samples per channel.
func (v View) Frames() int {
	if v.frames > 0 {
		return v.frames
	}
	return v.capacity()
}

func (v View) capacity() int {
	if v.header == nil {
		return 0
	}
	return v.header.channelByteSize / SampleBytes
}

// SampleRate returns the sample rate of the data.
func (v View) SampleRate() uint {
	if v.header == nil {
		return 0
	}
	return v.header.sampleRate
}

// Channel returns the samples of channel i.
func (v View) Channel(i int) []float32 {
	cbs := v.header.channelByteSize
	if cbs == 0 {
		return nil
	}
	data := v.header.data[i*cbs : (i+1)*cbs]
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(data))), v.Frames())
}

// Clear zeroes every channel.
func (v View) Clear() {
	if v.header == nil {
		return
	}
	clear(v.header.data[:v.header.size])
}

// CopyFrom copies samples of every common channel from src.
func (v View) CopyFrom(src View) {
	n := min(v.Channels(), src.Channels())
	for i := 0; i < n; i++ {
		copy(v.Channel(i), src.Channel(i))
	}
}

// Interleave encodes the first frames samples of every channel into dst in
// the given format and returns the number of bytes written.
func (v View) Interleave(dst []byte, format Format, frames int) int {
	channels := v.Channels()
	size := format.Size()
	frames = min(frames, v.Frames(), len(dst)/max(channels*size, 1))
	for c := 0; c < channels; c++ {
		samples := v.Channel(c)
		for i, pos := 0, c*size; i < frames; i, pos = i+1, pos+channels*size {
			format.Put(dst[pos:], samples[i])
		}
	}
	return frames * channels * size
}
