package beat

import (
	"math"
	"sync/atomic"
)

// Tracker follows the musical position of audio as it is consumed. The
// consumer pops chunks whose size is driven by the hardware, so the tracker
// keeps its own accumulator keyed to the chunk size it last saw.
//
// Tick must only be called from the consuming goroutine. All other methods
// are safe to call from any goroutine.
type Tracker struct {
	tempo      atomic.Uint64
	sampleRate atomic.Uint64
	elapsed    atomic.Uint32
	// pending holds a reset position above the pendingBit until the next tick.
	pending atomic.Uint64
	loop    atomic.Uint64

	// consumer side state.
	frames   int
	applied  float64
	rate     uint
	size     Beat
	fraction float64
	miss     float64
	offset   float64
}

const pendingBit = 1 << 32

// NewTracker returns a tracker for the given tempo and sample rate.
func NewTracker(tempo float64, sampleRate uint, offset float64) *Tracker {
	t := Tracker{offset: offset, miss: offset}
	t.SetTempo(tempo)
	t.SetSampleRate(sampleRate)
	return &t
}

// SetTempo changes the tempo used for next ticks.
func (t *Tracker) SetTempo(tempo float64) {
	t.tempo.Store(math.Float64bits(tempo))
}

// SetSampleRate changes the sample rate used for next ticks.
func (t *Tracker) SetSampleRate(sampleRate uint) {
	t.sampleRate.Store(uint64(sampleRate))
}

// SetLoop makes the position jump back to the start of r when a tick
// crosses its end. An empty range disables it.
func (t *Tracker) SetLoop(r Range) {
	t.loop.Store(r.Pack())
}

// Reset moves the elapsed position to b. The next tick counts from b even
// if a tick runs concurrently with Reset. The accumulator is reset too.
func (t *Tracker) Reset(b Beat) {
	t.elapsed.Store(uint32(b))
	t.pending.Store(pendingBit | uint64(uint32(b)))
}

// Elapsed returns the position of the last consumed sample.
func (t *Tracker) Elapsed() Beat {
	return Beat(t.elapsed.Load())
}

// Tick accounts for frames consumed and returns the new position.
func (t *Tracker) Tick(frames int) Beat {
	if p := t.pending.Swap(0); p != 0 {
		t.elapsed.Store(uint32(p))
		t.miss = t.offset
	}
	if frames <= 0 {
		return t.Elapsed()
	}
	tempo := math.Float64frombits(t.tempo.Load())
	rate := uint(t.sampleRate.Load())
	if frames != t.frames || tempo != t.applied || rate != t.rate {
		size, fraction, err := BlockBeats(frames, tempo, rate)
		if err != nil {
			return t.Elapsed()
		}
		t.frames, t.applied, t.rate = frames, tempo, rate
		t.size, t.fraction = size, fraction
	}
	size := t.size
	t.miss += t.fraction
	if t.miss >= 1 {
		t.miss--
		size++
	}
	before := t.Elapsed()
	elapsed := before + size
	if loop := Unpack(t.loop.Load()); !loop.Empty() && before < loop.To && elapsed >= loop.To {
		elapsed = loop.From + elapsed - loop.To
	}
	t.elapsed.Store(uint32(elapsed))
	return elapsed
}
