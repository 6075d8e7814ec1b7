package beat_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/beat"
)

func TestRange(t *testing.T) {
	r := beat.Range{From: 100, To: 200}
	assert.Equal(t, beat.Beat(100), r.Size())
	assert.False(t, r.Empty())
	assert.True(t, r.Contains(100))
	assert.True(t, r.Contains(199))
	assert.False(t, r.Contains(200))
	assert.True(t, r.Overlaps(beat.Range{From: 199, To: 300}))
	assert.False(t, r.Overlaps(beat.Range{From: 200, To: 300}))
	assert.Equal(t, beat.Range{From: 110, To: 210}, r.Shift(10))
	assert.Equal(t, r, beat.Unpack(r.Pack()))
	assert.Equal(t, "(100:200)", r.String())
	assert.Equal(t, beat.Beat(0), beat.Range{From: 5, To: 1}.Size())
}

func TestBlockBeats(t *testing.T) {
	tests := []struct {
		blockSize  int
		tempo      float64
		sampleRate uint
		size       beat.Beat
		fraction   float64
		err        error
	}{
		{blockSize: 4096, tempo: 240, sampleRate: 48000, size: 43, fraction: 0.690666},
		{blockSize: 48000, tempo: 60, sampleRate: 48000, size: beat.Precision},
		{blockSize: 1024, tempo: 120, sampleRate: 44100, size: 5, fraction: 0.944036},
		{blockSize: 0, tempo: 120, sampleRate: 44100, err: beat.ErrInvalidBlockSize},
		{blockSize: 512, tempo: 0, sampleRate: 44100, err: beat.ErrInvalidTempo},
		{blockSize: 512, tempo: math.NaN(), sampleRate: 44100, err: beat.ErrInvalidTempo},
		{blockSize: 512, tempo: math.Inf(1), sampleRate: 44100, err: beat.ErrInvalidTempo},
		{blockSize: 512, tempo: 120, sampleRate: 0, err: beat.ErrInvalidSampleRate},
	}
	for _, test := range tests {
		size, fraction, err := beat.BlockBeats(test.blockSize, test.tempo, test.sampleRate)
		if test.err != nil {
			assert.ErrorIs(t, err, test.err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, test.size, size)
		assert.InDelta(t, test.fraction, fraction, 1e-6)
	}
}

func TestBlockSize(t *testing.T) {
	size, err := beat.BlockSize(beat.Precision, 60, 48000)
	require.NoError(t, err)
	assert.Equal(t, 48000, size)

	_, err = beat.BlockSize(0, 60, 48000)
	assert.ErrorIs(t, err, beat.ErrInvalidBlockSize)
	_, err = beat.BlockSize(1, -1, 48000)
	assert.ErrorIs(t, err, beat.ErrInvalidTempo)
}

func TestClockAccuracy(t *testing.T) {
	tests := []struct {
		blockSize  int
		tempo      float64
		sampleRate uint
		blocks     int
	}{
		{blockSize: 4096, tempo: 240, sampleRate: 48000, blocks: 1000},
		{blockSize: 512, tempo: 120, sampleRate: 44100, blocks: 10000},
		{blockSize: 1000, tempo: 97.3, sampleRate: 96000, blocks: 3333},
		{blockSize: 64, tempo: 300, sampleRate: 22050, blocks: 50000},
	}
	for _, test := range tests {
		clock := beat.NewClock(beat.DefaultMissOffset)
		require.NoError(t, clock.Configure(test.blockSize, test.tempo, test.sampleRate))
		exact := float64(test.blockSize) * test.tempo / 60 * beat.Precision / float64(test.sampleRate)

		var r beat.Range
		for i := 1; i <= test.blocks; i++ {
			next := clock.Advance(r)
			assert.Equal(t, r.To, next.From)
			size := next.Size()
			assert.True(t, size == clock.Size() || size == clock.Size()+1, "block size %v", size)
			r = next
			expected := math.Round(float64(i) * exact)
			assert.InDelta(t, expected, float64(r.To), 1, "after %d blocks", i)
		}
	}
}

func TestClockAlternates(t *testing.T) {
	clock := beat.NewClock(beat.DefaultMissOffset)
	require.NoError(t, clock.Configure(4096, 240, 48000))

	var (
		r     beat.Range
		sizes = map[beat.Beat]int{}
	)
	for i := 0; i < 1000; i++ {
		r = clock.Advance(r)
		sizes[r.Size()]++
	}
	assert.Len(t, sizes, 2)
	assert.Equal(t, 1000, sizes[43]+sizes[44])
	assert.InDelta(t, math.Round(1000*43.690666), float64(r.To), 1)
}

func TestClockReconfigure(t *testing.T) {
	clock := beat.NewClock(beat.DefaultMissOffset)
	require.NoError(t, clock.Configure(4096, 240, 48000))
	r := clock.Advance(beat.Range{})
	r = clock.Advance(r)

	require.NoError(t, clock.Configure(4096, 120, 48000))
	next := clock.Advance(r)
	assert.Equal(t, r.To, next.From)
	assert.Equal(t, beat.Beat(21), clock.Size())
	assert.InDelta(t, 0.845333, clock.Fraction(), 1e-6)

	err := clock.Configure(4096, -5, 48000)
	assert.ErrorIs(t, err, beat.ErrInvalidTempo)
	assert.Equal(t, 120.0, clock.Tempo())
}

func TestClockReset(t *testing.T) {
	clock := beat.NewClock(0.25)
	require.NoError(t, clock.Configure(4096, 240, 48000))
	clock.Advance(beat.Range{})
	assert.NotEqual(t, 0.25, clock.Miss())
	clock.Reset()
	assert.Equal(t, 0.25, clock.Miss())
}

func TestClockFrames(t *testing.T) {
	clock := beat.NewClock(beat.DefaultMissOffset)
	require.NoError(t, clock.Configure(4096, 240, 48000))
	assert.Equal(t, 1969, clock.Frames(21))
	assert.Equal(t, 0, clock.Frames(0))
	assert.Equal(t, 4096, clock.Frames(100))
}

func TestTracker(t *testing.T) {
	tests := []struct {
		frames int
		ticks  int
	}{
		{frames: 4096, ticks: 1000},
		{frames: 512, ticks: 8000},
		{frames: 441, ticks: 9000},
	}
	for _, test := range tests {
		tracker := beat.NewTracker(240, 48000, beat.DefaultMissOffset)
		for i := 0; i < test.ticks; i++ {
			tracker.Tick(test.frames)
		}
		exact := float64(test.frames*test.ticks) * 4 * beat.Precision / 48000
		assert.InDelta(t, math.Round(exact), float64(tracker.Elapsed()), 1)
	}
}

func TestTrackerChunkChange(t *testing.T) {
	tracker := beat.NewTracker(60, 48000, beat.DefaultMissOffset)
	tracker.Tick(24000)
	assert.Equal(t, beat.Beat(64), tracker.Elapsed())
	tracker.Tick(12000)
	assert.Equal(t, beat.Beat(96), tracker.Elapsed())
	tracker.Tick(0)
	assert.Equal(t, beat.Beat(96), tracker.Elapsed())

	tracker.SetTempo(120)
	tracker.Tick(12000)
	assert.Equal(t, beat.Beat(160), tracker.Elapsed())

	tracker.Reset(10)
	assert.Equal(t, beat.Beat(10), tracker.Elapsed())
	tracker.Tick(24000)
	assert.Equal(t, beat.Beat(138), tracker.Elapsed())
}

func TestTrackerConcurrentReset(t *testing.T) {
	tracker := beat.NewTracker(120, 48000, beat.DefaultMissOffset)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			tracker.Tick(256)
		}
	}()
	for i := 0; i < 100; i++ {
		tracker.Reset(beat.Beat(i))
	}
	<-done

	tracker.Reset(500)
	assert.Equal(t, beat.Beat(500), tracker.Elapsed())
	// a tick that raced with reset is overwritten by the next one.
	tracker.Tick(0)
	assert.Equal(t, beat.Beat(500), tracker.Elapsed())
	tracker.Tick(24000)
	assert.Equal(t, beat.Beat(628), tracker.Elapsed())
}

func TestTrackerLoop(t *testing.T) {
	// 12000 frames are 64 beat units at 120 bpm.
	tracker := beat.NewTracker(120, 48000, beat.DefaultMissOffset)
	tracker.SetLoop(beat.Range{From: 100, To: 200})
	tracker.Reset(100)
	assert.Equal(t, beat.Beat(164), tracker.Tick(12000))
	assert.Equal(t, beat.Beat(128), tracker.Tick(12000))
	assert.Equal(t, beat.Beat(192), tracker.Tick(12000))

	// past the end the position only moves forward.
	tracker.Reset(300)
	assert.Equal(t, beat.Beat(364), tracker.Tick(12000))

	tracker.SetLoop(beat.Range{})
	tracker.Reset(190)
	assert.Equal(t, beat.Beat(254), tracker.Tick(12000))
}

func TestTrackerNoAllocs(t *testing.T) {
	tracker := beat.NewTracker(120, 44100, beat.DefaultMissOffset)
	allocs := testing.AllocsPerRun(100, func() {
		tracker.Tick(256)
		tracker.Tick(512)
	})
	assert.Equal(t, 0.0, allocs)
}
