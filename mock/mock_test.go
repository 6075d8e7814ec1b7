package mock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/mock"
)

var specs = block.Specs{SampleRate: 44100, Channels: block.Stereo, Format: block.Float32, BlockSize: 100}

func buffer(t *testing.T, pool *block.Pool, value float32) block.Buffer {
	t.Helper()
	b := block.NewBuffer(pool, specs.ChannelByteSize(), specs.SampleRate, specs.Channels)
	v := b.View()
	for c := 0; c < v.Channels(); c++ {
		ch := v.Channel(c)
		for i := range ch {
			ch[i] = value
		}
	}
	return b
}

func TestSequencer(t *testing.T) {
	seq := &mock.Sequencer{Key: 60, Velocity: 100, Step: 32}
	require.NoError(t, seq.SetSpecs(specs))

	tests := []struct {
		r      beat.Range
		frames int
		notes  []engine.NoteEvent
	}{
		{
			r:      beat.Range{From: 0, To: 50},
			frames: specs.BlockSize,
			notes: []engine.NoteEvent{
				{Type: engine.NoteOn, Key: 60, Velocity: 100, SampleOffset: 0},
				{Type: engine.NoteOn, Key: 60, Velocity: 100, SampleOffset: 64},
				{Type: engine.NoteOff, Key: 60, SampleOffset: 32},
				{Type: engine.NoteOff, Key: 60, SampleOffset: 96},
			},
		},
		{
			r:      beat.Range{From: 50, To: 100},
			frames: specs.BlockSize,
			notes: []engine.NoteEvent{
				{Type: engine.NoteOn, Key: 60, Velocity: 100, SampleOffset: 28},
				{Type: engine.NoteOn, Key: 60, Velocity: 100, SampleOffset: 92},
				{Type: engine.NoteOff, Key: 60, SampleOffset: 60},
			},
		},
		{
			// cropped block
			r:      beat.Range{From: 100, To: 125},
			frames: 50,
			notes: []engine.NoteEvent{
				{Type: engine.NoteOff, Key: 60, SampleOffset: 24},
			},
		},
	}
	for _, test := range tests {
		assert.Equal(t, test.notes, seq.SendNotes(test.r, test.frames, nil), "range %v", test.r)
	}
	blocks, frames := seq.Count()
	assert.Equal(t, 3, blocks)
	assert.Equal(t, 250, frames)
	assert.Equal(t, beat.Range{From: 100, To: 125}, seq.Last())
}

func TestMixer(t *testing.T) {
	pool := block.NewPool()
	a, b, out := buffer(t, pool, 0.25), buffer(t, pool, 0.5), buffer(t, pool, 1)
	mixer := &mock.Mixer{GainParam: 3}
	r := beat.Range{From: 0, To: 10}

	mixer.Process(r, []block.View{a.View(), b.View()}, out.View())
	assert.Equal(t, float32(0.75), out.View().Channel(1)[99])

	mixer.ReceiveControls([]engine.ControlEvent{{Param: 1, Value: 0}, {Param: 3, Value: 2}})
	mixer.Process(r, []block.View{a.View(), b.View()}, out.View())
	assert.Equal(t, float32(1.5), out.View().Channel(0)[0])

	mixer.Process(r, nil, out.View())
	assert.Equal(t, float32(0), out.View().Channel(0)[0])
}

func TestPlugin(t *testing.T) {
	pool := block.NewPool()
	in, out := buffer(t, pool, 0.5), buffer(t, pool, 0)
	p := &mock.Plugin{Flag: engine.AudioInput | engine.AudioOutput, Value: 0.25}
	p.Process(beat.Range{}, []block.View{in.View()}, out.View())
	assert.Equal(t, float32(0.75), out.View().Channel(0)[10])
	assert.Equal(t, 1, p.Inputs())

	p.ReceiveNotes([]engine.NoteEvent{{Key: 1}})
	p.ReceiveNotes([]engine.NoteEvent{{Key: 2}})
	assert.Len(t, p.Notes(), 2)
	p.ReceiveControls([]engine.ControlEvent{{Param: 1}})
	p.ReceiveControls([]engine.ControlEvent{{Param: 2}})
	assert.Equal(t, []engine.ControlEvent{{Param: 2}}, p.Controls())
}

func TestTone(t *testing.T) {
	pool := block.NewPool()
	out := buffer(t, pool, 1)
	tone := &mock.Tone{}
	tone.ReceiveNotes(nil)
	tone.Process(beat.Range{}, nil, out.View())
	assert.Equal(t, float32(0), out.View().Channel(1)[50])

	tone.ReceiveNotes([]engine.NoteEvent{
		{Type: engine.NoteOn, Key: 69, Velocity: 127, SampleOffset: 10},
		{Type: engine.NoteOff, Key: 69, SampleOffset: 60},
	})
	tone.Process(beat.Range{}, nil, out.View())
	v := out.View()
	assert.Equal(t, float32(0), v.Channel(0)[5])
	assert.NotEqual(t, float32(0), v.Channel(0)[30])
	assert.Equal(t, v.Channel(0)[30], v.Channel(1)[30])
	assert.Equal(t, float32(0), v.Channel(0)[70])
	assert.Equal(t, 2, tone.Received())
}

func TestHooks(t *testing.T) {
	h := mock.Hooks{StopAfter: 2}
	assert.False(t, h.OnAudioBlockGenerated())
	assert.True(t, h.OnAudioBlockGenerated())
	assert.False(t, h.OnAudioQueueBusy())
	assert.False(t, h.OnExportBlockGenerated())
	assert.Equal(t, int64(2), h.Generated())
	assert.Equal(t, int64(1), h.Busy())
	assert.Equal(t, int64(1), h.Exported())
}
