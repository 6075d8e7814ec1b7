// Package mock provides mock plugins, scheduler hooks and execution traces
// to run integration tests of the engine.
package mock

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/graph"
)

// Plugin mocks an engine.Plugin with any set of flags. It records what it
// receives and renders a constant Value. Recorded data is not thread-safe
// and should not be checked while playback runs.
type Plugin struct {
	counter
	Lifecycle
	Flag engine.Flags
	// Value is written to every sample of the output.
	Value float32
	// Send is emitted on every block by note producing plugins.
	Send []engine.NoteEvent

	notes    []engine.NoteEvent
	controls []engine.ControlEvent
	inputs   int
}

// Flags implements engine.Plugin.
func (m *Plugin) Flags() engine.Flags {
	return m.Flag
}

// ReceiveControls implements engine.Plugin.
func (m *Plugin) ReceiveControls(controls []engine.ControlEvent) {
	m.controls = append(m.controls[:0], controls...)
}

// ReceiveNotes implements engine.Plugin.
func (m *Plugin) ReceiveNotes(notes []engine.NoteEvent) {
	m.notes = append(m.notes, notes...)
}

// SendNotes implements engine.Plugin.
func (m *Plugin) SendNotes(_ beat.Range, _ int, dst []engine.NoteEvent) []engine.NoteEvent {
	return append(dst, m.Send...)
}

// Process implements engine.Plugin.
func (m *Plugin) Process(r beat.Range, inputs []block.View, out block.View) {
	m.inputs = len(inputs)
	for c := 0; c < out.Channels(); c++ {
		ch := out.Channel(c)
		for i := range ch {
			ch[i] = m.Value
		}
		for _, in := range inputs {
			if c < in.Channels() {
				vek32.Add_Inplace(ch, in.Channel(c))
			}
		}
	}
	m.advance(r, out.Frames())
}

// Notes returns every note received.
func (m *Plugin) Notes() []engine.NoteEvent {
	return m.notes
}

// Controls returns controls received in the last block.
func (m *Plugin) Controls() []engine.ControlEvent {
	return m.controls
}

// Inputs returns the number of audio inputs of the last block.
func (m *Plugin) Inputs() int {
	return m.inputs
}

// Mixer sums its inputs and applies the gain parameter.
type Mixer struct {
	counter
	Lifecycle
	GainParam engine.ParamID
	gain      float32
	gainSet   bool
}

// Flags implements engine.Plugin.
func (m *Mixer) Flags() engine.Flags {
	return engine.AudioInput | engine.AudioOutput | engine.MultipleExternalInputs | engine.ControlInput
}

// ReceiveControls implements engine.Plugin.
func (m *Mixer) ReceiveControls(controls []engine.ControlEvent) {
	for _, c := range controls {
		if c.Param == m.GainParam {
			m.gain, m.gainSet = float32(c.Value), true
		}
	}
}

// ReceiveNotes implements engine.Plugin.
func (m *Mixer) ReceiveNotes([]engine.NoteEvent) {}

// SendNotes implements engine.Plugin.
func (m *Mixer) SendNotes(_ beat.Range, _ int, dst []engine.NoteEvent) []engine.NoteEvent {
	return dst
}

// Process implements engine.Plugin.
func (m *Mixer) Process(r beat.Range, inputs []block.View, out block.View) {
	out.Clear()
	for c := 0; c < out.Channels(); c++ {
		ch := out.Channel(c)
		for _, in := range inputs {
			if c < in.Channels() {
				vek32.Add_Inplace(ch, in.Channel(c))
			}
		}
		if m.gainSet {
			vek32.MulNumber_Inplace(ch, m.gain)
		}
	}
	m.advance(r, out.Frames())
}

// Sequencer emits a note on at every step of the block range and the note
// off half a step later.
type Sequencer struct {
	counter
	Lifecycle
	Key      uint8
	Velocity uint8
	Step     beat.Beat
}

// Flags implements engine.Plugin.
func (m *Sequencer) Flags() engine.Flags {
	return engine.NoteOutput
}

// ReceiveControls implements engine.Plugin.
func (m *Sequencer) ReceiveControls([]engine.ControlEvent) {}

// ReceiveNotes implements engine.Plugin.
func (m *Sequencer) ReceiveNotes([]engine.NoteEvent) {}

// SendNotes implements engine.Plugin.
func (m *Sequencer) SendNotes(r beat.Range, frames int, dst []engine.NoteEvent) []engine.NoteEvent {
	if m.Step == 0 || r.Empty() {
		return dst
	}
	m.advance(r, frames)
	offset := func(b beat.Beat) int {
		return int(uint64(b-r.From) * uint64(frames) / uint64(r.Size()))
	}
	first := (r.From + m.Step - 1) / m.Step * m.Step
	for b := first; b < r.To; b += m.Step {
		dst = append(dst, engine.NoteEvent{Type: engine.NoteOn, Key: m.Key, Velocity: m.Velocity, SampleOffset: offset(b)})
	}
	half := m.Step / 2
	if half == 0 {
		return dst
	}
	first = (r.From+m.Step-1-half)/m.Step*m.Step + half
	for b := first; b < r.To; b += m.Step {
		if b >= r.From {
			dst = append(dst, engine.NoteEvent{Type: engine.NoteOff, Key: m.Key, SampleOffset: offset(b)})
		}
	}
	return dst
}

// Process implements engine.Plugin.
func (m *Sequencer) Process(beat.Range, []block.View, block.View) {}

// Tone is a sine instrument playing the last received note.
type Tone struct {
	counter
	Lifecycle
	key      uint8
	level    float64
	phase    float64
	pending  []engine.NoteEvent
	received int
}

// Flags implements engine.Plugin.
func (m *Tone) Flags() engine.Flags {
	return engine.NoteInput | engine.AudioOutput
}

// ReceiveControls implements engine.Plugin.
func (m *Tone) ReceiveControls([]engine.ControlEvent) {}

// ReceiveNotes implements engine.Plugin.
func (m *Tone) ReceiveNotes(notes []engine.NoteEvent) {
	m.pending = append(m.pending[:0], notes...)
	m.received += len(notes)
}

// SendNotes implements engine.Plugin.
func (m *Tone) SendNotes(_ beat.Range, _ int, dst []engine.NoteEvent) []engine.NoteEvent {
	return dst
}

// Received returns the number of notes received.
func (m *Tone) Received() int {
	return m.received
}

// Process implements engine.Plugin.
func (m *Tone) Process(r beat.Range, _ []block.View, out block.View) {
	frames := out.Frames()
	left := out.Channel(0)
	next := 0
	for i := 0; i < frames; i++ {
		for next < len(m.pending) && m.pending[next].SampleOffset <= i {
			switch ev := m.pending[next]; ev.Type {
			case engine.NoteOn:
				m.key, m.level = ev.Key, float64(ev.Velocity)/127
			case engine.NoteOff:
				if ev.Key == m.key {
					m.level = 0
				}
			}
			next++
		}
		freq := 440 * math.Pow(2, (float64(m.key)-69)/12)
		left[i] = float32(m.level * math.Sin(m.phase))
		m.phase += 2 * math.Pi * freq / float64(out.SampleRate())
		if m.phase > 2*math.Pi {
			m.phase -= 2 * math.Pi
		}
	}
	for c := 1; c < out.Channels(); c++ {
		copy(out.Channel(c), left)
	}
	m.advance(r, frames)
}

// Lifecycle records the calls made outside of block processing.
type Lifecycle struct {
	Specs        block.Specs
	Started      []beat.Range
	ErrorOnSpecs error
}

// SetSpecs implements engine.Plugin.
func (l *Lifecycle) SetSpecs(specs block.Specs) error {
	l.Specs = specs
	return l.ErrorOnSpecs
}

// OnGenerationStarted implements engine.Plugin.
func (l *Lifecycle) OnGenerationStarted(r beat.Range) {
	l.Started = append(l.Started, r)
}

// counter counts processed blocks and remembers the last range.
type counter struct {
	blocks int
	frames int
	last   beat.Range
}

func (c *counter) advance(r beat.Range, frames int) {
	c.blocks++
	c.frames += frames
	c.last = r
}

// Count returns the number of blocks and frames processed.
func (c *counter) Count() (int, int) {
	return c.blocks, c.frames
}

// Last returns the range of the last processed block.
func (c *counter) Last() beat.Range {
	return c.last
}

// Hooks mocks scheduler hooks.
type Hooks struct {
	// StopAfter requests a stop after that many generated blocks.
	StopAfter int64
	// StopWhenBusy requests a stop when the queue is busy.
	StopWhenBusy bool
	// Export is called for every exported block and requests a stop when
	// it returns true.
	Export func() bool

	generated atomic.Int64
	busy      atomic.Int64
	exported  atomic.Int64
}

// OnAudioBlockGenerated implements scheduler.Hooks.
func (h *Hooks) OnAudioBlockGenerated() bool {
	n := h.generated.Add(1)
	return h.StopAfter > 0 && n >= h.StopAfter
}

// OnAudioQueueBusy implements scheduler.Hooks.
func (h *Hooks) OnAudioQueueBusy() bool {
	h.busy.Add(1)
	return h.StopWhenBusy
}

// OnExportBlockGenerated implements scheduler.Hooks.
func (h *Hooks) OnExportBlockGenerated() bool {
	h.exported.Add(1)
	if h.Export != nil {
		return h.Export()
	}
	return false
}

// Generated returns the number of generated blocks.
func (h *Hooks) Generated() int64 {
	return h.generated.Load()
}

// Busy returns the number of busy queue notifications.
func (h *Hooks) Busy() int64 {
	return h.busy.Load()
}

// Exported returns the number of exported blocks.
func (h *Hooks) Exported() int64 {
	return h.exported.Load()
}

// TraceEvent is a single task start or completion.
type TraceEvent struct {
	Task *graph.Task
	Done bool
}

// Trace records task execution order. It is safe for concurrent use.
type Trace struct {
	mu     sync.Mutex
	events []TraceEvent
}

// Started implements graph.Tracer.
func (t *Trace) Started(task *graph.Task) {
	t.mu.Lock()
	t.events = append(t.events, TraceEvent{Task: task})
	t.mu.Unlock()
}

// Done implements graph.Tracer.
func (t *Trace) Done(task *graph.Task) {
	t.mu.Lock()
	t.events = append(t.events, TraceEvent{Task: task, Done: true})
	t.mu.Unlock()
}

// Events returns a copy of recorded events.
func (t *Trace) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events...)
}

// Reset drops recorded events.
func (t *Trace) Reset() {
	t.mu.Lock()
	t.events = t.events[:0]
	t.mu.Unlock()
}

// Index returns the position of the first matching event or -1.
func (t *Trace) Index(kind graph.Kind, node *engine.Node, done bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.events {
		if e.Task.Kind() == kind && e.Task.Node() == node && e.Done == done {
			return i
		}
	}
	return -1
}
