package midi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gomidi "gitlab.com/gomidi/midi/v2"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/midi"
	"pipelined.dev/engine/mock"
)

func TestRouter(t *testing.T) {
	instrument := engine.NewNode(&mock.Tone{})
	mixer := engine.NewNode(&mock.Mixer{GainParam: 1})
	r := midi.NewRouter(midi.WithLogger(log.Discard()))
	r.BindNotes(0, instrument)
	r.BindControl(0, 7, mixer, 1, 0, 2)

	tests := []struct {
		name   string
		msg    gomidi.Message
		routed bool
	}{
		{name: "note on", msg: gomidi.NoteOn(0, 60, 100), routed: true},
		{name: "zero velocity", msg: gomidi.NoteOn(0, 62, 0), routed: true},
		{name: "note off", msg: gomidi.NoteOff(0, 60), routed: true},
		{name: "pressure", msg: gomidi.PolyAfterTouch(0, 60, 30), routed: true},
		{name: "unbound channel", msg: gomidi.NoteOn(3, 60, 100)},
		{name: "control", msg: gomidi.ControlChange(0, 7, 127), routed: true},
		{name: "unbound controller", msg: gomidi.ControlChange(0, 8, 127)},
		{name: "program", msg: gomidi.ProgramChange(0, 1)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.routed, r.Handle(test.msg, 0))
		})
	}

	assert.Equal(t, []engine.NoteEvent{
		{Type: engine.NoteOn, Key: 60, Velocity: 100},
		{Type: engine.NoteOff, Key: 62},
		{Type: engine.NoteOff, Key: 60},
		{Type: engine.PolyPressure, Key: 60, Velocity: 30},
	}, instrument.Notes(beat.Range{From: 0, To: 10}, 64, nil))
	assert.Equal(t, []engine.ControlEvent{{Param: 1, Value: 2}}, mixer.Controls(beat.Range{From: 0, To: 10}, nil))

	bindings := r.Bindings()
	if assert.Len(t, bindings, 2) {
		assert.Same(t, instrument, bindings[0].Node)
		assert.Equal(t, uint8(7), bindings[1].Controller)
	}

	r.Unbind(instrument)
	assert.False(t, r.Handle(gomidi.NoteOn(0, 60, 100), 0))
	assert.Len(t, r.Bindings(), 1)
	r.Close()
}
