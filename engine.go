// Package engine models the processing tree of an audio project: nodes that
// host plugins, the automations and partitions attached to them, and the
// project that owns the master node and transport settings.
//
// The tree is compiled into a task graph by package graph and driven block
// by block by package scheduler.
package engine

import (
	"errors"
	"strings"

	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
)

var (
	// ErrNoMaster is returned when a project has no master node.
	ErrNoMaster = errors.New("project has no master node")
	// ErrHasParent is returned when a node that is already attached is added.
	ErrHasParent = errors.New("node already has a parent")
	// ErrNotChild is returned when a node is removed from a wrong parent.
	ErrNotChild = errors.New("node is not a child")
	// ErrCycle is returned when an edit would make a node its own ancestor.
	ErrCycle = errors.New("node would become its own ancestor")
)

// Flags declare which signals a plugin consumes and produces.
type Flags uint32

// Plugin capabilities.
const (
	AudioInput Flags = 1 << iota
	AudioOutput
	NoteInput
	NoteOutput
	ControlInput
	SingleExternalInput
	MultipleExternalInputs
	// NoChildren makes the node a leaf of the task graph whatever children
	// it holds.
	NoChildren
)

var flagNames = []string{
	"AudioInput",
	"AudioOutput",
	"NoteInput",
	"NoteOutput",
	"ControlInput",
	"SingleExternalInput",
	"MultipleExternalInputs",
	"NoChildren",
}

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f == 0 {
		return "None"
	}
	var names []string
	for i, name := range flagNames {
		if f.Has(1 << i) {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Plugin is the processing unit hosted by a node. Methods other than Flags
// and SetSpecs are called on the generation goroutine once per block and
// must not block.
type Plugin interface {
	// Flags returns the plugin capabilities. A change must be followed by
	// Node.Invalidate.
	Flags() Flags
	// SetSpecs is called off the real-time path whenever audio specs change.
	SetSpecs(block.Specs) error
	// OnGenerationStarted is called before the first block of a playback.
	OnGenerationStarted(beat.Range)
	// ReceiveControls passes parameter changes for the block.
	ReceiveControls([]ControlEvent)
	// ReceiveNotes passes notes for the block.
	ReceiveNotes([]NoteEvent)
	// SendNotes appends notes generated for the block to dst. Sample
	// offsets must be lower than frames, the length of the block.
	SendNotes(r beat.Range, frames int, dst []NoteEvent) []NoteEvent
	// Process renders the block into out. Inputs hold the audio of the
	// nearest audio producing descendants. Views are cropped to the frames
	// of the block, which are fewer than the block size when r ends at a
	// loop or export boundary.
	Process(r beat.Range, inputs []block.View, out block.View)
}

// Base implements every Plugin method but Flags as a no-op. It is meant to
// be embedded.
type Base struct{}

// SetSpecs implements Plugin.
func (Base) SetSpecs(block.Specs) error { return nil }

// OnGenerationStarted implements Plugin.
func (Base) OnGenerationStarted(beat.Range) {}

// ReceiveControls implements Plugin.
func (Base) ReceiveControls([]ControlEvent) {}

// ReceiveNotes implements Plugin.
func (Base) ReceiveNotes([]NoteEvent) {}

// SendNotes implements Plugin.
func (Base) SendNotes(_ beat.Range, _ int, dst []NoteEvent) []NoteEvent { return dst }

// Process implements Plugin.
func (Base) Process(beat.Range, []block.View, block.View) {}
