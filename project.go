package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
)

// DefaultTempo is the tempo of new projects.
const DefaultTempo = 120

// Mode is the playback mode of a project.
type Mode uint32

// Playback modes.
const (
	ModeProduction Mode = iota
	ModeLive
	ModePartition
	ModeOnTheFly
	ModeExport
)

var modeNames = [...]string{
	ModeProduction: "production",
	ModeLive:       "live",
	ModePartition:  "partition",
	ModeOnTheFly:   "onthefly",
	ModeExport:     "export",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// ParseMode returns the mode with the given name.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown playback mode %q", s)
}

// Project owns the master node and the transport settings. Tempo, mode and
// specs may be changed from any goroutine, they are picked up by the
// scheduler at the next block boundary.
type Project struct {
	name       string
	master     *Node
	tempo      atomic.Uint64
	mode       atomic.Uint32
	specs      atomic.Pointer[block.Specs]
	generation atomic.Uint64
}

// NewProject creates a project rooted at master.
func NewProject(name string, master *Node) (*Project, error) {
	p := &Project{name: name}
	p.tempo.Store(math.Float64bits(DefaultTempo))
	p.specs.Store(&block.Specs{})
	if err := p.SetMaster(master); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the project name.
func (p *Project) Name() string {
	return p.name
}

// Master returns the root node.
func (p *Project) Master() *Node {
	return p.master
}

// SetMaster replaces the root node. The previous master is detached but
// not released.
func (p *Project) SetMaster(master *Node) error {
	switch {
	case master == nil:
		return ErrNoMaster
	case master.parent != nil || (master.project != nil && master.project != p):
		return fmt.Errorf("%w: %v", ErrHasParent, master)
	}
	if p.master != nil {
		p.master.project = nil
	}
	master.project = p
	p.master = master
	p.Invalidate()
	return nil
}

// Tempo returns the tempo in beats per minute.
func (p *Project) Tempo() float64 {
	return math.Float64frombits(p.tempo.Load())
}

// SetTempo changes the tempo.
func (p *Project) SetTempo(bpm float64) error {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: %v", beat.ErrInvalidTempo, bpm)
	}
	p.tempo.Store(math.Float64bits(bpm))
	return nil
}

// Mode returns the playback mode.
func (p *Project) Mode() Mode {
	return Mode(p.mode.Load())
}

// SetMode changes the playback mode.
func (p *Project) SetMode(m Mode) {
	p.mode.Store(uint32(m))
}

// Specs returns the audio specs the project is generated with.
func (p *Project) Specs() block.Specs {
	return *p.specs.Load()
}

// SetSpecs changes the audio specs and invalidates the graph.
func (p *Project) SetSpecs(specs block.Specs) error {
	if err := specs.Validate(); err != nil {
		return err
	}
	p.specs.Store(&specs)
	p.Invalidate()
	return nil
}

// Generation is incremented on every change that requires the task graph
// to be compiled again.
func (p *Project) Generation() uint64 {
	return p.generation.Load()
}

// Invalidate forces the task graph to be compiled again.
func (p *Project) Invalidate() {
	p.generation.Add(1)
}
