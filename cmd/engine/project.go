package main

import (
	"errors"
	"flag"
	"fmt"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/config"
	"pipelined.dev/engine/mock"
)

// projectFlags are shared by commands that build the demo project.
type projectFlags struct {
	config string
	key    uint
	step   uint
}

func (f *projectFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "yaml configuration file, defaults are used when empty")
	fs.UintVar(&f.key, "key", 57, "midi key of the demo sequencer")
	fs.UintVar(&f.step, "step", 1, "beats between the notes of the demo sequencer")
}

func (f *projectFlags) load() (config.File, error) {
	if f.config == "" {
		return config.Default(), nil
	}
	return config.LoadFile(f.config)
}

// demo is a sequencer driving a tone under the master mixer.
type demo struct {
	*engine.Project
	master *engine.Node
	tone   *engine.Node
}

// gainParam is the master gain parameter of the demo mixer.
const gainParam engine.ParamID = 1

func (f *projectFlags) project(c config.File) (*demo, error) {
	if f.key > 127 {
		return nil, fmt.Errorf("key %d is out of midi range", f.key)
	}
	if f.step == 0 {
		return nil, errors.New("step must be positive")
	}
	master := engine.NewNode(&mock.Mixer{GainParam: gainParam}, engine.WithName("master"))
	sequencer := engine.NewNode(&mock.Sequencer{
		Key:      uint8(f.key),
		Velocity: 100,
		Step:     beat.Beat(f.step) * beat.Precision,
	}, engine.WithName("sequencer"))
	tone := engine.NewNode(&mock.Tone{}, engine.WithName("tone"))
	if err := sequencer.Add(tone); err != nil {
		return nil, err
	}
	if err := master.Add(sequencer); err != nil {
		return nil, err
	}
	p, err := engine.NewProject(c.Project, master)
	if err != nil {
		return nil, err
	}
	if err := c.Apply(p); err != nil {
		return nil, err
	}
	return &demo{Project: p, master: master, tone: tone}, nil
}

func beats(n uint) beat.Beat {
	return beat.Beat(n) * beat.Precision
}

// beatRange returns the empty range starting at b.
func beatRange(b beat.Beat) beat.Range {
	return beat.Range{From: b, To: b}
}
