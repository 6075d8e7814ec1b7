// Package config loads engine settings from YAML files.
//
// A minimal file looks like:
//
//	project: demo
//	audio:
//	  sampleRate: 48000
//	  blockSize: 1024
//	transport:
//	  tempo: 128
//	  loop: {from: 0, to: 2048, enabled: true}
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/scheduler"
)

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// File is the root of a configuration file.
type File struct {
	Project   string    `yaml:"project"`
	Audio     Audio     `yaml:"audio"`
	Transport Transport `yaml:"transport"`
	Engine    Engine    `yaml:"engine"`
}

// Audio describes the generated stream.
type Audio struct {
	SampleRate   uint   `yaml:"sampleRate"`
	BlockSize    int    `yaml:"blockSize"`
	Channels     int    `yaml:"channels"`
	Format       string `yaml:"format"`
	CachedFrames int    `yaml:"cachedFrames"`
}

// Transport holds the initial transport state.
type Transport struct {
	Tempo float64 `yaml:"tempo"`
	Mode  string  `yaml:"mode"`
	Loop  Loop    `yaml:"loop"`
}

// Loop is a loop region in beat units.
type Loop struct {
	From    beat.Beat `yaml:"from"`
	To      beat.Beat `yaml:"to"`
	Enabled bool      `yaml:"enabled"`
}

// Range returns the loop region.
func (l Loop) Range() beat.Range {
	return beat.Range{From: l.From, To: l.To}
}

// Engine tunes the execution.
type Engine struct {
	Parallelism   int `yaml:"parallelism"`
	QueueCapacity int `yaml:"queueCapacity"`
	MinPower      int `yaml:"minPower"`
	MaxPower      int `yaml:"maxPower"`
}

// Default returns the configuration used for missing values.
func Default() File {
	return File{
		Project: "untitled",
		Audio: Audio{
			SampleRate:   48000,
			BlockSize:    1024,
			Channels:     int(block.Stereo),
			Format:       block.Float32.String(),
			CachedFrames: scheduler.DefaultCachedFrames,
		},
		Transport: Transport{
			Tempo: engine.DefaultTempo,
			Mode:  engine.ModeProduction.String(),
		},
		Engine: Engine{
			Parallelism: 1,
			MinPower:    block.DefaultMinPower,
			MaxPower:    block.DefaultMaxPower,
		},
	}
}

// Load decodes a configuration on top of the defaults. Unknown fields are
// rejected.
func Load(r io.Reader) (File, error) {
	f := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("error decoding configuration: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// LoadFile loads the configuration from the file at path.
func LoadFile(path string) (File, error) {
	file, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer file.Close()
	return Load(file)
}

// Validate returns every invalid value of the configuration.
func (f File) Validate() error {
	var errs []error
	if _, err := f.Specs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := f.Mode(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if _, _, err := beat.BlockBeats(f.Audio.BlockSize, f.Transport.Tempo, f.Audio.SampleRate); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if f.Audio.CachedFrames < 0 {
		errs = append(errs, fmt.Errorf("%w: cached frames %d", ErrInvalid, f.Audio.CachedFrames))
	}
	if f.Transport.Loop.Enabled && f.Transport.Loop.Range().Empty() {
		errs = append(errs, fmt.Errorf("%w: empty loop %v", ErrInvalid, f.Transport.Loop.Range()))
	}
	if f.Engine.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("%w: parallelism %d", ErrInvalid, f.Engine.Parallelism))
	}
	if f.Engine.MinPower < 0 || f.Engine.MaxPower < f.Engine.MinPower || f.Engine.MaxPower > 62 {
		errs = append(errs, fmt.Errorf("%w: pool powers %d..%d", ErrInvalid, f.Engine.MinPower, f.Engine.MaxPower))
	}
	return errors.Join(errs...)
}

// Specs returns the audio specs of the configuration.
func (f File) Specs() (block.Specs, error) {
	format, err := block.ParseFormat(f.Audio.Format)
	if err != nil {
		return block.Specs{}, err
	}
	if f.Audio.Channels != int(block.Mono) && f.Audio.Channels != int(block.Stereo) {
		return block.Specs{}, fmt.Errorf("%w: %d channels", block.ErrInvalidSpecs, f.Audio.Channels)
	}
	specs := block.Specs{
		SampleRate: f.Audio.SampleRate,
		Channels:   block.Arrangement(f.Audio.Channels),
		Format:     format,
		BlockSize:  f.Audio.BlockSize,
	}
	return specs, specs.Validate()
}

// Mode returns the playback mode of the configuration.
func (f File) Mode() (engine.Mode, error) {
	return engine.ParseMode(f.Transport.Mode)
}

// Pool returns a pool sized by the configuration.
func (f File) Pool() *block.Pool {
	return block.NewPool(
		block.WithMinPower(f.Engine.MinPower),
		block.WithMaxPower(f.Engine.MaxPower),
	)
}

// Apply sets specs, tempo and mode of the project.
func (f File) Apply(p *engine.Project) error {
	specs, err := f.Specs()
	if err != nil {
		return err
	}
	mode, err := f.Mode()
	if err != nil {
		return err
	}
	if err := p.SetTempo(f.Transport.Tempo); err != nil {
		return err
	}
	p.SetMode(mode)
	return p.SetSpecs(specs)
}

// Options returns the scheduler options of the configuration.
func (f File) Options(logger log.Logger) []scheduler.Option {
	options := []scheduler.Option{
		scheduler.WithPool(f.Pool()),
		scheduler.WithCachedFrames(f.Audio.CachedFrames),
		scheduler.WithParallelism(f.Engine.Parallelism),
	}
	if logger != nil {
		options = append(options, scheduler.WithLogger(logger))
	}
	if f.Engine.QueueCapacity > 0 {
		options = append(options, scheduler.WithQueueCapacity(f.Engine.QueueCapacity))
	}
	if f.Transport.Loop.Enabled {
		options = append(options, scheduler.WithLoop(f.Transport.Loop.Range()))
	}
	return options
}
