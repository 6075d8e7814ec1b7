package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/engine/block"
	"pipelined.dev/engine/midi"
	"pipelined.dev/engine/oto"
	"pipelined.dev/engine/scheduler"
)

// consumer is implemented by scheduler.Scheduler.
type consumer interface {
	ConsumeAudio(dst []byte) bool
}

// device is an audio output pulling from the scheduler.
type device interface {
	Start() error
	Underruns() uint64
	Close() error
}

// devices holds the output backends by name. Backends that need extra system
// libraries register themselves from tagged files.
var devices = map[string]func(consumer, block.Specs) (device, error){
	"oto": openOto,
}

type otoDevice struct {
	*oto.Player
}

func (d otoDevice) Start() error {
	d.Play()
	return nil
}

func openOto(c consumer, specs block.Specs) (device, error) {
	p, err := oto.Open(c, specs, oto.DefaultLatency)
	if err != nil {
		return nil, err
	}
	return otoDevice{Player: p}, nil
}

type playCommand struct {
	projectFlags
	logger   *logrus.Logger
	device   string
	duration time.Duration
	from     uint
	midi     string
}

func (cmd *playCommand) Name() string {
	return "play"
}

func (cmd *playCommand) Help() string {
	return "Play the demo project on an audio device"
}

func (cmd *playCommand) Register(fs *flag.FlagSet) {
	cmd.projectFlags.register(fs)
	fs.StringVar(&cmd.device, "device", "oto", "audio output backend")
	fs.DurationVar(&cmd.duration, "duration", 0, "stop after the duration, plays until interrupted when zero")
	fs.UintVar(&cmd.from, "from", 0, "beat to start playing from")
	fs.StringVar(&cmd.midi, "midi", "", "midi input to play the tone and control the master gain with")
}

func (cmd *playCommand) Run() error {
	open, ok := devices[cmd.device]
	if !ok {
		return fmt.Errorf("unknown device %q", cmd.device)
	}
	c, err := cmd.load()
	if err != nil {
		return err
	}
	p, err := cmd.project(c)
	if err != nil {
		return err
	}
	s, err := scheduler.New(p.Project, nil, c.Options(cmd.logger)...)
	if err != nil {
		return err
	}
	s.SetBeatRange(beatRange(beats(cmd.from)))

	if cmd.midi != "" {
		router := midi.NewRouter(midi.WithLogger(cmd.logger))
		router.BindNotes(0, p.tone)
		router.BindControl(0, volumeController, p.master, gainParam, 0, 1)
		if err := listen(router, cmd.midi); err != nil {
			return err
		}
		defer router.Close()
	}

	d, err := open(s, p.Specs())
	if err != nil {
		return err
	}
	defer d.Close()
	if _, err := s.Play(); err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		s.Pause()
		s.Wait()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if cmd.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cmd.duration)
		defer cancel()
	}
	<-ctx.Done()
	s.Pause()
	s.Wait()
	cmd.logger.WithFields(logrus.Fields{
		"elapsed":   s.Elapsed(),
		"underruns": s.Underruns(),
		"device":    d.Underruns(),
	}).Info("playback stopped")
	return nil
}
