package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/mp3"
	"pipelined.dev/engine/scheduler"
	"pipelined.dev/engine/wav"
)

// sinks create export files by extension.
var sinks = map[string]func(path string, specs block.Specs, cmd *exportCommand) (io.WriteCloser, error){
	".wav": func(path string, specs block.Specs, cmd *exportCommand) (io.WriteCloser, error) {
		return wav.Create(path, specs, wav.BitDepth(cmd.bitDepth))
	},
	".mp3": func(path string, specs block.Specs, cmd *exportCommand) (io.WriteCloser, error) {
		return mp3.Create(path, specs, mp3.WithBitRate(cmd.bitRate), mp3.WithQuality(cmd.quality))
	},
}

type exportCommand struct {
	projectFlags
	logger   *logrus.Logger
	out      string
	from     uint
	to       uint
	bitDepth int
	bitRate  int
	quality  int
}

func (cmd *exportCommand) Name() string {
	return "export"
}

func (cmd *exportCommand) Help() string {
	return "Render a range of the demo project to a wav or mp3 file"
}

func (cmd *exportCommand) Register(fs *flag.FlagSet) {
	cmd.projectFlags.register(fs)
	fs.StringVar(&cmd.out, "out", "", "output file, the extension selects the encoder (required)")
	fs.UintVar(&cmd.from, "from", 0, "first beat of the range")
	fs.UintVar(&cmd.to, "to", 16, "beat the range ends before")
	fs.IntVar(&cmd.bitDepth, "bitdepth", int(wav.BitDepth16), "wav bit depth")
	fs.IntVar(&cmd.bitRate, "bitrate", mp3.DefaultBitRate, "mp3 bit rate in kbps")
	fs.IntVar(&cmd.quality, "quality", mp3.DefaultQuality, "mp3 encoder quality")
}

func (cmd *exportCommand) Validate() error {
	var errs []error
	if cmd.out == "" {
		errs = append(errs, errors.New("missing -out required flag"))
	} else if _, ok := sinks[strings.ToLower(filepath.Ext(cmd.out))]; !ok {
		errs = append(errs, fmt.Errorf("unsupported output %q", cmd.out))
	}
	if cmd.to <= cmd.from {
		errs = append(errs, fmt.Errorf("empty range %d..%d", cmd.from, cmd.to))
	}
	return errors.Join(errs...)
}

func (cmd *exportCommand) Run() error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	c, err := cmd.load()
	if err != nil {
		return err
	}
	p, err := cmd.project(c)
	if err != nil {
		return err
	}
	sink, err := sinks[strings.ToLower(filepath.Ext(cmd.out))](cmd.out, p.Specs(), cmd)
	if err != nil {
		return err
	}

	var (
		s        *scheduler.Scheduler
		writeErr error
		blocks   int
	)
	hooks := scheduler.HookFuncs{
		ExportBlockGenerated: func() bool {
			blocks++
			_, writeErr = sink.Write(s.Output())
			return writeErr != nil
		},
	}
	s, err = scheduler.New(p.Project, hooks, c.Options(cmd.logger)...)
	if err != nil {
		return errors.Join(err, sink.Close())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	r := beat.Range{From: beats(cmd.from), To: beats(cmd.to)}
	err = s.Export(ctx, r)
	if err = errors.Join(err, writeErr, sink.Close()); err != nil {
		return err
	}
	cmd.logger.WithFields(logrus.Fields{
		"out":    cmd.out,
		"range":  r.String(),
		"blocks": blocks,
	}).Info("export finished")
	return nil
}
