// Package oto plays the engine output through an oto context.
package oto

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"pipelined.dev/engine/block"
)

// DefaultLatency is the buffer size of the oto context.
const DefaultLatency = 40 * time.Millisecond

// Consumer fills a buffer with generated audio. It is implemented by
// scheduler.Scheduler.
type Consumer interface {
	ConsumeAudio(dst []byte) bool
}

// Reader turns a consumer into the io.Reader oto pulls audio from. Reads
// never block: missing audio is rendered as silence.
type Reader struct {
	consumer  Consumer
	underruns atomic.Uint64
}

// NewReader returns a reader of the consumer.
func NewReader(c Consumer) *Reader {
	return &Reader{consumer: c}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if !r.consumer.ConsumeAudio(p) {
		r.underruns.Add(1)
	}
	return len(p), nil
}

// Underruns returns the number of reads that were not fully served.
func (r *Reader) Underruns() uint64 {
	return r.underruns.Load()
}

// Format returns the oto format of the stream format.
func Format(f block.Format) (oto.Format, error) {
	switch f {
	case block.Float32:
		return oto.FormatFloat32LE, nil
	case block.Int16:
		return oto.FormatSignedInt16LE, nil
	}
	return 0, fmt.Errorf("%w: %v is not supported by oto", block.ErrUnsupportedFormat, f)
}

// Player plays the audio of a consumer.
type Player struct {
	context *oto.Context
	player  *oto.Player
	reader  *Reader
}

// Open creates the oto context for specs and a paused player. Only one
// player can be opened per process.
func Open(c Consumer, specs block.Specs, latency time.Duration) (*Player, error) {
	format, err := Format(specs.Format)
	if err != nil {
		return nil, err
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(specs.SampleRate),
		ChannelCount: int(specs.Channels),
		Format:       format,
		BufferSize:   latency,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating oto context: %w", err)
	}
	<-ready
	reader := NewReader(c)
	return &Player{
		context: context,
		player:  context.NewPlayer(reader),
		reader:  reader,
	}, nil
}

// Play starts pulling audio.
func (p *Player) Play() {
	p.player.Play()
}

// Pause stops pulling audio.
func (p *Player) Pause() {
	p.player.Pause()
}

// Underruns returns the number of reads that were not fully served.
func (p *Player) Underruns() uint64 {
	return p.reader.Underruns()
}

// Close releases the player.
func (p *Player) Close() error {
	return p.player.Close()
}
