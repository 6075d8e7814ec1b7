// Package portaudio plays the engine output with the default portaudio
// device.
package portaudio

import (
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"pipelined.dev/engine/block"
)

// Consumer fills a buffer with generated audio. It is implemented by
// scheduler.Scheduler.
type Consumer interface {
	ConsumeAudio(dst []byte) bool
}

// Device pulls audio from a consumer in the portaudio callback.
type Device struct {
	consumer        Consumer
	format          block.Format
	channels        int
	sampleRate      uint
	framesPerBuffer int
	scratch         []byte
	stream          *portaudio.Stream
	underruns       atomic.Uint64
}

// NewDevice returns a device for specs. When framesPerBuffer is not
// positive, the block size is used.
func NewDevice(c Consumer, specs block.Specs, framesPerBuffer int) (*Device, error) {
	if err := specs.Validate(); err != nil {
		return nil, err
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = specs.BlockSize
	}
	return &Device{
		consumer:        c,
		format:          specs.Format,
		channels:        int(specs.Channels),
		sampleRate:      specs.SampleRate,
		framesPerBuffer: framesPerBuffer,
		scratch:         make([]byte, framesPerBuffer*specs.FrameBytes()),
	}, nil
}

// Fill decodes the next interleaved samples of the consumer into out. It
// is the portaudio callback.
func (d *Device) Fill(out []float32) {
	size := d.format.Size()
	n := min(len(out)*size, len(d.scratch))
	buf := d.scratch[:n]
	if !d.consumer.ConsumeAudio(buf) {
		d.underruns.Add(1)
	}
	samples := n / size
	for i := 0; i < samples; i++ {
		out[i] = d.format.Sample(buf[i*size:])
	}
	clear(out[samples:])
}

// Underruns returns the number of callbacks that were not fully served.
func (d *Device) Underruns() uint64 {
	return d.underruns.Load()
}

// Open initializes portaudio and opens the default output stream.
func (d *Device) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	stream, err := portaudio.OpenDefaultStream(0, d.channels, float64(d.sampleRate), d.framesPerBuffer, d.Fill)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("error opening portaudio stream: %w", err)
	}
	d.stream = stream
	return nil
}

// Start starts the stream.
func (d *Device) Start() error {
	return d.stream.Start()
}

// Stop stops the stream.
func (d *Device) Stop() error {
	return d.stream.Stop()
}

// Close closes the stream and terminates portaudio.
func (d *Device) Close() error {
	if err := d.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
