// Package mp3 exports generated audio to mp3 files with the lame encoder.
package mp3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/viert/lame"

	"pipelined.dev/engine/block"
)

// Encoding defaults.
const (
	DefaultBitRate = 192
	DefaultQuality = 2
)

// Sink encodes interleaved blocks into an mp3 stream.
type Sink struct {
	specs  block.Specs
	writer *lame.LameWriter
	closer io.Closer
	pcm    []byte
}

// Option configures the encoder.
type Option func(*lame.Encoder)

// WithBitRate sets the target bit rate in kbps.
func WithBitRate(kbps int) Option {
	return func(e *lame.Encoder) {
		e.SetBitrate(kbps)
	}
}

// WithQuality sets the algorithm quality, 0 is best and 9 is fastest.
func WithQuality(q int) Option {
	return func(e *lame.Encoder) {
		e.SetQuality(q)
	}
}

// NewSink returns a sink that encodes blocks of the specs into w.
func NewSink(w io.Writer, specs block.Specs, options ...Option) (*Sink, error) {
	if err := specs.Validate(); err != nil {
		return nil, err
	}
	wr := lame.NewWriter(w)
	wr.Encoder.SetBitrate(DefaultBitRate)
	wr.Encoder.SetQuality(DefaultQuality)
	for _, option := range options {
		option(wr.Encoder)
	}
	wr.Encoder.SetNumChannels(int(specs.Channels))
	wr.Encoder.SetInSamplerate(int(specs.SampleRate))
	wr.Encoder.SetMode(lame.JOINT_STEREO)
	wr.Encoder.SetVBR(lame.VBR_RH)
	wr.Encoder.InitParams()
	return &Sink{
		specs:  specs,
		writer: wr,
		pcm:    make([]byte, 0, specs.BlockSize*int(specs.Channels)*2),
	}, nil
}

// Create creates the file at path and returns a sink that writes to it.
// Closing the sink closes the file.
func Create(path string, specs block.Specs, options ...Option) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSink(f, specs, options...)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// Write encodes interleaved samples in the format of the sink specs. The
// encoder takes 16 bit input, other formats are converted.
func (s *Sink) Write(p []byte) (int, error) {
	if len(p)%s.specs.FrameBytes() != 0 {
		return 0, fmt.Errorf("mp3: %d bytes is not a whole number of frames", len(p))
	}
	pcm := p
	if s.specs.Format != block.Int16 {
		size := s.specs.Format.Size()
		pcm = s.pcm[:0]
		for i := 0; i < len(p); i += size {
			v := math.Max(-1, math.Min(1, float64(s.specs.Format.Sample(p[i:i+size]))))
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(v*math.MaxInt16)))
		}
		s.pcm = pcm
	}
	if _, err := s.writer.Write(pcm); err != nil {
		return 0, fmt.Errorf("mp3: error encoding block: %w", err)
	}
	return len(p), nil
}

// Close flushes the encoder and closes the file of the sink, if any.
func (s *Sink) Close() error {
	err := s.writer.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}
