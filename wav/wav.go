// Package wav exports generated audio to wav files.
package wav

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/engine/block"
)

// BitDepth of the encoded samples.
type BitDepth int

// Supported bit depths.
const (
	BitDepth16 BitDepth = 16
	BitDepth32 BitDepth = 32
)

// pcm is the wav audio format tag of integer samples.
const pcm = 1

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")

// Sink encodes interleaved blocks into a wav stream.
type Sink struct {
	specs    block.Specs
	bitDepth BitDepth
	scale    float64
	encoder  *wav.Encoder
	buffer   *audio.IntBuffer
	closer   io.Closer
	frames   int
}

// NewSink returns a sink that encodes blocks of the specs into w.
func NewSink(w io.WriteSeeker, specs block.Specs, bitDepth BitDepth) (*Sink, error) {
	if err := specs.Validate(); err != nil {
		return nil, err
	}
	var scale float64
	switch bitDepth {
	case BitDepth16:
		scale = math.MaxInt16
	case BitDepth32:
		scale = math.MaxInt32
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
	channels := int(specs.Channels)
	return &Sink{
		specs:    specs,
		bitDepth: bitDepth,
		scale:    scale,
		encoder:  wav.NewEncoder(w, int(specs.SampleRate), int(bitDepth), channels, pcm),
		buffer: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  int(specs.SampleRate),
			},
			Data:           make([]int, 0, specs.BlockSize*channels),
			SourceBitDepth: int(bitDepth),
		},
	}, nil
}

// Create creates the file at path and returns a sink that writes to it.
// Closing the sink closes the file.
func Create(path string, specs block.Specs, bitDepth BitDepth) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSink(f, specs, bitDepth)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// Write encodes interleaved samples in the format of the sink specs. The
// length of p must be a multiple of the frame size.
func (s *Sink) Write(p []byte) (int, error) {
	frameBytes := s.specs.FrameBytes()
	if len(p)%frameBytes != 0 {
		return 0, fmt.Errorf("wav: %d bytes is not a whole number of frames", len(p))
	}
	size := s.specs.Format.Size()
	data := s.buffer.Data[:0]
	for i := 0; i < len(p); i += size {
		v := math.Max(-1, math.Min(1, float64(s.specs.Format.Sample(p[i:i+size]))))
		data = append(data, int(math.Round(v*s.scale)))
	}
	s.buffer.Data = data
	if err := s.encoder.Write(s.buffer); err != nil {
		return 0, fmt.Errorf("wav: error encoding block: %w", err)
	}
	s.frames += len(p) / frameBytes
	return len(p), nil
}

// Frames returns the number of frames written so far.
func (s *Sink) Frames() int {
	return s.frames
}

// Close finalizes the wav header and closes the file of the sink, if any.
func (s *Sink) Close() error {
	err := s.encoder.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}
