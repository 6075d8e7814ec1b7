// Package block provides audio buffers and the lock-free pool they are
// drawn from.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleBytes is the size of a processing sample. Buffers always hold
// planar float32 channels.
const SampleBytes = 4

// Arrangement is the number of interleaved channels of a stream.
type Arrangement uint8

// Common channel arrangements.
const (
	Mono   Arrangement = 1
	Stereo Arrangement = 2
)

// Format is the sample encoding of the outbound audio stream.
type Format uint8

// Supported stream formats.
const (
	Float32 Format = iota
	Int16
	Int32
)

var (
	// ErrUnsupportedFormat is returned for unknown sample formats.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	// ErrInvalidSpecs is returned when audio specs are incomplete.
	ErrInvalidSpecs = errors.New("invalid audio specs")
)

// Size returns the number of bytes of a single sample.
func (f Format) Size() int {
	switch f {
	case Int16:
		return 2
	case Float32, Int32:
		return 4
	}
	return 0
}

// Put encodes v into p. Integer formats are clipped to [-1, 1].
func (f Format) Put(p []byte, v float32) {
	switch f {
	case Float32:
		binary.LittleEndian.PutUint32(p, math.Float32bits(v))
	case Int16:
		binary.LittleEndian.PutUint16(p, uint16(int16(clip(v)*math.MaxInt16)))
	case Int32:
		binary.LittleEndian.PutUint32(p, uint32(int32(float64(clip(v))*math.MaxInt32)))
	}
}

// Sample decodes a single sample from p.
func (f Format) Sample(p []byte) float32 {
	switch f {
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(p))
	case Int16:
		return float32(int16(binary.LittleEndian.Uint16(p))) / math.MaxInt16
	case Int32:
		return float32(float64(int32(binary.LittleEndian.Uint32(p))) / math.MaxInt32)
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case Float32:
		return "float32"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// ParseFormat returns the format with the given name.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{Float32, Int16, Int32} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

func clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Specs describes audio generated by the engine.
type Specs struct {
	SampleRate uint
	Channels   Arrangement
	Format     Format
	BlockSize  int
}

// Validate checks that specs can be used to allocate buffers.
func (s Specs) Validate() error {
	switch {
	case s.SampleRate == 0:
		return fmt.Errorf("%w: zero sample rate", ErrInvalidSpecs)
	case s.Channels == 0:
		return fmt.Errorf("%w: zero channels", ErrInvalidSpecs)
	case s.BlockSize <= 0:
		return fmt.Errorf("%w: block size %d", ErrInvalidSpecs, s.BlockSize)
	case s.Format.Size() == 0:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, s.Format)
	}
	return nil
}

// ChannelByteSize returns the size of a single processing channel.
func (s Specs) ChannelByteSize() int {
	return s.BlockSize * SampleBytes
}

// FrameBytes returns the size of one interleaved frame of the stream.
func (s Specs) FrameBytes() int {
	return int(s.Channels) * s.Format.Size()
}

// BlockBytes returns the size of one interleaved block of the stream.
func (s Specs) BlockBytes() int {
	return s.BlockSize * s.FrameBytes()
}

func (s Specs) String() string {
	return fmt.Sprintf("%dHz %dch %v %d", s.SampleRate, s.Channels, s.Format, s.BlockSize)
}
