package beat

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMissOffset is the value the miss accumulator starts from. With one
// half the cumulative beat count after N blocks is the rounded exact count.
const DefaultMissOffset = 0.5

var (
	// ErrInvalidTempo is returned when tempo is not a positive finite number.
	ErrInvalidTempo = errors.New("invalid tempo")
	// ErrInvalidBlockSize is returned when block size is not positive.
	ErrInvalidBlockSize = errors.New("invalid block size")
	// ErrInvalidSampleRate is returned when sample rate is zero.
	ErrInvalidSampleRate = errors.New("invalid sample rate")
)

// BlockBeats returns the whole number of beat units a block of blockSize
// samples spans at the given tempo and the fractional part left over.
func BlockBeats(blockSize int, tempo float64, sampleRate uint) (Beat, float64, error) {
	exact, err := exactBeats(blockSize, tempo, sampleRate)
	if err != nil {
		return 0, 0, err
	}
	whole := math.Floor(exact)
	return Beat(whole), exact - whole, nil
}

// BlockSize returns the number of samples that makes a block span the
// given number of beat units at the tempo.
func BlockSize(beats Beat, tempo float64, sampleRate uint) (int, error) {
	if err := validate(1, tempo, sampleRate); err != nil {
		return 0, err
	}
	if beats == 0 {
		return 0, fmt.Errorf("%w: zero beats", ErrInvalidBlockSize)
	}
	size := math.Round(float64(beats) * 60 * float64(sampleRate) / (tempo * Precision))
	if size < 1 {
		return 0, fmt.Errorf("%w: %v beats is shorter than a sample", ErrInvalidBlockSize, beats)
	}
	return int(size), nil
}

func exactBeats(blockSize int, tempo float64, sampleRate uint) (float64, error) {
	if err := validate(blockSize, tempo, sampleRate); err != nil {
		return 0, err
	}
	return float64(blockSize) * tempo / 60 * Precision / float64(sampleRate), nil
}

func validate(blockSize int, tempo float64, sampleRate uint) error {
	switch {
	case blockSize <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	case sampleRate == 0:
		return ErrInvalidSampleRate
	case !(tempo > 0) || math.IsInf(tempo, 0):
		return fmt.Errorf("%w: %v", ErrInvalidTempo, tempo)
	}
	return nil
}

// Clock advances beat ranges block by block. It splits the exact beats per
// block into a whole part and a fraction and accumulates the fraction, so
// emitted ranges never drift from the exact tempo by a beat unit or more.
//
// Clock is not safe for concurrent use.
type Clock struct {
	size     Beat
	exact    float64
	fraction float64
	miss     float64
	offset   float64

	blockSize  int
	tempo      float64
	sampleRate uint
}

// NewClock returns a clock with its accumulator starting at offset.
func NewClock(offset float64) *Clock {
	return &Clock{offset: offset, miss: offset}
}

// Configure recomputes the whole and fractional beats per block. The miss
// accumulator is kept, so the change takes effect at the next block without
// a jump in the emitted positions.
func (c *Clock) Configure(blockSize int, tempo float64, sampleRate uint) error {
	exact, err := exactBeats(blockSize, tempo, sampleRate)
	if err != nil {
		return err
	}
	whole := math.Floor(exact)
	c.size, c.fraction, c.exact = Beat(whole), exact-whole, exact
	c.blockSize, c.tempo, c.sampleRate = blockSize, tempo, sampleRate
	return nil
}

// Reset puts the miss accumulator back to its initial offset.
func (c *Clock) Reset() {
	c.miss = c.offset
}

// Advance returns the range of the block following r.
func (c *Clock) Advance(r Range) Range {
	size := c.size
	c.miss += c.fraction
	if c.miss >= 1 {
		c.miss--
		size++
	}
	return Range{From: r.To, To: r.To + size}
}

// Frames converts a number of beat units into samples of the current
// configuration, clamped to the block size.
func (c *Clock) Frames(beats Beat) int {
	if c.exact == 0 {
		return 0
	}
	frames := int(math.Round(float64(beats) * float64(c.blockSize) / c.exact))
	if frames > c.blockSize {
		return c.blockSize
	}
	return frames
}

// Size returns the whole number of beats per block.
func (c *Clock) Size() Beat {
	return c.size
}

// Fraction returns the fractional beats per block.
func (c *Clock) Fraction() float64 {
	return c.fraction
}

// Miss returns the current value of the miss accumulator.
func (c *Clock) Miss() float64 {
	return c.miss
}

// Tempo returns the configured tempo.
func (c *Clock) Tempo() float64 {
	return c.tempo
}

// BlockSize returns the configured block size.
func (c *Clock) BlockSize() int {
	return c.blockSize
}

// SampleRate returns the configured sample rate.
func (c *Clock) SampleRate() uint {
	return c.sampleRate
}
