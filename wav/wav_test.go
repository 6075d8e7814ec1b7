package wav_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	gowav "github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine/block"
	"pipelined.dev/engine/wav"
)

func fill(specs block.Specs, values ...float32) []byte {
	size := specs.Format.Size()
	p := make([]byte, specs.BlockBytes())
	for i := 0; i < len(p); i += size {
		specs.Format.Put(p[i:], values[(i/size)%len(values)])
	}
	return p
}

func TestSink(t *testing.T) {
	tests := []struct {
		name     string
		specs    block.Specs
		bitDepth wav.BitDepth
		scale    float64
	}{
		{
			name:     "float32 to 16 bit",
			specs:    block.Specs{SampleRate: 44100, Channels: block.Stereo, Format: block.Float32, BlockSize: 64},
			bitDepth: wav.BitDepth16,
			scale:    math.MaxInt16,
		},
		{
			name:     "int16 to 32 bit",
			specs:    block.Specs{SampleRate: 48000, Channels: block.Mono, Format: block.Int16, BlockSize: 32},
			bitDepth: wav.BitDepth32,
			scale:    math.MaxInt32,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.wav")
			s, err := wav.Create(path, test.specs, test.bitDepth)
			require.NoError(t, err)

			blocks := 3
			for i := 0; i < blocks; i++ {
				n, err := s.Write(fill(test.specs, 0.5, -0.25))
				require.NoError(t, err)
				assert.Equal(t, test.specs.BlockBytes(), n)
			}
			assert.Equal(t, blocks*test.specs.BlockSize, s.Frames())
			require.NoError(t, s.Close())

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			d := gowav.NewDecoder(f)
			require.True(t, d.IsValidFile())
			assert.Equal(t, uint32(test.specs.SampleRate), d.SampleRate)
			assert.Equal(t, uint16(test.bitDepth), d.BitDepth)
			assert.Equal(t, uint16(test.specs.Channels), d.NumChans)

			buf, err := d.FullPCMBuffer()
			require.NoError(t, err)
			require.Len(t, buf.Data, blocks*test.specs.BlockSize*int(test.specs.Channels))
			// int16 input carries its own quantization error
			delta := test.scale / math.MaxInt16
			assert.InDelta(t, 0.5*test.scale, float64(buf.Data[0]), delta)
			assert.InDelta(t, -0.25*test.scale, float64(buf.Data[1]), delta)
		})
	}
}

func TestSinkClips(t *testing.T) {
	specs := block.Specs{SampleRate: 44100, Channels: block.Mono, Format: block.Float32, BlockSize: 2}
	path := filepath.Join(t.TempDir(), "clip.wav")
	s, err := wav.Create(path, specs, wav.BitDepth16)
	require.NoError(t, err)
	_, err = s.Write(fill(specs, 2, -2))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	buf, err := gowav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, []int{math.MaxInt16, -math.MaxInt16}, buf.Data)
}

func TestSinkErrors(t *testing.T) {
	specs := block.Specs{SampleRate: 44100, Channels: block.Stereo, Format: block.Float32, BlockSize: 8}
	dir := t.TempDir()

	_, err := wav.Create(filepath.Join(dir, "depth.wav"), specs, 24)
	assert.ErrorIs(t, err, wav.ErrUnsupportedBitDepth)

	_, err = wav.Create(filepath.Join(dir, "specs.wav"), block.Specs{}, wav.BitDepth16)
	assert.ErrorIs(t, err, block.ErrInvalidSpecs)

	_, err = wav.Create(filepath.Join(dir, "missing", "out.wav"), specs, wav.BitDepth16)
	assert.ErrorIs(t, err, os.ErrNotExist)

	s, err := wav.Create(filepath.Join(dir, "partial.wav"), specs, wav.BitDepth16)
	require.NoError(t, err)
	_, err = s.Write(make([]byte, specs.FrameBytes()+1))
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}
