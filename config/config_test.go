package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/config"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/mock"
	"pipelined.dev/engine/scheduler"
)

const full = `
project: demo
audio:
  sampleRate: 44100
  blockSize: 512
  channels: 1
  format: int16
  cachedFrames: 4
transport:
  tempo: 90
  mode: live
  loop:
    from: 128
    to: 1024
    enabled: true
engine:
  parallelism: 2
  queueCapacity: 65536
  minPower: 8
  maxPower: 20
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected func() config.File
		err      error
	}{
		{
			name:     "empty",
			input:    "",
			expected: config.Default,
		},
		{
			name:  "partial",
			input: "audio:\n  blockSize: 256\n",
			expected: func() config.File {
				f := config.Default()
				f.Audio.BlockSize = 256
				return f
			},
		},
		{
			name:  "full",
			input: full,
			expected: func() config.File {
				return config.File{
					Project: "demo",
					Audio: config.Audio{
						SampleRate:   44100,
						BlockSize:    512,
						Channels:     1,
						Format:       "int16",
						CachedFrames: 4,
					},
					Transport: config.Transport{
						Tempo: 90,
						Mode:  "live",
						Loop:  config.Loop{From: 128, To: 1024, Enabled: true},
					},
					Engine: config.Engine{
						Parallelism:   2,
						QueueCapacity: 65536,
						MinPower:      8,
						MaxPower:      20,
					},
				}
			},
		},
		{
			name:  "unknown field",
			input: "audio:\n  bitDepth: 24\n",
		},
		{
			name:  "invalid format",
			input: "audio:\n  format: float64\n",
			err:   block.ErrUnsupportedFormat,
		},
		{
			name:  "invalid tempo",
			input: "transport:\n  tempo: -1\n",
			err:   beat.ErrInvalidTempo,
		},
		{
			name:  "empty loop",
			input: "transport:\n  loop: {from: 10, to: 10, enabled: true}\n",
			err:   config.ErrInvalid,
		},
		{
			name:  "invalid mode",
			input: "transport:\n  mode: studio\n",
			err:   config.ErrInvalid,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, err := config.Load(strings.NewReader(test.input))
			if test.expected == nil {
				assert.Error(t, err)
				if test.err != nil {
					assert.ErrorIs(t, err, test.err)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected(), f)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(full), 0o600))
	f, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", f.Project)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApply(t *testing.T) {
	f, err := config.Load(strings.NewReader(full))
	require.NoError(t, err)

	specs, err := f.Specs()
	require.NoError(t, err)
	assert.Equal(t, block.Specs{SampleRate: 44100, Channels: block.Mono, Format: block.Int16, BlockSize: 512}, specs)

	pool := f.Pool()
	assert.Equal(t, 13, pool.Buckets())
	assert.Equal(t, 256, pool.BucketCapacity(0))

	master := engine.NewNode(&mock.Mixer{})
	require.NoError(t, master.Add(engine.NewNode(&mock.Plugin{Flag: engine.AudioOutput})))
	p, err := engine.NewProject(f.Project, master)
	require.NoError(t, err)
	require.NoError(t, f.Apply(p))
	assert.Equal(t, specs, p.Specs())
	assert.Equal(t, 90.0, p.Tempo())
	assert.Equal(t, engine.ModeLive, p.Mode())

	s, err := scheduler.New(p, nil, f.Options(log.Discard())...)
	require.NoError(t, err)
	assert.True(t, s.Looping())
	assert.Equal(t, beat.Range{From: 128, To: 1024}, s.Loop())
}
