package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func blockOf(channels ...[]float32) *Block {
	frames := 0
	if len(channels) > 0 {
		frames = len(channels[0])
	}
	return &Block{
		Format:     FormatFloat32Planar,
		SampleRate: 48000,
		Channels:   channels,
		Frames:     frames,
	}
}

func TestBlockLevelSilence(t *testing.T) {
	t.Parallel()

	level := BlockLevel(blockOf(make([]float32, 480), make([]float32, 480)))
	assert.Equal(t, 0, level.Level)
	assert.False(t, level.Clipping)
}

func TestBlockLevelEmpty(t *testing.T) {
	t.Parallel()

	level := BlockLevel(blockOf())
	assert.Equal(t, 0, level.Level)
	assert.False(t, level.Clipping)
}

func TestBlockLevelFullScale(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 1.0
	}
	level := BlockLevel(blockOf(samples))
	assert.True(t, level.Clipping)
	assert.GreaterOrEqual(t, level.Level, 95, "clipping audio reads at or near full scale")
	assert.LessOrEqual(t, level.Level, 100)
}

func TestBlockLevelQuietSignal(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 0.01 // -40dB, well inside the displayed range
	}
	level := BlockLevel(blockOf(samples))
	assert.False(t, level.Clipping)
	assert.Greater(t, level.Level, 0)
	assert.Less(t, level.Level, 95)
}

func TestBlockLevelMonotonicInAmplitude(t *testing.T) {
	t.Parallel()

	at := func(amplitude float32) int {
		samples := make([]float32, 480)
		for i := range samples {
			samples[i] = amplitude
		}
		return BlockLevel(blockOf(samples)).Level
	}

	assert.Less(t, at(0.01), at(0.1))
	assert.Less(t, at(0.1), at(0.9))
}

func TestDiscardSinkCounts(t *testing.T) {
	t.Parallel()

	s := NewDiscardSink()
	assert.NoError(t, s.WriteBlock(blockOf(make([]float32, 480))))
	assert.NoError(t, s.WriteBlock(blockOf(make([]float32, 100))))
	assert.NoError(t, s.Close())

	assert.Equal(t, int64(2), s.Blocks())
	assert.Equal(t, int64(580), s.Frames())
}
