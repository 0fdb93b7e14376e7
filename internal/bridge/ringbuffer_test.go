package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingBufferCapacity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		sampleRate int
		periodSize int
		channels   int
	}{
		{"one_second_48k", 48000, 480, 2},
		{"one_second_44k1", 44100, 441, 1},
		{"large_period", 48000, 4096, 8},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			capacity := tc.sampleRate / tc.periodSize
			rb, err := NewRingBuffer(capacity, tc.periodSize, tc.channels)
			require.NoError(t, err)

			assert.Equal(t, capacity, rb.Capacity())
			assert.Equal(t, tc.periodSize, rb.PeriodSize())
			assert.Equal(t, tc.channels, rb.Channels())
			assert.Equal(t, int64(0), rb.ReadCursor(), "read cursor should start at 0")
			assert.Equal(t, int64(0), rb.WriteCursor(), "write cursor should start at 0")
			assert.False(t, rb.Available())

			// Every slot starts zeroed
			for slot := 0; slot < capacity; slot++ {
				assert.Zero(t, rb.frames[slot])
				for _, sample := range rb.slotChannel(slot, 0) {
					if sample != 0 {
						t.Fatalf("slot %d not zeroed", slot)
					}
				}
			}
		})
	}
}

func TestNewRingBufferValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		capacity   int
		periodSize int
		channels   int
	}{
		{"zero_capacity", 0, 480, 2},
		{"negative_capacity", -1, 480, 2},
		{"zero_period", 100, 0, 2},
		{"zero_channels", 100, 480, 0},
		{"over_one_gigabyte", 1 << 20, 1 << 10, 1 << 4},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rb, err := NewRingBuffer(tc.capacity, tc.periodSize, tc.channels)
			assert.Error(t, err)
			assert.Nil(t, rb)
		})
	}
}

func TestRingBufferWriteReadFidelity(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(100, 480, 2)
	require.NoError(t, err)

	left := rb.WriteSlotChannel(0)
	right := rb.WriteSlotChannel(1)
	for i := range left {
		left[i] = float32(i) * 0.001
		right[i] = float32(i) * -0.001
	}
	rb.CommitWrite(480, 12345)

	require.True(t, rb.Available())
	frames, timestamp := rb.ReadSlotMeta()
	assert.Equal(t, uint32(480), frames)
	assert.Equal(t, uint64(12345), timestamp)

	gotLeft := rb.ReadSlotChannel(0)
	gotRight := rb.ReadSlotChannel(1)
	require.Len(t, gotLeft, 480)
	require.Len(t, gotRight, 480)
	for i := 0; i < 480; i++ {
		assert.Equal(t, float32(i)*0.001, gotLeft[i])
		assert.Equal(t, float32(i)*-0.001, gotRight[i])
	}

	rb.AdvanceRead()
	assert.False(t, rb.Available())
}

func TestRingBufferPartialPeriod(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(10, 480, 1)
	require.NoError(t, err)

	samples := rb.WriteSlotChannel(0)
	for i := 0; i < 100; i++ {
		samples[i] = 0.5
	}
	rb.CommitWrite(100, 0)

	frames, _ := rb.ReadSlotMeta()
	assert.Equal(t, uint32(100), frames)
	assert.Len(t, rb.ReadSlotChannel(0), 100, "read should be trimmed to the stored frame count")
}

func TestRingBufferFrameCountClamped(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(10, 480, 1)
	require.NoError(t, err)

	rb.CommitWrite(10_000, 0)
	frames, _ := rb.ReadSlotMeta()
	assert.Equal(t, uint32(480), frames)
}

func TestRingBufferCursorMonotonicity(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(4, 8, 1)
	require.NoError(t, err)

	var lastRead, lastWrite int64
	for i := 0; i < 20; i++ {
		rb.CommitWrite(8, uint64(i))
		assert.GreaterOrEqual(t, rb.WriteCursor(), lastWrite)
		lastWrite = rb.WriteCursor()

		if rb.Available() && i%2 == 0 {
			rb.AdvanceRead()
		}
		assert.GreaterOrEqual(t, rb.ReadCursor(), lastRead)
		lastRead = rb.ReadCursor()

		assert.LessOrEqual(t, rb.ReadCursor(), rb.WriteCursor(),
			"read cursor must never exceed write cursor")
	}
}

// TestRingBufferOverrunContainment writes more slots than the buffer holds
// without reading and verifies every subsequently read slot is structurally
// valid: the slot the reader lands on holds exactly the samples some writer
// put there, never a mix.
func TestRingBufferOverrunContainment(t *testing.T) {
	t.Parallel()

	const capacity, periodSize = 4, 16
	rb, err := NewRingBuffer(capacity, periodSize, 1)
	require.NoError(t, err)

	// Write 3x capacity slots, each filled with its own write index.
	const writes = 3 * capacity
	for w := 0; w < writes; w++ {
		samples := rb.WriteSlotChannel(0)
		for i := range samples {
			samples[i] = float32(w)
		}
		rb.CommitWrite(periodSize, uint64(w))
	}

	assert.True(t, rb.Overrun())
	assert.Equal(t, int64(writes), rb.WriteCursor())

	// Drain what the reader can still see. Each slot must be uniform: all
	// samples from a single (stale but consistent) write.
	for rb.Available() {
		frames, timestamp := rb.ReadSlotMeta()
		require.Equal(t, uint32(periodSize), frames)

		samples := rb.ReadSlotChannel(0)
		want := samples[0]
		for i, sample := range samples {
			require.Equal(t, want, sample, "slot mixes writes at sample %d", i)
		}
		// The surviving write is the one whose index maps to this
		// physical slot most recently.
		assert.Equal(t, uint64(want), timestamp)
		rb.AdvanceRead()
	}

	assert.Equal(t, rb.WriteCursor(), rb.ReadCursor())
}

func TestRingBufferRelease(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(100, 480, 2)
	require.NoError(t, err)

	rb.CommitWrite(480, 1)
	rb.Release()

	assert.Equal(t, int64(0), rb.ReadCursor())
	assert.Equal(t, int64(0), rb.WriteCursor())
	assert.Nil(t, rb.arena)
}
