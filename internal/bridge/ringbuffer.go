package bridge

import (
	"sync/atomic"

	"github.com/openaudio/jackbridge/internal/errors"
)

// maxArenaBytes caps a single ring allocation at 1GB.
const maxArenaBytes = 1 << 30

// RingBuffer is a fixed-capacity sequence of audio slots. Each slot holds
// one period of planar float samples per channel plus a frame count and an
// engine timestamp. Sample storage is a single contiguous arena indexed by
// slot and channel, so reallocating on a period size change is one
// allocation and slot access never chases pointers.
//
// Two monotonically increasing cursors address the slots modulo capacity:
// the write cursor is advanced only by the process callback, the read cursor
// only by the transfer worker. When the writer laps the reader, old unread
// slots are silently overwritten; the reader then sees a newer, still
// self-consistent slot. The structure performs no locking of its own.
type RingBuffer struct {
	arena      []float32
	frames     []uint32
	timestamps []uint64

	capacity   int
	periodSize int
	channels   int

	readCursor  atomic.Int64
	writeCursor atomic.Int64
}

// NewRingBuffer allocates a ring of capacity zeroed slots, each holding
// channels sample arrays of periodSize frames. Both cursors start at 0.
func NewRingBuffer(capacity, periodSize, channels int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, errors.Newf("invalid ring capacity: %d slots", capacity).
			Component("bridge").
			Category(errors.CategoryBuffer).
			Context("capacity", capacity).
			Build()
	}
	if periodSize <= 0 {
		return nil, errors.Newf("invalid period size: %d frames", periodSize).
			Component("bridge").
			Category(errors.CategoryBuffer).
			Context("period_size", periodSize).
			Build()
	}
	if channels <= 0 {
		return nil, errors.Newf("invalid channel count: %d", channels).
			Component("bridge").
			Category(errors.CategoryBuffer).
			Context("channels", channels).
			Build()
	}

	samples := capacity * channels * periodSize
	if samples*4 > maxArenaBytes {
		return nil, errors.Newf("requested ring buffer too large: %d bytes", samples*4).
			Component("bridge").
			Category(errors.CategoryBuffer).
			Context("capacity", capacity).
			Context("period_size", periodSize).
			Context("channels", channels).
			Build()
	}

	return &RingBuffer{
		arena:      make([]float32, samples),
		frames:     make([]uint32, capacity),
		timestamps: make([]uint64, capacity),
		capacity:   capacity,
		periodSize: periodSize,
		channels:   channels,
	}, nil
}

// Release drops the slot storage and resets both cursors.
func (rb *RingBuffer) Release() {
	rb.writeCursor.Store(0)
	rb.readCursor.Store(0)
	rb.arena = nil
	rb.frames = nil
	rb.timestamps = nil
}

// Capacity returns the number of slots.
func (rb *RingBuffer) Capacity() int { return rb.capacity }

// PeriodSize returns the slot size in frames.
func (rb *RingBuffer) PeriodSize() int { return rb.periodSize }

// Channels returns the number of sample arrays per slot.
func (rb *RingBuffer) Channels() int { return rb.channels }

// WriteCursor returns the current write cursor.
func (rb *RingBuffer) WriteCursor() int64 { return rb.writeCursor.Load() }

// ReadCursor returns the current read cursor.
func (rb *RingBuffer) ReadCursor() int64 { return rb.readCursor.Load() }

// Available reports whether an unread slot exists.
func (rb *RingBuffer) Available() bool {
	return rb.readCursor.Load() < rb.writeCursor.Load()
}

// Overrun reports whether unread slots have been overwritten by the writer
// lapping the reader.
func (rb *RingBuffer) Overrun() bool {
	return rb.writeCursor.Load()-rb.readCursor.Load() > int64(rb.capacity)
}

// slotChannel returns the sample storage for one channel of one physical
// slot.
func (rb *RingBuffer) slotChannel(slot, channel int) []float32 {
	start := (slot*rb.channels + channel) * rb.periodSize
	return rb.arena[start : start+rb.periodSize]
}

// WriteSlotChannel returns the sample storage for one channel of the slot
// the write cursor addresses. Producer side only.
func (rb *RingBuffer) WriteSlotChannel(channel int) []float32 {
	slot := int(rb.writeCursor.Load() % int64(rb.capacity))
	return rb.slotChannel(slot, channel)
}

// CommitWrite records the written slot's frame count and timestamp, then
// publishes the slot by advancing the write cursor. The atomic increment
// makes the slot contents visible to the transfer worker. Frame counts above
// the period size are clamped.
func (rb *RingBuffer) CommitWrite(frames uint32, timestamp uint64) {
	if frames > uint32(rb.periodSize) {
		frames = uint32(rb.periodSize)
	}
	slot := int(rb.writeCursor.Load() % int64(rb.capacity))
	rb.frames[slot] = frames
	rb.timestamps[slot] = timestamp
	rb.writeCursor.Add(1)
}

// ReadSlotMeta returns the frame count and timestamp of the slot the read
// cursor addresses. Consumer side only.
func (rb *RingBuffer) ReadSlotMeta() (frames uint32, timestamp uint64) {
	slot := int(rb.readCursor.Load() % int64(rb.capacity))
	return rb.frames[slot], rb.timestamps[slot]
}

// ReadSlotChannel returns one channel of the slot the read cursor addresses,
// trimmed to the slot's frame count. Consumer side only.
func (rb *RingBuffer) ReadSlotChannel(channel int) []float32 {
	slot := int(rb.readCursor.Load() % int64(rb.capacity))
	frames := rb.frames[slot]
	return rb.slotChannel(slot, channel)[:frames]
}

// AdvanceRead consumes the slot the read cursor addresses.
func (rb *RingBuffer) AdvanceRead() {
	rb.readCursor.Add(1)
}
