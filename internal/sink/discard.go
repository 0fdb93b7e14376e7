package sink

import "sync/atomic"

// DiscardSink accepts and drops every block. It counts what it drops so
// tests and benchmarks can observe delivery.
type DiscardSink struct {
	blocks atomic.Int64
	frames atomic.Int64
}

// NewDiscardSink returns a sink that drops all blocks.
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

func (s *DiscardSink) WriteBlock(block *Block) error {
	s.blocks.Add(1)
	s.frames.Add(int64(block.Frames))
	return nil
}

func (s *DiscardSink) Close() error { return nil }

// Blocks returns the number of blocks received.
func (s *DiscardSink) Blocks() int64 { return s.blocks.Load() }

// Frames returns the total frames received.
func (s *DiscardSink) Frames() int64 { return s.frames.Load() }
