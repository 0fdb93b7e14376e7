// Package sink defines the audio block model produced by the bridge and the
// downstream consumers that blocks are forwarded to.
package sink

// SampleFormat identifies the sample encoding of a block.
type SampleFormat int

const (
	// FormatFloat32Planar is one sample array per channel, 32-bit float.
	// The capture engine always delivers this format.
	FormatFloat32Planar SampleFormat = iota
)

// SpeakerLayout identifies the speaker arrangement of a block.
type SpeakerLayout string

const (
	LayoutMono    SpeakerLayout = "mono"
	LayoutStereo  SpeakerLayout = "stereo"
	Layout2Point1 SpeakerLayout = "2.1"
	Layout4Point0 SpeakerLayout = "4.0"
	Layout4Point1 SpeakerLayout = "4.1"
	Layout5Point1 SpeakerLayout = "5.1"
	Layout7Point1 SpeakerLayout = "7.1"
	LayoutUnknown SpeakerLayout = "unknown"
)

// Block is one period of captured audio with its metadata. Channels holds
// exactly Frames samples per channel. The sample slices reference ring buffer
// storage and are only valid for the duration of the WriteBlock call.
type Block struct {
	Format     SampleFormat
	SampleRate int
	Layout     SpeakerLayout
	Channels   [][]float32
	Frames     int
	Timestamp  uint64 // nanoseconds
}

// Sink consumes forwarded audio blocks. WriteBlock is called from the
// transfer worker and must not retain the block's sample slices.
type Sink interface {
	WriteBlock(block *Block) error
	Close() error
}
