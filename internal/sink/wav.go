package sink

import (
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/openaudio/jackbridge/internal/errors"
)

// wav output is 16-bit PCM
const wavBitDepth = 16

// WavSink writes forwarded blocks to a WAV file, interleaving the planar
// float samples and converting them to 16-bit PCM.
type WavSink struct {
	file     *os.File
	encoder  *wav.Encoder
	channels int
	// scratch buffer reused between blocks to keep WriteBlock allocation
	// free in steady state
	interleaved []int
}

// NewWavSink creates a WAV file sink at the given path. Parent directories
// are created as needed.
func NewWavSink(path string, sampleRate, channels int) (*WavSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.New(err).
			Component("sink").
			Category(errors.CategoryFileIO).
			Context("operation", "create_directories").
			Context("path", path).
			Build()
	}

	outFile, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component("sink").
			Category(errors.CategoryFileIO).
			Context("operation", "create_file").
			Context("path", path).
			Build()
	}

	enc := wav.NewEncoder(outFile, sampleRate, wavBitDepth, channels, 1)

	return &WavSink{
		file:     outFile,
		encoder:  enc,
		channels: channels,
	}, nil
}

// WriteBlock appends one block to the WAV file.
func (s *WavSink) WriteBlock(block *Block) error {
	if len(block.Channels) != s.channels {
		return errors.Newf("block has %d channels, sink expects %d", len(block.Channels), s.channels).
			Component("sink").
			Category(errors.CategoryValidation).
			Build()
	}

	needed := block.Frames * s.channels
	if cap(s.interleaved) < needed {
		s.interleaved = make([]int, needed)
	}
	samples := s.interleaved[:needed]

	for f := 0; f < block.Frames; f++ {
		for ch := 0; ch < s.channels; ch++ {
			samples[f*s.channels+ch] = floatToS16(block.Channels[ch][f])
		}
	}

	buf := &audio.IntBuffer{
		Data:   samples,
		Format: &audio.Format{SampleRate: block.SampleRate, NumChannels: s.channels},
	}
	if err := s.encoder.Write(buf); err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryFileIO).
			Context("operation", "wav_write").
			Build()
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (s *WavSink) Close() error {
	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

// floatToS16 converts a float sample in [-1, 1] to a 16-bit PCM value,
// clamping out-of-range input.
func floatToS16(sample float32) int {
	switch {
	case sample >= 1.0:
		return 32767
	case sample <= -1.0:
		return -32768
	default:
		return int(sample * 32767)
	}
}
