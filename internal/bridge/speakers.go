package bridge

import "github.com/openaudio/jackbridge/internal/sink"

// SpeakersForChannels maps a channel count reported by the engine to a
// speaker layout. This might not hold for some rather unusual setups, but
// works for the majority of cases. There is no established layout for 7
// channels, so it maps to unknown like every other untabulated count.
func SpeakersForChannels(channels int) sink.SpeakerLayout {
	switch channels {
	case 1:
		return sink.LayoutMono
	case 2:
		return sink.LayoutStereo
	case 3:
		return sink.Layout2Point1
	case 4:
		return sink.Layout4Point0
	case 5:
		return sink.Layout4Point1
	case 6:
		return sink.Layout5Point1
	case 8:
		return sink.Layout7Point1
	}
	return sink.LayoutUnknown
}
