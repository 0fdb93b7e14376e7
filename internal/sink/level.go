package sink

import "math"

// Level is a 0-100 audio level reading with clipping status.
type Level struct {
	Level    int  `json:"level"`
	Clipping bool `json:"clipping"`
}

// BlockLevel calculates the RMS (Root Mean Square) of all samples in the
// block and returns a Level with the scaled value and clipping status.
func BlockLevel(block *Block) Level {
	var sum float64
	var sampleCount int
	isClipping := false

	for _, channel := range block.Channels {
		for _, sample := range channel {
			s := float64(sample)
			sum += s * s
			if s >= 1.0 || s <= -1.0 {
				isClipping = true
			}
		}
		sampleCount += len(channel)
	}

	if sampleCount == 0 {
		return Level{Level: 0, Clipping: false}
	}

	rms := math.Sqrt(sum / float64(sampleCount))
	if rms == 0 {
		return Level{Level: 0, Clipping: false}
	}

	// Convert RMS to decibels and scale to a 0-100 range
	db := 20 * math.Log10(rms)
	scaledLevel := (db + 60) * (100.0 / 50.0)

	// If the audio is clipping, ensure the level is at or near 100
	if isClipping {
		scaledLevel = math.Max(scaledLevel, 95)
	}

	// Clamp the value between 0 and 100
	if scaledLevel < 0 {
		scaledLevel = 0
	} else if scaledLevel > 100 {
		scaledLevel = 100
	}

	return Level{
		Level:    int(scaledLevel),
		Clipping: isClipping,
	}
}
