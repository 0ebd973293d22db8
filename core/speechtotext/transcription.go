package speechtotext

import (
	"strings"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

// Transcription is a single fragment produced by a transcriber. Fragments
// are either interim (IsFinal is false) or final for the utterance.
type Transcription struct {
	Message    string
	Confidence float64
	IsFinal    bool
	// Duration is the amount of speech the fragment covers, when known.
	Duration time.Duration

	IsInterrupt       bool
	BotWasInMediasRes bool
}

// WPM is the speaking rate of the fragment in words per minute, or 0 when the
// duration is unknown.
func (t Transcription) WPM() float64 {
	if t.Duration <= 0 {
		return 0
	}
	return float64(len(strings.Fields(t.Message))) / t.Duration.Minutes()
}

type EndpointingConfig struct {
	// SimulateInterrupt is set while the bot delivers a scripted interruption
	// and should not be interrupted itself.
	SimulateInterrupt bool
}

type Config struct {
	EncodingInfo           audio.EncodingInfo
	MuteDuringSpeech       bool
	MinInterruptConfidence float64
	Endpointing            EndpointingConfig
}

func DefaultConfig() Config {
	return Config{EncodingInfo: audio.GetDefaultEncodingInfo()}
}
