package texttospeech

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/messages"
)

type SpeechOptions struct {
	IsFirstTextChunk bool
	IsSoleTextChunk  bool
}

type Synthesizer interface {
	// CreateSpeech starts synthesizing message. The returned result produces
	// audio in chunks of at most chunkSize bytes.
	CreateSpeech(ctx context.Context, message messages.Message, chunkSize int, opts SpeechOptions) (*SynthesisResult, error)
	EncodingInfo() audio.EncodingInfo

	FillerAudios() []FillerAudio
	SetFillerAudios(ctx context.Context, config FillerAudioConfig) error

	// Warmup prepares the synthesizer for an upcoming CreateSpeech call.
	Warmup(chunkSize int)
	TearDown() error
}

// InputStreamingSynthesizer accepts a response token by token. All tokens of
// an utterance are spoken through a single [SynthesisResult].
type InputStreamingSynthesizer interface {
	Synthesizer
	SendToken(ctx context.Context, token messages.LLMToken, chunkSize int) error
	HandleEndOfTurn(ctx context.Context) error
	CurrentUtteranceResult() *SynthesisResult
}

type FillerAudio struct {
	Message         string
	Audio           []byte
	EncodingInfo    audio.EncodingInfo
	IsInterruptible bool
	SecondsPerChunk float64
}

func (f FillerAudio) SynthesisResult() *SynthesisResult {
	return NewSynthesisResultFromAudio(f.Message, f.Audio, f.EncodingInfo, f.EncodingInfo.ChunkSize(f.SecondsPerChunk))
}

type FillerAudioConfig struct {
	// SilenceThreshold is how long to wait for a response before playing
	// filler audio.
	SilenceThreshold time.Duration
	UsePhrases       bool
	UseTypingNoise   bool
}

func DefaultFillerAudioConfig() FillerAudioConfig {
	return FillerAudioConfig{
		SilenceThreshold: 500 * time.Millisecond,
		UsePhrases:       true,
	}
}

// FillerPhrases are spoken while the agent is still thinking.
var FillerPhrases = []string{
	"Um...",
	"Uh...",
	"Uh-huh...",
	"Mm-hmm...",
	"Hmm...",
	"Okay...",
	"Right...",
	"Let me see...",
}
