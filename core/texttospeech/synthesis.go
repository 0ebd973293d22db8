package texttospeech

import (
	"iter"
	"math"
	"strings"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

type ChunkResult struct {
	Chunk       []byte
	IsLastChunk bool
}

// SynthesisResult is the speech produced for a single message. Chunks is
// lazy, finite and can only be iterated once.
type SynthesisResult struct {
	Chunks iter.Seq2[ChunkResult, error]
	Cached bool
	// IsFirst is set on the first result of an agent response.
	IsFirst bool

	message     func() string
	messageUpTo func(elapsed time.Duration) string
}

// NewSynthesisResult wraps a chunk sequence. message returns the full text
// being spoken, which may still grow while a streamed utterance is generated.
func NewSynthesisResult(message func() string, chunks iter.Seq2[ChunkResult, error], messageUpTo func(time.Duration) string) *SynthesisResult {
	return &SynthesisResult{Chunks: chunks, message: message, messageUpTo: messageUpTo}
}

func (r *SynthesisResult) Message() string {
	if r.message == nil {
		return ""
	}
	return r.message()
}

// MessageUpTo estimates the part of the message spoken after elapsed time of
// playback.
func (r *SynthesisResult) MessageUpTo(elapsed time.Duration) string {
	if r.messageUpTo == nil {
		return r.Message()
	}
	return r.messageUpTo(elapsed)
}

// NewSynthesisResultFromAudio serves already synthesized audio in chunks of
// chunkSize bytes. The spoken part of the message is estimated assuming the
// characters are spread evenly over the audio.
func NewSynthesisResultFromAudio(message string, data []byte, encodingInfo audio.EncodingInfo, chunkSize int) *SynthesisResult {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	total := encodingInfo.Duration(len(data))

	chunks := func(yield func(ChunkResult, error) bool) {
		for start := 0; start < len(data); start += chunkSize {
			end := min(start+chunkSize, len(data))
			if !yield(ChunkResult{Chunk: data[start:end], IsLastChunk: end == len(data)}, nil) {
				return
			}
		}
	}

	return &SynthesisResult{
		Chunks:  chunks,
		Cached:  true,
		message: func() string { return message },
		messageUpTo: func(elapsed time.Duration) string {
			return CutoffFromTotalLength(message, elapsed, total)
		},
	}
}

// CutoffFromTotalLength returns the prefix of message spoken after elapsed
// time, given the whole message takes total to speak.
func CutoffFromTotalLength(message string, elapsed, total time.Duration) string {
	runes := []rune(message)
	if len(runes) == 0 || total <= 0 {
		return message
	}
	perChar := total.Seconds() / float64(len(runes))
	spoken := int(elapsed.Seconds() / perChar)
	return string(runes[:min(max(spoken, 0), len(runes))])
}

// CutoffFromVoiceSpeed returns the words of message spoken after elapsed
// time at the given speaking rate.
func CutoffFromVoiceSpeed(message string, elapsed time.Duration, wordsPerMinute float64) string {
	words := strings.Fields(message)
	spoken := int(math.Floor(wordsPerMinute / 60 * elapsed.Seconds()))
	return strings.Join(words[:min(max(spoken, 0), len(words))], " ")
}

// NewSilenceResult produces the given amount of silence.
func NewSilenceResult(duration time.Duration, encodingInfo audio.EncodingInfo, chunkSize int) *SynthesisResult {
	result := NewSynthesisResultFromAudio("", encodingInfo.Silence(duration), encodingInfo, chunkSize)
	result.messageUpTo = func(time.Duration) string { return "" }
	return result
}
