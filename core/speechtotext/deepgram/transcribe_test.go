package deepgram

import (
	"fmt"
	"sync"
	"testing"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

type consumerStub struct {
	mu             sync.Mutex
	transcriptions []speechtotext.Transcription
}

func (c *consumerStub) ConsumeNonBlocking(transcription speechtotext.Transcription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcriptions = append(c.transcriptions, transcription)
}

func resultMessage(transcript string, isFinal, speechFinal bool, duration float64) []byte {
	return fmt.Appendf(nil,
		`{"type":%q,"is_final":%t,"speech_final":%t,"duration":%g,"channel":{"alternatives":[{"transcript":%q,"confidence":0.9}]}}`,
		string(api.TypeMessageResponse), isFinal, speechFinal, duration, transcript,
	)
}

func TestProcessMessageEmitsInterimAndFinalFragments(t *testing.T) {
	consumer := &consumerStub{}
	transcriber := NewTranscriber(speechtotext.DefaultConfig(), WithAPIKey("test"))
	transcriber.SetConsumer(consumer)

	transcriber.processMessage(resultMessage("hello", false, false, 0.5))
	transcriber.processMessage(resultMessage("hello there", true, false, 1))
	transcriber.processMessage(resultMessage("how are", false, false, 0.5))
	transcriber.processMessage(resultMessage("how are you", true, true, 1))

	consumer.mu.Lock()
	defer consumer.mu.Unlock()

	if len(consumer.transcriptions) != 3 {
		t.Fatalf("expected 3 transcriptions, got %d", len(consumer.transcriptions))
	}
	if got := consumer.transcriptions[1].Message; got != "hello there how are" {
		t.Fatalf("expected interim to include finalized segments, got %q", got)
	}
	final := consumer.transcriptions[2]
	if !final.IsFinal || final.Message != "hello there how are you" {
		t.Fatalf("expected final transcription of the whole utterance, got %+v", final)
	}
	if final.Duration != 2*time.Second {
		t.Fatalf("expected 2s of speech, got %v", final.Duration)
	}
}

func TestUtteranceEndFlushesPendingSegments(t *testing.T) {
	consumer := &consumerStub{}
	transcriber := NewTranscriber(speechtotext.DefaultConfig(), WithAPIKey("test"))
	transcriber.SetConsumer(consumer)

	transcriber.processMessage(resultMessage("yes", true, false, 0.3))
	transcriber.processMessage(fmt.Appendf(nil, `{"type":%q}`, string(api.TypeUtteranceEndResponse)))

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.transcriptions) != 1 || !consumer.transcriptions[0].IsFinal {
		t.Fatalf("expected utterance end to emit one final transcription, got %+v", consumer.transcriptions)
	}
}

func TestConvertEncodingRejectsInvalidCombinations(t *testing.T) {
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}); err == nil {
		t.Fatalf("expected mulaw at 16kHz to be rejected")
	}
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 44100, Format: audio.EncodingLinear16}); err == nil {
		t.Fatalf("expected unsupported sample rate to be rejected")
	}
	encoding, err := convertEncoding(audio.GetTelephonyEncodingInfo())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoding.Format != encodingMulaw {
		t.Fatalf("expected mulaw, got %s", encoding.Format.Name())
	}
}

func TestStartWithoutAPIKeyIsNotReady(t *testing.T) {
	transcriber := NewTranscriber(speechtotext.DefaultConfig(), WithAPIKey(""))

	if err := transcriber.Start(t.Context()); err == nil {
		t.Fatalf("expected start to fail without api key")
	}
	if transcriber.Ready(t.Context()) {
		t.Fatalf("expected transcriber not to be ready")
	}
}
