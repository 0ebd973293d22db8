package deepgram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

func TestNewSynthesizerRejectsUnknownVoice(t *testing.T) {
	if _, err := NewSynthesizer("not-a-voice"); err == nil {
		t.Fatalf("expected error for unknown voice")
	}
}

func TestCreateSpeechSilenceNeedsNoConnection(t *testing.T) {
	s, err := NewSynthesizer("", WithAPIKey(""), WithEncodingInfo(audio.GetTelephonyEncodingInfo()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := s.CreateSpeech(context.Background(), messages.Silence{Duration: time.Second}, 4000, texttospeech.SpeechOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := 0
	for chunk, err := range result.Chunks {
		if err != nil {
			t.Fatalf("unexpected chunk error: %v", err)
		}
		total += len(chunk.Chunk)
	}
	if total != 8000 {
		t.Fatalf("expected 8000 bytes of silence, got %d", total)
	}
	if result.Message() != "" {
		t.Fatalf("expected empty message, got %q", result.Message())
	}
}

func TestCreateSpeechWithoutAPIKey(t *testing.T) {
	s, err := NewSynthesizer(VoiceOrion, WithAPIKey(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = s.CreateSpeech(context.Background(), messages.Text{Text: "hello"}, 0, texttospeech.SpeechOptions{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCreateSpeechEndOfTurn(t *testing.T) {
	s, _ := NewSynthesizer("")
	if _, err := s.CreateSpeech(context.Background(), messages.EndOfTurn{}, 0, texttospeech.SpeechOptions{}); err == nil {
		t.Fatalf("expected error for end of turn")
	}
}

func TestHandleEndOfTurnWithoutUtterance(t *testing.T) {
	s, _ := NewSynthesizer("")
	if err := s.HandleEndOfTurn(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CurrentUtteranceResult() != nil {
		t.Fatalf("expected no current utterance")
	}
	if err := s.TearDown(); err != nil {
		t.Fatalf("unexpected teardown error: %v", err)
	}
}
