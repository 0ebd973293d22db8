package texttospeech

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

func TestSynthesisResultFromAudioChunks(t *testing.T) {
	encoding := audio.GetTelephonyEncodingInfo()
	data := make([]byte, 20000)
	result := NewSynthesisResultFromAudio("one two six.", data, encoding, 8000)

	sizes := []int{}
	last := false
	for chunk, err := range result.Chunks {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sizes = append(sizes, len(chunk.Chunk))
		last = chunk.IsLastChunk
	}
	if len(sizes) != 3 || sizes[0] != 8000 || sizes[2] != 4000 {
		t.Fatalf("expected chunks of 8000, 8000 and 4000 bytes, got %v", sizes)
	}
	if !last {
		t.Fatalf("expected final chunk to be flagged as last")
	}
}

func TestCutoffFromTotalLength(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, ""},
		{time.Second, "one "},
		{2 * time.Second, "one two "},
		{10 * time.Second, "one two six."},
	}
	for _, c := range cases {
		if got := CutoffFromTotalLength("one two six.", c.elapsed, 3*time.Second); got != c.want {
			t.Fatalf("after %v expected %q, got %q", c.elapsed, c.want, got)
		}
	}
}

func TestCutoffFromVoiceSpeed(t *testing.T) {
	if got := CutoffFromVoiceSpeed("one two three four", 1500*time.Millisecond, 120); got != "one two three" {
		t.Fatalf("expected three words after 1.5s at 120 wpm, got %q", got)
	}
	if got := CutoffFromVoiceSpeed("one two", time.Minute, 120); got != "one two" {
		t.Fatalf("expected whole message, got %q", got)
	}
}

func TestSilenceResultSpeaksNothing(t *testing.T) {
	result := NewSilenceResult(time.Second, audio.GetTelephonyEncodingInfo(), 4000)

	chunks := 0
	for range result.Chunks {
		chunks++
	}
	if chunks != 2 {
		t.Fatalf("expected 2 chunks of silence, got %d", chunks)
	}
	if got := result.MessageUpTo(time.Second); got != "" {
		t.Fatalf("expected no text, got %q", got)
	}
}
