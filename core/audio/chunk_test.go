package audio

import (
	"testing"
	"time"
)

func TestChunkTransitionsOnce(t *testing.T) {
	played, interrupted := 0, 0
	chunk := NewChunk([]byte{1, 2}, func() { played++ }, func() { interrupted++ })

	if !chunk.MarkInterrupted() {
		t.Fatalf("expected first transition to succeed")
	}
	if chunk.MarkPlayed() || chunk.MarkInterrupted() {
		t.Fatalf("expected terminal state to be final")
	}
	if played != 0 || interrupted != 1 {
		t.Fatalf("expected only on interrupt to fire once, got played=%d interrupted=%d", played, interrupted)
	}
	if got := chunk.State(); got != ChunkInterrupted {
		t.Fatalf("expected state %v, got %v", ChunkInterrupted, got)
	}
}

func TestChunkHandlerPanicIsRecovered(t *testing.T) {
	chunk := NewChunk(nil, func() { panic("handler failed") }, nil)

	if !chunk.MarkPlayed() {
		t.Fatalf("expected transition to succeed despite failing handler")
	}
	if got := chunk.State(); got != ChunkPlayed {
		t.Fatalf("expected state %v, got %v", ChunkPlayed, got)
	}
}

func TestEncodingInfoSizes(t *testing.T) {
	info := GetTelephonyEncodingInfo()

	if got := info.ChunkSize(1); got != 8000 {
		t.Fatalf("expected 8000 bytes per second of mulaw, got %d", got)
	}
	if got := info.Duration(4000); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", got)
	}
	silence := info.Silence(10 * time.Millisecond)
	if len(silence) != 80 || silence[0] != 0xFF {
		t.Fatalf("expected 80 bytes of mulaw silence, got %d bytes starting with %x", len(silence), silence[0])
	}
	if got := GetDefaultEncodingInfo().ChunkSize(0.5); got != 16000 {
		t.Fatalf("expected 16000 bytes for half a second of linear16, got %d", got)
	}
}
