package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

func requestFillerAudio(t *testing.T, a *agentStub) *agent.ResponseEvent {
	t.Helper()
	a.mu.Lock()
	attachment := a.attachment
	a.mu.Unlock()

	event := interruptible.NewAgentResponse(attachment.Factory, agent.Response(agent.FillerAudioRequest{}))
	attachment.Responses.ConsumeNonBlocking(event)
	return event
}

func TestFillerAudioPlayedAfterSilenceThreshold(t *testing.T) {
	encodingInfo := audio.GetTelephonyEncodingInfo()
	f := newFixture()
	f.synthesizer.fillerAudios = []texttospeech.FillerAudio{{
		Message:         "Um...",
		Audio:           encodingInfo.Silence(time.Second),
		EncodingInfo:    encodingInfo,
		IsInterruptible: true,
		SecondsPerChunk: 0.5,
	}}

	a := newAgentStub()
	a.config.SendFillerAudio = true
	a.config.FillerAudioConfig.SilenceThreshold = 10 * time.Millisecond
	c := f.conversation(a)
	startConversation(t, c)

	event := requestFillerAudio(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := event.Tracker.Wait(ctx); err != nil {
		t.Fatalf("filler audio tracker was never set: %v", err)
	}
	if played := f.output.playedBytes(); played != encodingInfo.ChunkSize(1) {
		t.Fatalf("expected the whole filler audio to be played, got %d bytes", played)
	}
	if f.transcriber.muted.Load() != f.transcriber.unmuted.Load() {
		t.Fatalf("expected every mute to be undone")
	}
}

func TestFillerAudioRequestWithoutFillerAudioSettles(t *testing.T) {
	f := newFixture()
	a := newAgentStub()
	c := f.conversation(a)
	startConversation(t, c)

	event := requestFillerAudio(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := event.Tracker.Wait(ctx); err != nil {
		t.Fatalf("filler audio tracker was never set: %v", err)
	}
	if played := f.output.playedBytes(); played != 0 {
		t.Fatalf("expected no audio, got %d bytes", played)
	}
}
