package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/transcript"
)

type responseRecorder struct {
	mu        sync.Mutex
	responses []*ResponseEvent
	received  chan struct{}
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{received: make(chan struct{}, 64)}
}

func (r *responseRecorder) ConsumeNonBlocking(event *ResponseEvent) {
	r.mu.Lock()
	r.responses = append(r.responses, event)
	r.mu.Unlock()
	r.received <- struct{}{}
}

func (r *responseRecorder) waitFor(t *testing.T, n int) []*ResponseEvent {
	t.Helper()
	for range n {
		select {
		case <-r.received:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d responses", n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ResponseEvent(nil), r.responses...)
}

func startEcho(t *testing.T, config Config) (*Echo, *responseRecorder, *interruptible.Factory, *transcript.Transcript) {
	t.Helper()
	recorder := newResponseRecorder()
	factory := interruptible.NewFactory(nil)
	store := transcript.New("conversation", nil)

	echo := NewEcho(config)
	echo.Attach(Attachment{ConversationID: "conversation", Responses: recorder, Factory: factory, Transcript: store})
	echo.Start(context.Background())
	t.Cleanup(echo.Terminate)
	return echo, recorder, factory, store
}

func TestEchoRespondsWithMessageAndEndOfTurn(t *testing.T) {
	echo, recorder, factory, store := startEcho(t, DefaultConfig())

	input := interruptible.New(factory, Input{Transcription: speechtotext.Transcription{Message: "hello there", IsFinal: true}})
	echo.ConsumeNonBlocking(input)

	responses := recorder.waitFor(t, 2)
	message, ok := responses[0].Payload.(Message)
	if !ok {
		t.Fatalf("expected a message, got %T", responses[0].Payload)
	}
	if message.Message.Spoken() != "You said: hello there" || !message.IsFirst {
		t.Fatalf("unexpected first response: %+v", message)
	}
	if end, ok := responses[1].Payload.(Message); !ok || end.Message != (messages.EndOfTurn{}) {
		t.Fatalf("expected end of turn, got %+v", responses[1].Payload)
	}
	if responses[0].Token() != input.Token() {
		t.Fatalf("expected responses to share the input token")
	}

	recent := store.RecentMessages(1)
	if len(recent) != 1 || recent[0].Sender != transcript.SenderHuman || recent[0].Text != "hello there" {
		t.Fatalf("expected the human message in the transcript, got %+v", recent)
	}
	if echo.LastBotMessage() != "You said: hello there" {
		t.Fatalf("unexpected last bot message %q", echo.LastBotMessage())
	}
}

func TestEchoStopsOnGoodbye(t *testing.T) {
	echo, recorder, factory, _ := startEcho(t, DefaultConfig())

	echo.ConsumeNonBlocking(interruptible.New(factory, Input{Transcription: speechtotext.Transcription{Message: "Goodbye.", IsFinal: true}}))

	responses := recorder.waitFor(t, 3)
	if _, ok := responses[2].Payload.(Stop); !ok {
		t.Fatalf("expected stop, got %T", responses[2].Payload)
	}
	if responses[2].IsInterruptible() {
		t.Fatalf("expected stop not to be interruptible")
	}
}

func TestEchoRequestsFillerAudio(t *testing.T) {
	config := DefaultConfig()
	config.SendFillerAudio = true
	echo, recorder, factory, _ := startEcho(t, config)

	echo.ConsumeNonBlocking(interruptible.New(factory, Input{Transcription: speechtotext.Transcription{Message: "hi", IsFinal: true}}))

	responses := recorder.waitFor(t, 3)
	if _, ok := responses[0].Payload.(FillerAudioRequest); !ok {
		t.Fatalf("expected filler audio request first, got %T", responses[0].Payload)
	}
}

func TestEndOfTurnUsesInputTracker(t *testing.T) {
	echo, recorder, factory, _ := startEcho(t, DefaultConfig())

	tracker := interruptible.NewTracker()
	echo.ConsumeNonBlocking(interruptible.New(factory, Input{Transcription: speechtotext.Transcription{Message: "hi", IsFinal: true}, Tracker: tracker}))

	responses := recorder.waitFor(t, 2)
	if responses[1].Tracker != tracker {
		t.Fatalf("expected end of turn to carry the input tracker")
	}
	if responses[0].Tracker == tracker {
		t.Fatalf("expected the message to get its own tracker")
	}
}

func TestCutOffUpdatesLastBotMessage(t *testing.T) {
	echo := NewEcho(DefaultConfig())
	echo.UpdateLastBotMessageOnCutOff("You said")
	if echo.LastBotMessage() != "You said" {
		t.Fatalf("unexpected last bot message %q", echo.LastBotMessage())
	}
}
