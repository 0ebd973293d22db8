package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/transcript"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(_ context.Context, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]Kind, 0, len(c.events))
	for _, event := range c.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "started", event: NewConversationStarted("c"), expected: KindConversationStarted},
		{name: "transcript message", event: NewTranscriptMessage("c", transcript.Message{}), expected: KindTranscriptMessage},
		{name: "interrupted", event: NewInterrupted("c", 2), expected: KindInterrupted},
		{name: "presence check", event: NewHumanPresenceCheck("c", 1), expected: KindHumanPresenceCheck},
		{name: "ended", event: NewConversationEnded("c", true), expected: KindConversationEnded},
		{name: "transcript complete", event: NewTranscriptComplete("c", nil), expected: KindTranscriptComplete},
		{name: "recording", event: NewRecordingAvailable("c", "RE1", "https://example.com"), expected: KindRecordingAvailable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if got := testCase.event.ConversationID(); got != "c" {
				t.Fatalf("expected conversation id c, got %q", got)
			}
		})
	}
}

func TestManagerDeliversBySubscription(t *testing.T) {
	m := NewManager()
	all, messages := &collector{}, &collector{}
	m.Subscribe(all.handle)
	m.Subscribe(messages.handle, KindTranscriptMessage)
	if !m.HasSubscriptions() {
		t.Fatalf("expected subscriptions")
	}

	m.Start(context.Background())
	m.Publish(NewConversationStarted("c"))
	m.PublishMessage("c", transcript.Message{Text: "hi"})

	deadline := time.After(time.Second)
	for len(all.kinds()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", all.kinds())
		case <-time.After(time.Millisecond):
		}
	}
	m.Flush(context.Background())

	if kinds := all.kinds(); kinds[0] != KindConversationStarted || kinds[1] != KindTranscriptMessage {
		t.Fatalf("unexpected order %v", kinds)
	}
	if kinds := messages.kinds(); len(kinds) != 1 || kinds[0] != KindTranscriptMessage {
		t.Fatalf("expected only the transcript message, got %v", kinds)
	}
}

func TestFlushDeliversQueuedEvents(t *testing.T) {
	m := NewManager()
	c := &collector{}
	m.Subscribe(c.handle)

	m.Publish(NewConversationStarted("c"))
	m.Publish(NewTranscriptComplete("c", nil))
	m.Flush(context.Background())

	if kinds := c.kinds(); len(kinds) != 2 || kinds[1] != KindTranscriptComplete {
		t.Fatalf("expected queued events to be flushed, got %v", kinds)
	}
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	m := NewManager()
	c := &collector{}
	m.Subscribe(func(context.Context, Event) { panic("boom") })
	m.Subscribe(c.handle)

	m.Publish(NewConversationStarted("c"))
	m.Flush(context.Background())

	if len(c.kinds()) != 1 {
		t.Fatalf("expected the event to reach the second handler")
	}
}
