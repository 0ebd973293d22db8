package orchestration

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/ivr"
	"github.com/koscakluka/ema-voice/core/transcript"
)

type eventsCollector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *eventsCollector) handle(_ context.Context, event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventsCollector) kinds() []events.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]events.Kind, 0, len(c.events))
	for _, event := range c.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func (c *eventsCollector) count(kind events.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, event := range c.events {
		if event.Kind() == kind {
			count++
		}
	}
	return count
}

func startConversation(t *testing.T, c *StreamingConversation) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("failed to start conversation: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate conversation: %v", err)
		}
	})
}

func hasBotMessage(c *StreamingConversation, text string) func() bool {
	return func() bool {
		message, ok := findMessage(c.transcript, transcript.SenderBot, text)
		return ok && message.IsFinal
	}
}

func TestConversationRespondsToText(t *testing.T) {
	f := newFixture()
	c := f.conversation(agent.NewEcho(agent.DefaultConfig()))
	startConversation(t, c)

	c.ReceiveTextMessage("hello")
	waitFor(t, "echo response", func() bool {
		message, ok := findMessage(c.transcript, transcript.SenderBot, "You said: hello")
		return ok && message.IsFinal && message.IsEndOfTurn
	})

	if _, ok := findMessage(c.transcript, transcript.SenderHuman, "hello"); !ok {
		t.Fatalf("expected human message in transcript, got %+v", c.transcript.Snapshot())
	}
	if f.output.playedBytes() == 0 {
		t.Fatalf("expected the response to be played")
	}
}

func TestConversationSendsInitialMessage(t *testing.T) {
	f := newFixture()
	config := agent.DefaultConfig()
	config.InitialMessage = "Hi, how can I help?"
	c := f.conversation(agent.NewEcho(config))
	startConversation(t, c)

	waitFor(t, "initial message", hasBotMessage(c, "Hi, how can I help?"))
	waitFor(t, "initial message tracker", c.initialMessageTracker.IsSet)
}

func TestConversationStopsOnGoodbye(t *testing.T) {
	f := newFixture()
	manager := events.NewManager()
	collector := &eventsCollector{}
	manager.Subscribe(collector.handle, events.KindConversationEnded)
	c := f.conversation(agent.NewEcho(agent.DefaultConfig()), WithEventsSink(manager))
	startConversation(t, c)

	c.ReceiveTextMessage("goodbye")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForTermination(ctx); err != nil {
		t.Fatalf("conversation did not terminate: %v", err)
	}
	if c.IsActive() {
		t.Fatalf("expected conversation to be inactive")
	}
	if _, ok := findMessage(c.transcript, transcript.SenderBot, "Goodbye!"); !ok {
		t.Fatalf("expected goodbye to be said before terminating, got %+v", c.transcript.Snapshot())
	}

	manager.Flush(context.Background())
	if collector.count(events.KindConversationEnded) != 1 {
		t.Fatalf("expected a single conversation ended event, got %v", collector.kinds())
	}
	if ended := collector.events[0].(events.ConversationEnded); !ended.BotDisconnect {
		t.Fatalf("expected the bot to have disconnected")
	}
}

func TestConversationStartFailsWithoutTranscriber(t *testing.T) {
	f := newFixture()
	f.transcriber.notReady = true
	c := f.conversation(newAgentStub())
	defer c.Terminate(context.Background())

	err := c.Start(context.Background())
	if !errors.Is(err, ErrTranscriberNotReady) {
		t.Fatalf("expected ErrTranscriberNotReady, got %v", err)
	}
}

func TestConversationMarkReady(t *testing.T) {
	f := newFixture()
	ready := false
	c := f.conversation(newAgentStub(), WithMarkReady(func(context.Context) error {
		ready = true
		return nil
	}))
	startConversation(t, c)

	if !ready {
		t.Fatalf("expected conversation to be marked ready")
	}
}

func TestTerminateStopsEverything(t *testing.T) {
	f := newFixture()
	manager := events.NewManager()
	collector := &eventsCollector{}
	manager.Subscribe(collector.handle)
	c := f.conversation(newAgentStub(), WithEventsSink(manager))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("failed to start conversation: %v", err)
	}
	if err := c.Terminate(context.Background()); err != nil {
		t.Fatalf("failed to terminate conversation: %v", err)
	}
	if err := c.Terminate(context.Background()); err != nil {
		t.Fatalf("expected a second terminate to succeed, got %v", err)
	}

	if !f.output.terminated.Load() || !f.transcriber.terminated.Load() || !f.synthesizer.tornDown.Load() {
		t.Fatalf("expected output, transcriber and synthesizer to be stopped")
	}
	if c.IsActive() {
		t.Fatalf("expected conversation to be inactive")
	}

	manager.Flush(context.Background())
	kinds := collector.kinds()
	for _, kind := range []events.Kind{events.KindConversationStarted, events.KindConversationEnded, events.KindTranscriptComplete} {
		if !slices.Contains(kinds, kind) {
			t.Fatalf("expected %s to be published, got %v", kind, kinds)
		}
	}
}

func TestIdleMonitorEndsConversation(t *testing.T) {
	f := newFixture()
	manager := events.NewManager()
	collector := &eventsCollector{}
	manager.Subscribe(collector.handle, events.KindHumanPresenceCheck)

	a := newAgentStub()
	a.config.AllowedIdleTime = 20 * time.Millisecond
	a.config.NumCheckHumanPresentTimes = 2
	c := f.conversation(a, WithEventsSink(manager), WithIdleCheckInterval(5*time.Millisecond))
	startConversation(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForTermination(ctx); err != nil {
		t.Fatalf("idle conversation was not terminated: %v", err)
	}

	manager.Flush(context.Background())
	if got := collector.count(events.KindHumanPresenceCheck); got != 2 {
		t.Fatalf("expected 2 presence checks, got %d", got)
	}
}

func TestIdleMonitorPaused(t *testing.T) {
	f := newFixture()
	a := newAgentStub()
	a.config.AllowedIdleTime = 10 * time.Millisecond
	a.config.NumCheckHumanPresentTimes = 0
	c := f.conversation(a, WithIdleCheckInterval(2*time.Millisecond))
	c.SetCheckForIdlePaused(true)
	startConversation(t, c)

	time.Sleep(50 * time.Millisecond)
	if !c.IsActive() {
		t.Fatalf("expected a paused idle monitor to keep the conversation alive")
	}

	c.SetCheckForIdlePaused(false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForTermination(ctx); err != nil {
		t.Fatalf("idle conversation was not terminated once resumed: %v", err)
	}
}

func TestIVRHandsOffToAgent(t *testing.T) {
	f := newFixture()
	config := agent.DefaultConfig()
	config.InitialMessage = "Hi, how can I help?"
	dag := &ivr.DAG{
		Start: "menu",
		Nodes: map[string]ivr.Node{
			"menu": &ivr.MessageNode{
				NodeBase: ivr.NodeBase{Links: []ivr.Link{{Message: "1", Next: "agent"}}},
				Message:  "Press 1 for sales",
				LinkType: ivr.LinkTypeDTMF,
			},
			"agent": &ivr.TerminalNode{},
		},
	}
	c := f.conversation(agent.NewEcho(config), WithIVRDAG(dag, ivr.WithMessageInterval(20*time.Millisecond)))
	startConversation(t, c)

	waitFor(t, "ivr menu", hasBotMessage(c, "Press 1 for sales"))
	waitFor(t, "ivr handoff", func() bool {
		c.ReceiveDTMF("1")
		return hasBotMessage(c, "Hi, how can I help?")()
	})

	c.ReceiveTextMessage("I would like to talk to sales please")
	waitFor(t, "agent response after handoff", hasBotMessage(c, "You said: I would like to talk to sales please"))
}

func TestIVRConfigPlaysMessageBeforeAgent(t *testing.T) {
	f := newFixture()
	c := f.conversation(newAgentStub(), WithIVRConfig(IVRConfig{
		Message:      "Please hold while we connect you",
		HandoffDelay: 10 * time.Millisecond,
	}))
	startConversation(t, c)

	waitFor(t, "ivr message", hasBotMessage(c, "Please hold while we connect you"))
	waitFor(t, "handoff", c.initialMessageTracker.IsSet)
	if c.idlePaused.Load() {
		t.Fatalf("expected idle checks to resume after the ivr message")
	}
}

func TestCancellingStartContextTerminatesConversation(t *testing.T) {
	f := newFixture()
	c := f.conversation(newAgentStub())
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("failed to start conversation: %v", err)
	}
	t.Cleanup(func() { c.Terminate(context.Background()) })

	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := c.WaitForTermination(waitCtx); err != nil {
		t.Fatalf("expected cancelling the start context to terminate the conversation: %v", err)
	}
	if c.IsActive() {
		t.Fatalf("expected conversation to be inactive")
	}
}
