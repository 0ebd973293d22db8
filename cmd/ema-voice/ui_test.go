package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/transcript"
)

func sizedModel(t *testing.T, send func(string)) model {
	t.Helper()
	m, _ := newModel("test", send, make(chan events.Event)).Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	return m.(model)
}

func TestModelRendersTranscriptUpdates(t *testing.T) {
	m := sizedModel(t, nil)

	m = m.handleEvent(events.NewTranscriptMessage("conv", transcript.Message{ID: "1", Sender: transcript.SenderHuman, Text: "hello", IsFinal: true}))
	m = m.handleEvent(events.NewTranscriptMessage("conv", transcript.Message{ID: "2", Sender: transcript.SenderBot, Text: "You said", IsFinal: false}))
	m = m.handleEvent(events.NewTranscriptMessage("conv", transcript.Message{ID: "3", Sender: transcript.SenderHuman, Text: "mhm", IsFinal: true, IsBackchannel: true}))
	m = m.handleEvent(events.NewTranscriptMessage("conv", transcript.Message{ID: "2", Sender: transcript.SenderBot, Text: "You said: hello", IsFinal: true}))

	if len(m.order) != 3 {
		t.Fatalf("expected updates to keep their position, got %v", m.order)
	}
	rendered := m.renderTranscript()
	if !strings.Contains(rendered, "You said: hello") {
		t.Fatalf("expected the updated bot message, got %q", rendered)
	}
	if strings.Contains(rendered, "mhm") {
		t.Fatalf("expected backchannels to be hidden, got %q", rendered)
	}
	if strings.Index(rendered, "hello") > strings.Index(rendered, "You said") {
		t.Fatalf("expected messages in publishing order, got %q", rendered)
	}
}

func TestModelStatus(t *testing.T) {
	m := sizedModel(t, nil)

	m = m.handleEvent(events.NewInterrupted("conv", 3))
	if m.status != "interrupted 3 events" {
		t.Fatalf("unexpected status %q", m.status)
	}
	m = m.handleEvent(events.NewConversationEnded("conv", true))
	if m.status != "the bot ended the conversation" {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestModelSendsTypedText(t *testing.T) {
	var sent []string
	m := sizedModel(t, func(text string) { sent = append(sent, text) })

	for _, r := range "hi there" {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(model)
	}
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(model)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(model)

	if len(sent) != 1 || sent[0] != "hi there" {
		t.Fatalf("expected a single message, got %v", sent)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected the input to be cleared, got %q", m.input.Value())
	}
}

func TestModelQuitsWhenConversationEnds(t *testing.T) {
	m := sizedModel(t, nil)

	_, cmd := m.Update(endedMsg{})
	if cmd == nil {
		t.Fatalf("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected the program to quit")
	}
}
