package transcript

import (
	"sync"
	"testing"
)

type publisherStub struct {
	mu       sync.Mutex
	messages []Message
}

func (p *publisherStub) PublishMessage(_ string, message Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func TestRecentMessagesNewestFirst(t *testing.T) {
	tr := New("conversation", nil)
	tr.AddMessage(Message{Sender: SenderBot, Text: "hello"}, false)
	tr.AddMessage(HumanMessage("hi", false), false)
	tr.AddMessage(Message{Sender: SenderBot, Text: "how can I help"}, false)

	recent := tr.RecentMessages(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}
	if recent[0].Text != "how can I help" || recent[1].Text != "hi" {
		t.Fatalf("expected newest first, got %q then %q", recent[0].Text, recent[1].Text)
	}
	if got := len(tr.RecentMessages(10)); got != 3 {
		t.Fatalf("expected all 3 messages, got %d", got)
	}
}

func TestUpdateAndPublishMessage(t *testing.T) {
	publisher := &publisherStub{}
	tr := New("conversation", publisher)

	message := tr.AddMessage(Message{Sender: SenderBot}, false)
	tr.PublishMessage(message.ID)
	if len(publisher.messages) != 0 {
		t.Fatalf("expected empty message not to be published")
	}

	updated, ok := tr.UpdateMessage(message.ID, func(m *Message) { m.Text = "one two" })
	if !ok || updated.Text != "one two" {
		t.Fatalf("expected update to apply, got %q (ok=%v)", updated.Text, ok)
	}
	tr.PublishMessage(message.ID)
	if len(publisher.messages) != 1 || publisher.messages[0].Text != "one two" {
		t.Fatalf("expected updated message to be published, got %+v", publisher.messages)
	}

	if _, ok := tr.UpdateMessage("missing", func(*Message) {}); ok {
		t.Fatalf("expected update of unknown message to fail")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	tr := New("conversation", nil)
	message := tr.AddMessage(HumanMessage("mm-hm", true), true)

	snapshot := tr.Snapshot()
	tr.UpdateMessage(message.ID, func(m *Message) { m.Text = "changed" })

	if len(snapshot) != 1 || snapshot[0].Text != "mm-hm" {
		t.Fatalf("expected snapshot to keep original text, got %+v", snapshot)
	}
	if !snapshot[0].IsBackchannel {
		t.Fatalf("expected backchannel flag to be copied")
	}
}
