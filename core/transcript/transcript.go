package transcript

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type Sender string

const (
	SenderHuman Sender = "human"
	SenderBot   Sender = "bot"
)

type Message struct {
	ID            string
	Sender        Sender
	Text          string
	IsFinal       bool
	IsBackchannel bool
	IsEndOfTurn   bool
	Timestamp     time.Time
}

// Publisher receives messages once they are ready to be shown outside the
// conversation.
type Publisher interface {
	PublishMessage(conversationID string, message Message)
}

// Store is the append only message log of a conversation.
type Store interface {
	AddMessage(message Message, publish bool) Message
	UpdateMessage(id string, update func(*Message)) (Message, bool)
	PublishMessage(id string)
	RecentMessages(n int) []Message
	Snapshot() []Message
}

type Transcript struct {
	mu       sync.RWMutex
	messages []Message

	conversationID string
	publisher      Publisher
	now            func() time.Time
}

func New(conversationID string, publisher Publisher) *Transcript {
	return &Transcript{
		conversationID: conversationID,
		publisher:      publisher,
		now:            time.Now,
	}
}

// AddMessage appends a message, filling in its ID and timestamp when they are
// missing, and returns the stored copy.
func (t *Transcript) AddMessage(message Message, publish bool) Message {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = t.now()
	}

	t.mu.Lock()
	t.messages = append(t.messages, message)
	t.mu.Unlock()

	if publish {
		t.publish(message)
	}
	return message
}

// HumanMessage builds a finished human turn.
func HumanMessage(text string, isBackchannel bool) Message {
	return Message{
		Sender:        SenderHuman,
		Text:          text,
		IsFinal:       true,
		IsBackchannel: isBackchannel,
		IsEndOfTurn:   true,
	}
}

func (t *Transcript) UpdateMessage(id string, update func(*Message)) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			update(&t.messages[i])
			return t.messages[i], true
		}
	}
	return Message{}, false
}

// PublishMessage publishes the current state of a message. Empty bot messages
// are never published.
func (t *Transcript) PublishMessage(id string) {
	t.mu.RLock()
	idx := slices.IndexFunc(t.messages, func(m Message) bool { return m.ID == id })
	var message Message
	if idx >= 0 {
		message = t.messages[idx]
	}
	t.mu.RUnlock()

	if idx < 0 || message.Text == "" {
		return
	}
	t.publish(message)
}

// RecentMessages returns up to n messages, most recent first.
func (t *Transcript) RecentMessages(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n = min(n, len(t.messages))
	recent := make([]Message, 0, n)
	for i := len(t.messages) - 1; i >= 0 && len(recent) < n; i-- {
		recent = append(recent, t.messages[i])
	}
	return recent
}

func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := []Message{}
	if err := copier.CopyWithOption(&snapshot, &t.messages, copier.Option{DeepCopy: true}); err != nil {
		logger.Error("failed to snapshot transcript", "error", err)
		return slices.Clone(t.messages)
	}
	return snapshot
}

func (t *Transcript) publish(message Message) {
	if t.publisher == nil {
		return
	}
	t.publisher.PublishMessage(t.conversationID, message)
}
