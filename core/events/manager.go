package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
)

type Handler func(ctx context.Context, event Event)

// Manager queues published events and delivers them, in order, to the
// handlers subscribed to their kind.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[Kind][]Handler
	all           []Handler

	worker *workers.QueueWorker[Event]
}

func NewManager() *Manager {
	m := &Manager{subscriptions: map[Kind][]Handler{}}
	m.worker = workers.NewQueueWorker("events manager", m.dispatch)
	return m
}

// Subscribe registers handler for the given kinds, or for every event when no
// kind is given.
func (m *Manager) Subscribe(handler Handler, kinds ...Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(kinds) == 0 {
		m.all = append(m.all, handler)
		return
	}
	for _, kind := range kinds {
		m.subscriptions[kind] = append(m.subscriptions[kind], handler)
	}
}

func (m *Manager) HasSubscriptions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all) > 0 || len(m.subscriptions) > 0
}

func (m *Manager) Publish(event Event) {
	m.worker.ConsumeNonBlocking(event)
}

// PublishMessage publishes a transcript message.
func (m *Manager) PublishMessage(conversationID string, message transcript.Message) {
	m.Publish(NewTranscriptMessage(conversationID, message))
}

func (m *Manager) Start(ctx context.Context) {
	m.worker.Start(ctx)
}

// Flush stops delivery in the background and delivers whatever is still
// queued before returning.
func (m *Manager) Flush(ctx context.Context) {
	m.worker.Terminate()
	for _, event := range m.worker.Drain() {
		m.dispatch(ctx, event)
	}
}

func (m *Manager) dispatch(ctx context.Context, event Event) {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.all)+len(m.subscriptions[event.Kind()]))
	handlers = append(handlers, m.subscriptions[event.Kind()]...)
	handlers = append(handlers, m.all...)
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.handleSafely(ctx, handler, event)
	}
}

func (m *Manager) handleSafely(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "event handler panicked",
				"kind", event.Kind(),
				"error", fmt.Errorf("%v", recovered))
		}
	}()
	handler(ctx, event)
}
