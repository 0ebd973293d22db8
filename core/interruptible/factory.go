package interruptible

import (
	"sync"

	"github.com/google/uuid"
)

// compactThreshold bounds how many entries the registry keeps before it drops
// events that already reached a terminal state.
const compactThreshold = 512

// Registry is the FIFO of every event created during a conversation. It is
// only drained by the interrupt broadcaster.
type Registry struct {
	mu     sync.Mutex
	events []Interruptible
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(event Interruptible) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if len(r.events) >= compactThreshold {
		r.compactLocked()
	}
}

// Drain empties the registry and returns its content in registration order.
func (r *Registry) Drain() []Interruptible {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events
	r.events = nil
	return events
}

// InterruptPending drains the registry and interrupts every event that is
// still pending. It returns the number of events that were interrupted.
func (r *Registry) InterruptPending() int {
	interrupted := 0
	for _, event := range r.Drain() {
		if event.Interrupt() {
			logger.Debug("interrupted event", "id", event.EventID())
			interrupted++
		}
	}
	return interrupted
}

func (r *Registry) compactLocked() {
	pending := r.events[:0]
	for _, event := range r.events {
		if event.State() == StatePending && !event.IsInterrupted() {
			pending = append(pending, event)
		}
	}
	for i := len(pending); i < len(r.events); i++ {
		r.events[i] = nil
	}
	r.events = pending
}

// Factory creates events and registers every one of them so an interrupt
// broadcast can always reach them.
type Factory struct {
	registry *Registry
}

func NewFactory(registry *Registry) *Factory {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Factory{registry: registry}
}

func (f *Factory) Registry() *Registry {
	return f.registry
}

type eventOptions struct {
	interruptible bool
	token         *Token
	tracker       *Tracker
}

type EventOption func(*eventOptions)

// NotInterruptible creates an event that an interrupt broadcast skips.
func NotInterruptible() EventOption {
	return func(o *eventOptions) { o.interruptible = false }
}

// WithInterruptible sets whether the created event can be interrupted.
func WithInterruptible(interruptible bool) EventOption {
	return func(o *eventOptions) { o.interruptible = interruptible }
}

// WithToken shares an existing token, tying the new event to the same turn.
func WithToken(token *Token) EventOption {
	return func(o *eventOptions) { o.token = token }
}

// WithTracker reuses a tracker instead of creating a fresh one. Only agent
// response events use it.
func WithTracker(tracker *Tracker) EventOption {
	return func(o *eventOptions) { o.tracker = tracker }
}

func resolveOptions(opts []EventOption) eventOptions {
	options := eventOptions{interruptible: true}
	for _, opt := range opts {
		opt(&options)
	}
	if options.token == nil {
		options.token = NewToken()
	}
	return options
}

func New[T any](f *Factory, payload T, opts ...EventOption) *Event[T] {
	options := resolveOptions(opts)
	event := &Event[T]{ID: uuid.NewString(), Payload: payload, token: options.token}
	event.interruptible.Store(options.interruptible)
	f.registry.Register(event)
	return event
}

func NewAgentResponse[T any](f *Factory, payload T, opts ...EventOption) *AgentResponseEvent[T] {
	options := resolveOptions(opts)
	if options.tracker == nil {
		options.tracker = NewTracker()
	}
	event := &AgentResponseEvent[T]{
		Event:   Event[T]{ID: uuid.NewString(), Payload: payload, token: options.token},
		Tracker: options.tracker,
	}
	event.interruptible.Store(options.interruptible)
	f.registry.Register(event)
	logger.Debug("created agent response event", "id", event.ID, "interruptible", options.interruptible)
	return event
}
