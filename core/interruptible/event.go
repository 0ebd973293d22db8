package interruptible

import (
	"context"
	"sync/atomic"
)

type State int32

const (
	StatePending State = iota
	StateConsumed
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConsumed:
		return "consumed"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Interruptible is the payload independent view of an event, used by the
// registry, the interrupt broadcaster and the workers.
type Interruptible interface {
	EventID() string
	State() State
	Token() *Token
	IsInterruptible() bool
	SetInterruptible(bool)
	IsInterrupted() bool
	Interrupt() bool
	Consume() bool
	// Settle releases anything waiting on the event. It is called exactly
	// when a stage is done with the event, whatever the outcome.
	Settle()
}

type Event[T any] struct {
	ID      string
	Payload T

	token         *Token
	interruptible atomic.Bool
	state         atomic.Int32
}

func (e *Event[T]) EventID() string { return e.ID }

func (e *Event[T]) State() State {
	return State(e.state.Load())
}

func (e *Event[T]) Token() *Token { return e.token }

func (e *Event[T]) Context() context.Context { return e.token.Context() }

func (e *Event[T]) IsInterruptible() bool {
	return e.interruptible.Load()
}

// SetInterruptible lets a stage mark an event that can no longer be
// cancelled, typically once its side effects have been committed.
func (e *Event[T]) SetInterruptible(interruptible bool) {
	e.interruptible.Store(interruptible)
}

// IsInterrupted reports whether the event was interrupted directly or, while
// it is still interruptible, through a sibling event sharing the same token.
func (e *Event[T]) IsInterrupted() bool {
	if e.State() == StateInterrupted {
		return true
	}
	return e.IsInterruptible() && e.token.Cancelled()
}

// Interrupt moves a pending, interruptible event into the interrupted state
// and cancels its token. It reports whether the transition happened.
func (e *Event[T]) Interrupt() bool {
	if !e.IsInterruptible() {
		return false
	}
	if !e.state.CompareAndSwap(int32(StatePending), int32(StateInterrupted)) {
		return false
	}
	e.token.Cancel()
	return true
}

// Consume moves a pending event into the consumed state. A consumed event can
// no longer be interrupted.
func (e *Event[T]) Consume() bool {
	e.SetInterruptible(false)
	return e.state.CompareAndSwap(int32(StatePending), int32(StateConsumed))
}

func (e *Event[T]) Settle() {}

// AgentResponseEvent carries a tracker that is set once the stage that
// finally consumes the event is done with it.
type AgentResponseEvent[T any] struct {
	Event[T]
	Tracker *Tracker
}

func (e *AgentResponseEvent[T]) Settle() {
	e.Tracker.Set()
}
