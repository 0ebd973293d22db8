package interruptible

import (
	"context"
	"sync"
)

// Tracker is a one-shot completion signal. Set may be called any number of
// times, only the first call has an effect.
type Tracker struct {
	once sync.Once
	done chan struct{}
}

func NewTracker() *Tracker {
	return &Tracker{done: make(chan struct{})}
}

func (t *Tracker) Set() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
}

func (t *Tracker) IsSet() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the tracker is set or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
