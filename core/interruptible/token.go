package interruptible

import "context"

// Token is the cancellation signal shared by all events created for the same
// logical turn. Cancelling it is observed cooperatively by every stage that
// holds one of those events.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewToken() *Token {
	return NewTokenWithParent(context.Background())
}

// NewTokenWithParent returns a token that is also cancelled when parent is
// done.
func NewTokenWithParent(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.ctx.Err() != nil
}

func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ctx.Done()
}

// Context exposes the token so it can be passed to blocking calls.
func (t *Token) Context() context.Context {
	if t == nil {
		return context.Background()
	}
	return t.ctx
}
