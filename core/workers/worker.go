package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-voice/core/interruptible"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Consumer is anything that accepts items without blocking the caller.
type Consumer[T any] interface {
	ConsumeNonBlocking(item T)
}

// ConsumerFunc adapts a function to a [Consumer].
type ConsumerFunc[T any] func(item T)

func (f ConsumerFunc[T]) ConsumeNonBlocking(item T) { f(item) }

type ProcessFunc[T any] func(ctx context.Context, item T)

// QueueWorker processes items one at a time, in the order they were
// consumed, on its own goroutine.
type QueueWorker[T any] struct {
	name    string
	process ProcessFunc[T]
	queue   *Queue[T]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueueWorker[T any](name string, process ProcessFunc[T]) *QueueWorker[T] {
	return &QueueWorker[T]{
		name:    name,
		process: process,
		queue:   NewQueue[T](),
	}
}

func (w *QueueWorker[T]) Name() string { return w.name }

func (w *QueueWorker[T]) ConsumeNonBlocking(item T) {
	w.queue.Push(item)
}

// Start launches the processing loop. Starting a running worker is a no-op,
// a terminated worker can be started again and picks up whatever is still
// queued.
func (w *QueueWorker[T]) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done

	go func() {
		defer close(done)
		for {
			item, ok := w.queue.Pop(ctx)
			if !ok {
				return
			}
			w.processSafely(ctx, item)
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Terminate stops the loop and waits for the item in flight to return.
// Nothing is dequeued after Terminate is called.
func (w *QueueWorker[T]) Terminate() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Drain removes everything still queued without processing it.
func (w *QueueWorker[T]) Drain() []T {
	return w.queue.Drain()
}

func (w *QueueWorker[T]) processSafely(ctx context.Context, item T) {
	ctx, span := tracer.Start(ctx, "process item", trace.WithAttributes(attribute.String("worker.name", w.name)))
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("%s worker panicked: %v", w.name, recovered)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.ErrorContext(ctx, "worker panicked", "worker", w.name, "error", err)
		}
	}()

	w.process(ctx, item)
}

// InterruptibleWorker is a [QueueWorker] over interruptible events. It keeps
// track of the event in flight so its processing can be cancelled
// cooperatively, and it skips events that were interrupted while queued.
type InterruptibleWorker[E interruptible.Interruptible] struct {
	*QueueWorker[E]

	currentMu     sync.Mutex
	current       E
	cancelCurrent context.CancelFunc

	keepInterrupted func(E) bool
}

func NewInterruptibleWorker[E interruptible.Interruptible](name string, process ProcessFunc[E]) *InterruptibleWorker[E] {
	w := &InterruptibleWorker[E]{}
	w.QueueWorker = NewQueueWorker(name, w.handle(process))
	return w
}

func (w *InterruptibleWorker[E]) handle(process ProcessFunc[E]) ProcessFunc[E] {
	return func(ctx context.Context, item E) {
		if item.IsInterrupted() && (w.keepInterrupted == nil || !w.keepInterrupted(item)) {
			logger.DebugContext(ctx, "skipping interrupted event", "worker", w.name, "id", item.EventID())
			item.Settle()
			return
		}

		itemCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(item.Token().Context(), func() {
			if item.IsInterruptible() {
				cancel()
			}
		})
		defer stop()
		defer cancel()

		w.setCurrent(item, cancel)
		defer w.clearCurrent()

		defer func() {
			if recovered := recover(); recovered != nil {
				item.Settle()
				panic(recovered)
			}
		}()

		process(itemCtx, item)
		item.Consume()
	}
}

// ProcessInterrupted hands interrupted events for which keep reports true to
// the process function instead of skipping them. Their context is already
// cancelled. It has to be called before the worker is started.
func (w *InterruptibleWorker[E]) ProcessInterrupted(keep func(E) bool) {
	w.keepInterrupted = keep
}

func (w *InterruptibleWorker[E]) setCurrent(item E, cancel context.CancelFunc) {
	w.currentMu.Lock()
	defer w.currentMu.Unlock()
	w.current = item
	w.cancelCurrent = cancel
}

func (w *InterruptibleWorker[E]) clearCurrent() {
	w.currentMu.Lock()
	defer w.currentMu.Unlock()
	var zero E
	w.current = zero
	w.cancelCurrent = nil
}

// Current returns the event in flight, if any.
func (w *InterruptibleWorker[E]) Current() (E, bool) {
	w.currentMu.Lock()
	defer w.currentMu.Unlock()
	return w.current, w.cancelCurrent != nil
}

// CancelCurrentTask cancels the processing of the event in flight as long as
// that event is still interruptible. It reports whether anything was
// cancelled.
func (w *InterruptibleWorker[E]) CancelCurrentTask() bool {
	w.currentMu.Lock()
	defer w.currentMu.Unlock()

	if w.cancelCurrent == nil || !w.current.IsInterruptible() {
		return false
	}
	w.cancelCurrent()
	return true
}

// Terminate stops the worker and settles every event that was still queued
// so nobody keeps waiting on them.
func (w *InterruptibleWorker[E]) Terminate() {
	w.QueueWorker.Terminate()
	for _, item := range w.Drain() {
		item.Settle()
	}
}
