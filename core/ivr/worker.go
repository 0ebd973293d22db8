package ivr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/workers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultMessageInterval = 10 * time.Second

// Host is the conversation the flow speaks through.
type Host interface {
	// SendSingleMessage speaks text as a whole turn and sets tracker once
	// it was played.
	SendSingleMessage(text string, tracker *interruptible.Tracker)
	PlayAudio(ctx context.Context, sound string) error
}

// Worker walks a [DAG], one node at a time, driven by what the human says or
// dials.
type Worker struct {
	dag             *DAG
	host            Host
	messageInterval time.Duration

	inputs *workers.InterruptibleWorker[*interruptible.Event[agent.Input]]

	mu      sync.Mutex
	current string
	listen  chan string
	dtmf    chan string
	cancel  context.CancelFunc
	done    chan struct{}

	finishOnce sync.Once
	finished   chan struct{}
	err        error
}

type WorkerOption func(*Worker)

// WithMessageInterval sets how often a message node repeats its message.
func WithMessageInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) { w.messageInterval = interval }
}

func NewWorker(dag *DAG, host Host, opts ...WorkerOption) *Worker {
	w := &Worker{
		dag:             dag,
		host:            host,
		messageInterval: defaultMessageInterval,
		finished:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.inputs = workers.NewInterruptibleWorker("ivr worker", w.process)
	return w
}

// ConsumeNonBlocking accepts human utterances. Only final ones are used, and
// only while a message node waits for a spoken command.
func (w *Worker) ConsumeNonBlocking(event *interruptible.Event[agent.Input]) {
	w.inputs.ConsumeNonBlocking(event)
}

func (w *Worker) process(ctx context.Context, event *interruptible.Event[agent.Input]) {
	transcription := event.Payload.Transcription
	if !transcription.IsFinal {
		logger.DebugContext(ctx, "ivr received non-final transcription", "message", transcription.Message)
		return
	}

	w.mu.Lock()
	listen := w.listen
	w.mu.Unlock()
	if listen == nil {
		logger.DebugContext(ctx, "ivr not listening, skipping transcription", "message", transcription.Message)
		return
	}

	select {
	case listen <- transcription.Message:
	default:
		logger.WarnContext(ctx, "ivr listen queue full, dropping transcription", "message", transcription.Message)
	}
}

// ReceiveDTMF accepts a dialed digit. Digits are dropped unless a message
// node waits for one.
func (w *Worker) ReceiveDTMF(digit string) {
	w.mu.Lock()
	dtmf := w.dtmf
	w.mu.Unlock()
	if dtmf == nil {
		logger.Debug("ivr not waiting for dtmf, skipping digit", "digit", digit)
		return
	}

	select {
	case dtmf <- digit:
	default:
		logger.Warn("ivr dtmf queue full, dropping digit", "digit", digit)
	}
}

// Current is the id of the node the flow is at.
func (w *Worker) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}

	w.inputs.Start(ctx)
	w.current = w.dag.Start

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done
	go func() {
		defer close(done)
		err := w.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "ivr flow failed", "node", w.Current(), "error", err)
		}
		w.finish(err)
	}()
}

func (w *Worker) Terminate() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	w.inputs.Terminate()
}

// WaitForFinished blocks until the flow reached its end. It returns the error
// that stopped the flow early, if any.
func (w *Worker) WaitForFinished(ctx context.Context) error {
	select {
	case <-w.finished:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) finish(err error) {
	w.finishOnce.Do(func() {
		w.err = err
		close(w.finished)
	})
}

func (w *Worker) run(ctx context.Context) error {
	if err := w.dag.Validate(); err != nil {
		return err
	}
	for {
		id := w.Current()
		node, ok := w.dag.Nodes[id]
		if !ok {
			return fmt.Errorf("%w: node %q not found", ErrConfiguration, id)
		}
		base := node.base()
		logger.DebugContext(ctx, "ivr at node", "node", id, "type", fmt.Sprintf("%T", node))

		if err := sleep(ctx, base.WaitDelay); err != nil {
			return err
		}
		if base.IsFinal {
			logger.DebugContext(ctx, "ivr finished", "node", id)
			return nil
		}

		var next string
		var err error
		switch n := node.(type) {
		case *PlayNode:
			next, err = w.runPlay(ctx, id, n)
		case *MessageNode:
			next, err = w.runMessage(ctx, id, n)
		case *HoldNode:
			next, err = w.runHold(ctx, id, n)
		case *TerminalNode:
			logger.DebugContext(ctx, "ivr finished", "node", id)
			return nil
		default:
			err = fmt.Errorf("%w: node %q has unsupported type %T", ErrConfiguration, id, node)
		}
		if err != nil {
			return err
		}

		w.mu.Lock()
		w.current = next
		w.mu.Unlock()
	}
}

func (w *Worker) runPlay(ctx context.Context, id string, node *PlayNode) (string, error) {
	if err := w.host.PlayAudio(ctx, node.Sound); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.ErrorContext(ctx, "ivr failed to play sound", "node", id, "sound", node.Sound, "error", err)
	}

	if len(node.Links) == 0 {
		return "", fmt.Errorf("%w: play node %q has no links", ErrConfiguration, id)
	}
	if len(node.Links) > 1 {
		logger.ErrorContext(ctx, "ivr play node has multiple links, using the first one", "node", id)
	}
	if err := sleep(ctx, node.Delay); err != nil {
		return "", err
	}
	return node.Links[0].Next, nil
}

func (w *Worker) runMessage(ctx context.Context, id string, node *MessageNode) (string, error) {
	ctx, span := tracer.Start(ctx, "ivr message node", trace.WithAttributes(
		attribute.String("ivr.node", id),
		attribute.String("ivr.link_type", string(node.LinkType)),
	))
	defer span.End()

	commands := make([]string, 0, len(node.Links))
	for _, link := range node.Links {
		commands = append(commands, link.Message)
	}

	var command string
	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(gctx)
	g.Go(func() error {
		w.loopMessage(loopCtx, node.Message)
		return nil
	})
	g.Go(func() error {
		defer stopLoop()
		var err error
		switch node.LinkType {
		case LinkTypeCommand:
			command, err = w.waitForCommand(gctx, commands)
		case LinkTypeDTMF:
			command, err = w.waitForDTMF(gctx, commands)
		default:
			err = fmt.Errorf("%w: message node %q has unknown link type %q", ErrConfiguration, id, node.LinkType)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}

	for _, link := range node.Links {
		if link.Message == command {
			span.SetAttributes(attribute.String("ivr.command", command))
			return link.Next, nil
		}
	}
	err := fmt.Errorf("%w: node %q has no link for command %q", ErrConfiguration, id, command)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

func (w *Worker) runHold(ctx context.Context, id string, node *HoldNode) (string, error) {
	if len(node.Links) == 0 {
		return "", fmt.Errorf("%w: hold node %q has no links", ErrConfiguration, id)
	}
	if len(node.Messages) == 0 {
		return "", fmt.Errorf("%w: hold node %q has no messages", ErrConfiguration, id)
	}

	start := time.Now()
	isDone := func() bool { return time.Since(start) >= node.Duration }
	for !isDone() {
		for _, message := range node.Messages {
			if err := w.say(ctx, message); err != nil {
				return "", err
			}
			if err := sleep(ctx, node.Delay); err != nil {
				return "", err
			}
			if isDone() {
				break
			}
		}
	}

	if len(node.Links) > 1 {
		logger.ErrorContext(ctx, "ivr hold node has multiple links, using the first one", "node", id)
	}
	return node.Links[0].Next, nil
}

func (w *Worker) loopMessage(ctx context.Context, message string) {
	for {
		if err := w.say(ctx, message); err != nil {
			return
		}
		if err := sleep(ctx, w.messageInterval); err != nil {
			return
		}
	}
}

func (w *Worker) say(ctx context.Context, message string) error {
	tracker := interruptible.NewTracker()
	w.host.SendSingleMessage(message, tracker)
	return tracker.Wait(ctx)
}

func (w *Worker) waitForCommand(ctx context.Context, commands []string) (string, error) {
	listen := make(chan string, 16)
	w.mu.Lock()
	w.listen = listen
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.listen = nil
		w.mu.Unlock()
	}()

	threshold := w.dag.fuzzThreshold()
	for {
		logger.DebugContext(ctx, "ivr waiting for commands", "commands", commands)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case received := <-listen:
			for _, command := range commands {
				if score := partialRatio(command, received); score >= threshold {
					logger.DebugContext(ctx, "ivr received matching command", "command", command, "score", score)
					return command, nil
				}
			}
			logger.DebugContext(ctx, "ivr received unexpected command", "received", received, "expected", commands)
		}
	}
}

func (w *Worker) waitForDTMF(ctx context.Context, commands []string) (string, error) {
	dtmf := make(chan string, 16)
	w.mu.Lock()
	w.dtmf = dtmf
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.dtmf = nil
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case digit := <-dtmf:
			for _, command := range commands {
				if strings.EqualFold(command, digit) {
					logger.DebugContext(ctx, "ivr received dtmf command", "command", command)
					return command, nil
				}
			}
			logger.DebugContext(ctx, "ivr received unexpected digit", "digit", digit, "expected", commands)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
