package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/ivr"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/speed"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// speechChunkSeconds is how much audio a synthesis call produces per chunk.
const speechChunkSeconds = 1.0

var ErrTranscriberNotReady = errors.New("transcriber startup failed")

// StreamingConversation runs a live voice conversation: transcriptions flow
// to the agent, its responses are synthesized and played in order, and the
// human can interrupt the bot at any moment.
type StreamingConversation struct {
	id string

	transcriber Transcriber
	agent       agent.Agent
	synthesizer texttospeech.Synthesizer
	output      OutputDevice
	actions     ActionsWorker

	events     EventsSink
	ownsEvents bool
	transcript transcript.Store

	factory *interruptible.Factory
	speed   *speed.Manager

	transcriptions   *transcriptionsWorker
	agentResponses   *agentResponsesWorker
	synthesisResults *workers.QueueWorker[*synthesisEvent]
	filler           *fillerAudioWorker
	ivr              *ivr.Worker

	ivrDAG     *ivr.DAG
	ivrOptions []ivr.WorkerOption
	ivrConfig  *IVRConfig
	sounds     map[string][]byte

	speedCoefficient  float64
	idleCheckInterval time.Duration
	synthesisEnabled  bool
	markReady         func(ctx context.Context) error
	now               func() time.Time

	// interruptMu serializes broadcasts and keeps chunks from being sent to
	// the output device while one is in progress.
	interruptMu sync.Mutex

	initialMessageTracker *interruptible.Tracker
	lastAction            atomic.Int64
	idleChecks            atomic.Int32
	idlePaused            atomic.Bool
	isHumanSpeaking       atomic.Bool

	// lastBotMessageID is only touched by the synthesis results worker.
	lastBotMessageID string

	ctx    context.Context
	cancel context.CancelFunc

	terminateOnce sync.Once
	terminated    chan struct{}
	shutdownOnce  sync.Once
	shutdownErr   error

	interrupts      metric.Int64Counter
	timeToFirstByte metric.Float64Histogram
}

func New(transcriber Transcriber, a agent.Agent, synthesizer texttospeech.Synthesizer, output OutputDevice, opts ...ConversationOption) *StreamingConversation {
	manager := events.NewManager()
	c := &StreamingConversation{
		id:                    uuid.NewString(),
		transcriber:           transcriber,
		agent:                 a,
		synthesizer:           synthesizer,
		output:                output,
		events:                manager,
		ownsEvents:            true,
		factory:               interruptible.NewFactory(nil),
		speedCoefficient:      1,
		idleCheckInterval:     agent.DefaultAllowedIdleTime,
		synthesisEnabled:      true,
		now:                   time.Now,
		initialMessageTracker: interruptible.NewTracker(),
		terminated:            make(chan struct{}),
		ctx:                   context.Background(),
		cancel:                func() {},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.transcript == nil {
		c.transcript = transcript.New(c.id, c.events)
	}
	c.speed = speed.NewManager(c.speedCoefficient)
	c.markLastAction()

	c.transcriptions = newTranscriptionsWorker(c)
	c.agentResponses = newAgentResponsesWorker(c)
	c.synthesisResults = workers.NewQueueWorker("synthesis results", c.playSynthesisResult)
	if c.agent.Config().SendFillerAudio {
		c.filler = newFillerAudioWorker(c)
	}

	c.transcriber.SetConsumer(c.transcriptions)
	c.transcriptions.setConsumer(c.agent)
	if c.ivrDAG != nil {
		c.ivr = ivr.NewWorker(c.ivrDAG, c, c.ivrOptions...)
		c.transcriptions.setConsumer(c.ivr)
	}

	c.agent.Attach(agent.Attachment{
		ConversationID: c.id,
		Responses:      c.agentResponses,
		Factory:        c.factory,
		Transcript:     c.transcript,
		Speed:          c.speed,
	})

	var err error
	if c.interrupts, err = meter.Int64Counter(
		"conversation.interrupts",
		metric.WithDescription("Events interrupted by a broadcast"),
	); err != nil {
		logger.Error("failed to create interrupts counter", "error", err)
	}
	if c.timeToFirstByte, err = meter.Float64Histogram(
		"conversation.time_to_first_audio",
		metric.WithDescription("Time between a response being dispatched and its first audio being played"),
		metric.WithUnit("s"),
	); err != nil {
		logger.Error("failed to create time to first audio histogram", "error", err)
	}
	return c
}

func (c *StreamingConversation) ID() string { return c.id }

func (c *StreamingConversation) Transcript() transcript.Store { return c.transcript }

// Start brings every stage up and starts talking. It fails with
// [ErrTranscriberNotReady] when the transcriber cannot be used.
func (c *StreamingConversation) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	parent := ctx
	go func() {
		select {
		case <-parent.Done():
			c.markTerminated(false)
		case <-c.terminated:
		}
	}()

	ctx, span := tracer.Start(ctx, "start conversation", trace.WithAttributes(attribute.String("conversation.id", c.id)))
	defer span.End()

	startErr := c.transcriber.Start(c.ctx)
	if startErr != nil {
		logger.ErrorContext(ctx, "failed to start transcriber", "error", startErr)
	}
	c.transcriptions.Start(c.ctx)
	c.agentResponses.Start(c.ctx)
	c.synthesisResults.Start(c.ctx)
	c.output.Start(c.ctx)
	if c.filler != nil {
		c.filler.Start(c.ctx)
	}
	if c.actions != nil {
		c.actions.Start(c.ctx)
	}

	if !c.transcriber.Ready(ctx) {
		err := ErrTranscriberNotReady
		if startErr != nil {
			err = fmt.Errorf("%w: %w", ErrTranscriberNotReady, startErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	config := c.agent.Config()
	if config.SendFillerAudio {
		if err := c.synthesizer.SetFillerAudios(ctx, config.FillerAudioConfig); err != nil {
			recordedErr := fmt.Errorf("failed to prepare filler audio: %w", err)
			span.RecordError(recordedErr)
			span.SetStatus(codes.Error, recordedErr.Error())
			logger.ErrorContext(ctx, "failed to prepare filler audio", "error", err)
		}
	}

	c.agent.Start(c.ctx)

	switch {
	case c.ivr != nil:
		c.ivr.Start(c.ctx)
		go c.ivrHandoff(c.ctx, config.InitialMessage)
		c.initialMessageTracker.Set()
	case c.ivrConfig != nil:
		go c.handleIVR(c.ctx, *c.ivrConfig)
	case config.InitialMessage != "":
		go c.sendInitialMessage(c.ctx, config.InitialMessage, c.initialMessageTracker)
	default:
		c.initialMessageTracker.Set()
	}

	if c.markReady != nil {
		if err := c.markReady(ctx); err != nil {
			return fmt.Errorf("failed to mark conversation ready: %w", err)
		}
	}

	go c.checkForIdle(c.ctx)

	if c.ownsEvents {
		if c.events.HasSubscriptions() {
			c.events.Start(c.ctx)
		} else {
			logger.DebugContext(ctx, "no event subscriptions, not running the events manager")
		}
	}
	c.events.Publish(events.NewConversationStarted(c.id))
	return nil
}

// IsActive reports whether the conversation has not been terminated yet.
func (c *StreamingConversation) IsActive() bool {
	select {
	case <-c.terminated:
		return false
	default:
		return true
	}
}

// WaitForTermination blocks until the conversation was marked terminated,
// either by the agent, the idle monitor or [StreamingConversation.Terminate].
func (c *StreamingConversation) WaitForTermination(ctx context.Context) error {
	select {
	case <-c.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *StreamingConversation) markTerminated(botDisconnect bool) {
	c.terminateOnce.Do(func() {
		logger.Debug("conversation terminated", "conversation.id", c.id, "bot_disconnect", botDisconnect)
		close(c.terminated)
		c.events.Publish(events.NewConversationEnded(c.id, botDisconnect))
	})
}

// Terminate stops every stage and the collaborators. It is safe to call more
// than once, later calls return the first result.
func (c *StreamingConversation) Terminate(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.markTerminated(false)
		c.BroadcastInterrupt()
		c.events.Publish(events.NewTranscriptComplete(c.id, c.transcript.Snapshot()))
		c.cancel()

		var err error
		if tearDownErr := c.synthesizer.TearDown(); tearDownErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to tear down synthesizer: %w", tearDownErr))
		}
		c.agent.Terminate()
		c.transcriptions.Terminate()
		if c.ivr != nil {
			c.ivr.Terminate()
		}
		c.agentResponses.Terminate()
		if c.filler != nil {
			c.filler.Terminate()
		}
		c.synthesisResults.Terminate()
		for _, event := range c.synthesisResults.Drain() {
			event.Settle()
		}
		if c.actions != nil {
			c.actions.Terminate()
		}
		c.output.Terminate()
		if transcriberErr := c.transcriber.Terminate(); transcriberErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to terminate transcriber: %w", transcriberErr))
		}

		if c.ownsEvents {
			c.events.Flush(ctx)
		} else {
			logger.DebugContext(ctx, "events sink is managed by the caller, not flushing")
		}
		c.shutdownErr = err
	})
	return c.shutdownErr
}

// ConsumeInboundAudio forwards caller audio to the transcriber.
func (c *StreamingConversation) ConsumeInboundAudio(data []byte) {
	if err := c.transcriber.SendAudio(data); err != nil {
		logger.Error("failed to send audio to transcriber", "error", err)
	}
}

// ReceiveTextMessage treats text as a final transcription with full
// confidence.
func (c *StreamingConversation) ReceiveTextMessage(text string) {
	c.transcriptions.ConsumeNonBlocking(speechtotext.Transcription{
		Message:    text,
		Confidence: 1,
		IsFinal:    true,
	})
}

func (c *StreamingConversation) ReceiveDTMF(digit string) {
	logger.Debug("received dtmf", "digit", digit)
	if c.ivr != nil {
		c.ivr.ReceiveDTMF(digit)
	}
}

// SendSingleMessage speaks text as a whole, uninterruptible turn. tracker,
// when given, is set once the message was played.
func (c *StreamingConversation) SendSingleMessage(text string, tracker *interruptible.Tracker) {
	c.agentResponses.ConsumeNonBlocking(interruptible.NewAgentResponse[agent.Response](c.factory,
		agent.Message{Message: messages.Text{Text: text}, IsSoleTextChunk: true},
		interruptible.NotInterruptible(),
		interruptible.WithTracker(tracker),
	))
	c.agentResponses.ConsumeNonBlocking(interruptible.NewAgentResponse[agent.Response](c.factory,
		agent.Message{Message: messages.EndOfTurn{}},
	))
}

func (c *StreamingConversation) sendInitialMessage(ctx context.Context, text string, tracker *interruptible.Tracker) {
	if delay := c.agent.Config().InitialMessageDelay; delay > 0 {
		logger.InfoContext(ctx, "waiting before initial message", "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			tracker.Set()
			return
		}
	}
	c.SendSingleMessage(text, tracker)
	if err := tracker.Wait(ctx); err != nil {
		logger.DebugContext(ctx, "stopped waiting for initial message", "error", err)
	}
}

func (c *StreamingConversation) markLastAction() {
	c.lastAction.Store(c.now().UnixNano())
}

func (c *StreamingConversation) sinceLastAction() time.Duration {
	return c.now().Sub(time.Unix(0, c.lastAction.Load()))
}

func (c *StreamingConversation) synthesizerChunkSize() int {
	return c.synthesizer.EncodingInfo().ChunkSize(speechChunkSeconds)
}

func (c *StreamingConversation) warmupSynthesizer() {
	c.synthesizer.Warmup(c.synthesizerChunkSize())
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
