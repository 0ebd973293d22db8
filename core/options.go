package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/ivr"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
)

type ConversationOption func(*StreamingConversation)

// Transcriber turns inbound audio into transcription fragments and hands them
// to its consumer.
type Transcriber interface {
	Config() speechtotext.Config
	SetConsumer(consumer workers.Consumer[speechtotext.Transcription])
	Start(ctx context.Context) error
	// Ready blocks until the transcriber can accept audio. It reports false
	// when it never will.
	Ready(ctx context.Context) bool
	SendAudio(audio []byte) error
	Mute()
	Unmute()
	Terminate() error
}

// OutputDevice plays audio chunks in the order they are consumed.
type OutputDevice interface {
	workers.Consumer[*interruptible.Event[*audio.Chunk]]
	Start(ctx context.Context)
	// Interrupt stops playback immediately and discards buffered audio.
	Interrupt()
	Terminate()
	EncodingInfo() audio.EncodingInfo
}

// EventsSink receives everything the conversation reports to the outside.
type EventsSink interface {
	transcript.Publisher
	Publish(event events.Event)
	HasSubscriptions() bool
	Start(ctx context.Context)
	Flush(ctx context.Context)
}

// ActionsWorker runs the agent's side actions. The conversation only starts,
// stops and interrupts it.
type ActionsWorker interface {
	Start(ctx context.Context)
	CancelCurrentTask() bool
	Terminate()
}

// IVRConfig describes a simple phone menu hand-off without a DAG: an
// optional message, a delay, then a hold message repeated until the hold
// duration runs out.
type IVRConfig struct {
	Message          string
	HandoffDelay     time.Duration
	HoldMessage      string
	HoldMessageDelay time.Duration
	HoldDuration     time.Duration
}

const (
	DefaultHoldMessageDelay = 30 * time.Second
	DefaultHoldDuration     = 5 * time.Minute
)

func WithConversationID(id string) ConversationOption {
	return func(c *StreamingConversation) {
		if id != "" {
			c.id = id
		}
	}
}

// WithEventsSink makes the caller responsible for running and flushing the
// sink. Without it the conversation runs its own [events.Manager].
func WithEventsSink(sink EventsSink) ConversationOption {
	return func(c *StreamingConversation) {
		if sink == nil {
			return
		}
		c.events = sink
		c.ownsEvents = false
	}
}

// WithIVRDAG routes transcriptions to an IVR flow until it finishes, then
// hands the conversation over to the agent.
func WithIVRDAG(dag *ivr.DAG, opts ...ivr.WorkerOption) ConversationOption {
	return func(c *StreamingConversation) {
		c.ivrDAG = dag
		c.ivrOptions = opts
	}
}

func WithIVRConfig(config IVRConfig) ConversationOption {
	return func(c *StreamingConversation) { c.ivrConfig = &config }
}

func WithActionsWorker(worker ActionsWorker) ConversationOption {
	return func(c *StreamingConversation) { c.actions = worker }
}

// WithSounds supplies the raw audio IVR play nodes refer to by name. The
// audio must be in the output device's encoding.
func WithSounds(sounds map[string][]byte) ConversationOption {
	return func(c *StreamingConversation) { c.sounds = sounds }
}

func WithSpeedCoefficient(coefficient float64) ConversationOption {
	return func(c *StreamingConversation) { c.speedCoefficient = coefficient }
}

// WithIdleCheckInterval sets how often the idle monitor looks for activity.
func WithIdleCheckInterval(interval time.Duration) ConversationOption {
	return func(c *StreamingConversation) {
		if interval > 0 {
			c.idleCheckInterval = interval
		}
	}
}

// WithTranscript replaces the in-memory transcript. The store is expected to
// publish to the conversation's events sink itself.
func WithTranscript(store transcript.Store) ConversationOption {
	return func(c *StreamingConversation) { c.transcript = store }
}

// WithMarkReady is called once the conversation started, before the idle
// monitor runs.
func WithMarkReady(markReady func(ctx context.Context) error) ConversationOption {
	return func(c *StreamingConversation) { c.markReady = markReady }
}

// WithoutSynthesis turns agent responses into no-ops.
func WithoutSynthesis() ConversationOption {
	return func(c *StreamingConversation) { c.synthesisEnabled = false }
}

func withClock(now func() time.Time) ConversationOption {
	return func(c *StreamingConversation) { c.now = now }
}
