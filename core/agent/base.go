package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RespondFunc produces the responses to a single input through turn.
type RespondFunc func(ctx context.Context, input Input, turn *Turn) error

// Base implements everything an [Agent] needs except for the response
// itself. Inputs are handled one at a time and the turn in flight can be
// cancelled by an interrupt.
type Base struct {
	config  Config
	respond RespondFunc
	worker  *workers.InterruptibleWorker[*interruptible.Event[Input]]

	mu             sync.Mutex
	attachment     Attachment
	lastBotMessage string
}

func NewBase(name string, config Config, respond RespondFunc) *Base {
	b := &Base{config: config, respond: respond}
	b.worker = workers.NewInterruptibleWorker(name, b.process)
	return b
}

func (b *Base) Attach(attachment Attachment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attachment = attachment
}

func (b *Base) Config() Config { return b.config }

func (b *Base) Start(ctx context.Context) { b.worker.Start(ctx) }

func (b *Base) Terminate() { b.worker.Terminate() }

func (b *Base) ConsumeNonBlocking(event *interruptible.Event[Input]) {
	b.worker.ConsumeNonBlocking(event)
}

func (b *Base) CancelCurrentTask() bool { return b.worker.CancelCurrentTask() }

func (b *Base) UpdateLastBotMessageOnCutOff(spoken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	logger.Debug("bot message cut off", "spoken", spoken)
	b.lastBotMessage = spoken
}

// LastBotMessage is the last message the agent knows the human heard.
func (b *Base) LastBotMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBotMessage
}

func (b *Base) Transcript() transcript.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attachment.Transcript
}

func (b *Base) process(ctx context.Context, event *interruptible.Event[Input]) {
	b.mu.Lock()
	attachment := b.attachment
	b.mu.Unlock()

	ctx, span := tracer.Start(ctx, "respond", trace.WithAttributes(
		attribute.String("conversation.id", event.Payload.ConversationID),
		attribute.Bool("transcription.is_interrupt", event.Payload.Transcription.IsInterrupt),
	))
	defer span.End()

	if attachment.Transcript != nil {
		attachment.Transcript.AddMessage(transcript.HumanMessage(event.Payload.Transcription.Message, false), true)
	}
	if attachment.Responses == nil || attachment.Factory == nil {
		logger.WarnContext(ctx, "agent is not attached to a conversation, dropping input")
		return
	}

	turn := &Turn{
		factory:   attachment.Factory,
		responses: attachment.Responses,
		token:     event.Token(),
		tracker:   event.Payload.Tracker,
		first:     true,
		onSpoken:  b.setLastBotMessage,
	}
	if err := b.respond(ctx, event.Payload, turn); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.DebugContext(ctx, "response cancelled")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "failed to respond", "error", err)
	}
}

func (b *Base) setLastBotMessage(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastBotMessage = text
}

// Turn sends the responses to a single input. All of them share the input's
// token, so interrupting one interrupts the whole turn.
type Turn struct {
	factory   *interruptible.Factory
	responses workers.Consumer[*ResponseEvent]
	token     *interruptible.Token
	tracker   *interruptible.Tracker
	first     bool
	onSpoken  func(string)
}

func (t *Turn) send(response Response, opts ...interruptible.EventOption) *ResponseEvent {
	event := interruptible.NewAgentResponse[Response](t.factory, response, append([]interruptible.EventOption{interruptible.WithToken(t.token)}, opts...)...)
	t.responses.ConsumeNonBlocking(event)
	return event
}

// Say sends a message to be spoken and returns its tracker.
func (t *Turn) Say(message messages.Message) *interruptible.Tracker {
	event := t.send(Message{Message: message, IsFirst: t.first})
	t.first = false
	if t.onSpoken != nil && message.Spoken() != "" {
		t.onSpoken(message.Spoken())
	}
	return event.Tracker
}

// RequestFillerAudio asks for filler audio while the response is prepared.
func (t *Turn) RequestFillerAudio() {
	t.send(FillerAudioRequest{})
}

// EndOfTurn marks the end of the bot's turn. The input's tracker, if any, is
// set once it has been processed.
func (t *Turn) EndOfTurn() *interruptible.Tracker {
	event := t.send(Message{Message: messages.EndOfTurn{}}, interruptible.WithTracker(t.tracker))
	t.first = true
	return event.Tracker
}

// Stop ends the conversation after everything said so far was played.
func (t *Turn) Stop() *interruptible.Tracker {
	return t.send(Stop{}, interruptible.NotInterruptible()).Tracker
}
