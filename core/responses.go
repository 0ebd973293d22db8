package orchestration

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"github.com/koscakluka/ema-voice/core/workers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// synthesis is a message on its way to the output device. Result is nil for
// end of turn markers.
type synthesis struct {
	Message messages.Message
	Result  *texttospeech.SynthesisResult
}

type synthesisEvent = interruptible.AgentResponseEvent[synthesis]

// agentResponsesWorker turns agent responses into synthesis results.
type agentResponsesWorker struct {
	*workers.InterruptibleWorker[*agent.ResponseEvent]

	conversation *StreamingConversation

	// Only touched by the worker goroutine.
	lastTracker      *interruptible.Tracker
	isFirstTextChunk bool
}

func newAgentResponsesWorker(c *StreamingConversation) *agentResponsesWorker {
	w := &agentResponsesWorker{conversation: c, isFirstTextChunk: true}
	w.InterruptibleWorker = workers.NewInterruptibleWorker("agent responses", w.process)
	w.ProcessInterrupted(isEndOfTurn)
	return w
}

// isEndOfTurn reports whether the response closes the agent's turn. Those
// are handled even when interrupted so the next turn starts from a clean
// state.
func isEndOfTurn(event *agent.ResponseEvent) bool {
	message, ok := event.Payload.(agent.Message)
	if !ok {
		return false
	}
	_, ok = message.Message.(messages.EndOfTurn)
	return ok
}

func (w *agentResponsesWorker) process(ctx context.Context, event *agent.ResponseEvent) {
	c := w.conversation

	forwarded := false
	defer func() {
		if !forwarded {
			event.Settle()
		}
	}()

	if !c.synthesisEnabled {
		logger.DebugContext(ctx, "synthesis disabled, not synthesizing speech")
		return
	}

	switch response := event.Payload.(type) {
	case agent.FillerAudioRequest:
		forwarded = w.sendFillerAudio(ctx, event)
	case agent.Stop:
		logger.DebugContext(ctx, "agent requested to stop")
		if err := w.lastTracker.Wait(ctx); err != nil {
			logger.DebugContext(ctx, "stopped waiting for the last response", "error", err)
		}
		event.Settle()
		c.markTerminated(true)
		forwarded = true
	case agent.Message:
		forwarded = w.dispatch(ctx, event, response)
	default:
		logger.ErrorContext(ctx, "unsupported agent response", "type", response)
	}
}

func (w *agentResponsesWorker) forward(event *agent.ResponseEvent, item synthesis) {
	c := w.conversation
	c.synthesisResults.ConsumeNonBlocking(interruptible.NewAgentResponse(c.factory, item,
		interruptible.WithToken(event.Token()),
		interruptible.WithInterruptible(event.IsInterruptible()),
		interruptible.WithTracker(event.Tracker),
	))
}

func (w *agentResponsesWorker) sendFillerAudio(ctx context.Context, event *agent.ResponseEvent) bool {
	c := w.conversation
	if c.filler == nil {
		logger.DebugContext(ctx, "filler audio not enabled")
		return false
	}

	fillerAudios := c.synthesizer.FillerAudios()
	if len(fillerAudios) == 0 {
		logger.DebugContext(ctx, "no filler audio available for synthesizer")
		return false
	}

	fillerAudio := fillerAudios[rand.IntN(len(fillerAudios))]
	logger.DebugContext(ctx, "sending filler audio", "message", fillerAudio.Message)
	c.filler.ConsumeNonBlocking(interruptible.NewAgentResponse(c.factory, fillerAudio,
		interruptible.WithInterruptible(fillerAudio.IsInterruptible),
		interruptible.WithTracker(event.Tracker),
	))
	return true
}

func (w *agentResponsesWorker) dispatch(ctx context.Context, event *agent.ResponseEvent, response agent.Message) bool {
	c := w.conversation
	streaming, isStreaming := c.synthesizer.(texttospeech.InputStreamingSynthesizer)

	// The context of an interrupted end of turn is already cancelled.
	if _, ok := response.Message.(messages.EndOfTurn); ok {
		if c.filler != nil {
			c.filler.InterruptCurrentFillerAudio()
		}
		w.forward(event, synthesis{Message: response.Message})
		if isStreaming {
			if err := streaming.HandleEndOfTurn(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "failed to end synthesizer turn", "error", err)
			}
		}
		w.lastTracker = event.Tracker
		w.isFirstTextChunk = true
		return true
	}

	if c.filler != nil && c.filler.InterruptCurrentFillerAudio() {
		if err := c.filler.WaitForFillerAudioToFinish(ctx); err != nil {
			return false
		}
	}

	ctx, span := tracer.Start(ctx, "synthesize", trace.WithAttributes(
		attribute.Bool("synthesis.is_first", response.IsFirst),
		attribute.Bool("synthesis.is_first_text_chunk", w.isFirstTextChunk),
	))
	defer span.End()

	chunkSize := c.synthesizerChunkSize()
	token, isToken := response.Message.(messages.LLMToken)

	var result *texttospeech.SynthesisResult
	var err error
	if isStreaming && isToken {
		err = streaming.SendToken(ctx, token, chunkSize)
	} else {
		result, err = c.synthesizer.CreateSpeech(ctx, response.Message, chunkSize, texttospeech.SpeechOptions{
			IsFirstTextChunk: w.isFirstTextChunk,
			IsSoleTextChunk:  response.IsSoleTextChunk,
		})
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.DebugContext(ctx, "synthesis cancelled")
			return false
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "failed to synthesize speech", "error", err)
		return false
	}

	// Tokens of one utterance are all spoken through the first token's
	// result.
	if isStreaming && isToken {
		result = nil
		if w.isFirstTextChunk {
			result = streaming.CurrentUtteranceResult()
		}
	}

	forwarded := false
	if result != nil {
		result.IsFirst = response.IsFirst
		w.forward(event, synthesis{Message: response.Message, Result: result})
		w.lastTracker = event.Tracker
		forwarded = true
	}
	if _, ok := response.Message.(messages.Silence); !ok {
		w.isFirstTextChunk = false
	}
	return forwarded
}
