package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"github.com/koscakluka/ema-voice/core/transcript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (c *StreamingConversation) playSynthesisResult(ctx context.Context, event *synthesisEvent) {
	defer event.Settle()

	item := event.Payload
	if _, ok := item.Message.(messages.EndOfTurn); ok {
		if c.lastBotMessageID != "" {
			c.transcript.UpdateMessage(c.lastBotMessageID, func(m *transcript.Message) { m.IsEndOfTurn = true })
		}
		return
	}
	if event.IsInterrupted() {
		logger.DebugContext(ctx, "skipping interrupted synthesis result")
		return
	}
	if item.Result == nil {
		return
	}

	var messageID string
	switch m := item.Message.(type) {
	case messages.Silence:
		logger.DebugContext(ctx, "sending silence", "duration", m.Duration)
	case messages.BotBackchannel:
		logger.DebugContext(ctx, "sending backchannel", "message", m.Text)
		messageID = c.transcript.AddMessage(transcript.Message{Sender: transcript.SenderBot, IsBackchannel: true}, false).ID
	default:
		messageID = c.transcript.AddMessage(transcript.Message{Sender: transcript.SenderBot}, false).ID
	}

	sent, cutOff := c.sendSpeechToOutput(ctx, speechOutput{
		result:    item.Result,
		event:     event,
		messageID: messageID,
	})
	if messageID != "" {
		c.transcript.PublishMessage(messageID)
		c.lastBotMessageID = messageID
	}
	event.Consume()
	event.Settle()

	logger.DebugContext(ctx, "message sent", "message", sent, "cut_off", cutOff)
	if cutOff {
		c.agent.UpdateLastBotMessageOnCutOff(sent)
	}
}

type speechOutput struct {
	result *texttospeech.SynthesisResult
	// event provides the token and interruptibility of every chunk.
	event interruptible.Interruptible
	// messageID is the transcript message kept in sync with what was
	// played, if any.
	messageID string
	// started is set once the first chunk was played.
	started *interruptible.Tracker
}

type sentChunk struct {
	chunk *audio.Chunk
	done  chan struct{}
}

// sendSpeechToOutput streams the result to the output device chunk by chunk
// and waits until the last chunk sent was played or interrupted. It returns
// what was said and whether the speech was cut off.
func (c *StreamingConversation) sendSpeechToOutput(ctx context.Context, out speechOutput) (string, bool) {
	ctx, span := tracer.Start(ctx, "send speech to output", trace.WithAttributes(
		attribute.Bool("synthesis.is_first", out.result.IsFirst),
		attribute.Bool("synthesis.cached", out.result.Cached),
	))
	defer span.End()

	if c.transcriber.Config().MuteDuringSpeech {
		logger.DebugContext(ctx, "muting transcriber")
		c.transcriber.Mute()
		defer func() {
			logger.DebugContext(ctx, "unmuting transcriber")
			c.transcriber.Unmute()
		}()
	}

	token := out.event.Token()
	encodingInfo := c.synthesizer.EncodingInfo()
	startedAt := time.Now()

	var mu sync.Mutex
	var played time.Duration
	var spoken string
	// finished is set once the outcome was decided, confirmations arriving
	// later must not touch the transcript anymore.
	var finished bool

	onPlay := func(idx int, size int, done chan struct{}) func() {
		return func() {
			defer close(done)

			if idx == 0 {
				out.started.Set()
				if out.result.IsFirst {
					c.recordTimeToFirstAudio(ctx, time.Since(startedAt))
				}
			}
			c.markLastAction()

			mu.Lock()
			if finished {
				mu.Unlock()
				return
			}
			played += encodingInfo.Duration(size)
			spoken = out.result.MessageUpTo(played)
			text := spoken
			mu.Unlock()

			if out.messageID != "" {
				c.transcript.UpdateMessage(out.messageID, func(m *transcript.Message) { m.Text = text })
			}
		}
	}

	var sent []sentChunk
	interruptedBeforeAllSent := false
	idx := 0
	for chunkResult, err := range out.result.Chunks {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.ErrorContext(ctx, "failed to generate audio chunk", "index", idx, "error", err)
			interruptedBeforeAllSent = true
			break
		}
		if token.Cancelled() {
			logger.DebugContext(ctx, "interrupted before all chunks were sent")
			interruptedBeforeAllSent = true
			break
		}

		done := make(chan struct{})
		chunk := audio.NewChunk(chunkResult.Chunk, onPlay(idx, len(chunkResult.Chunk), done), func() { close(done) })

		c.interruptMu.Lock()
		if token.Cancelled() {
			c.interruptMu.Unlock()
			interruptedBeforeAllSent = true
			break
		}
		c.output.ConsumeNonBlocking(interruptible.New(c.factory, chunk,
			interruptible.WithToken(token),
			interruptible.WithInterruptible(out.event.IsInterruptible()),
		))
		c.interruptMu.Unlock()

		sent = append(sent, sentChunk{chunk: chunk, done: done})
		idx++
	}
	span.SetAttributes(attribute.Int("speech.chunks_sent", len(sent)))

	// The item context is cancelled together with the token, so only a
	// shutdown of the conversation stops the wait for the last chunk.
	if len(sent) > 0 {
		select {
		case <-sent[len(sent)-1].done:
		case <-c.ctx.Done():
			logger.DebugContext(ctx, "stopped waiting for the last chunk", "error", c.ctx.Err())
			interruptedBeforeAllSent = true
		}
	}

	cutOff := interruptedBeforeAllSent
	for _, s := range sent {
		if s.chunk.State() == audio.ChunkInterrupted {
			cutOff = true
			break
		}
	}

	mu.Lock()
	finished = true
	said := spoken
	mu.Unlock()
	if !cutOff {
		said = out.result.Message()
	}
	if out.messageID != "" {
		c.transcript.UpdateMessage(out.messageID, func(m *transcript.Message) {
			m.Text = said
			m.IsFinal = !cutOff
		})
	}
	span.SetAttributes(attribute.Bool("speech.cut_off", cutOff))
	return said, cutOff
}

func (c *StreamingConversation) recordTimeToFirstAudio(ctx context.Context, elapsed time.Duration) {
	trace.SpanFromContext(ctx).AddEvent("first audio played", trace.WithAttributes(
		attribute.Float64("time_to_first_audio", elapsed.Seconds()),
	))
	if c.timeToFirstByte != nil {
		c.timeToFirstByte.Record(ctx, elapsed.Seconds())
	}
}
