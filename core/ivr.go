package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/interruptible"
)

// ivrHandoff waits for the IVR flow to finish, then points transcriptions at
// the agent and greets the human.
func (c *StreamingConversation) ivrHandoff(ctx context.Context, initialMessage string) {
	logger.DebugContext(ctx, "waiting for ivr handoff")
	if err := c.ivr.WaitForFinished(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.ErrorContext(ctx, "ivr flow failed, handing off to the agent", "error", err)
	}

	logger.DebugContext(ctx, "ivr handoff complete, restarting transcriptions worker")
	c.transcriptions.Terminate()
	c.ivr.Terminate()

	if initialMessage != "" {
		c.sendInitialMessage(ctx, initialMessage, interruptible.NewTracker())
	}

	c.transcriptions.setConsumer(c.agent)
	if ctx.Err() == nil {
		c.transcriptions.Start(ctx)
	}
}

// handleIVR plays the configured menu message and hold loop before letting
// the agent take over.
func (c *StreamingConversation) handleIVR(ctx context.Context, config IVRConfig) {
	c.SetCheckForIdlePaused(true)
	defer func() {
		c.SetCheckForIdlePaused(false)
		c.initialMessageTracker.Set()
	}()

	if config.Message != "" {
		if err := c.say(ctx, config.Message); err != nil {
			return
		}
	}

	if err := sleep(ctx, config.HandoffDelay); err != nil {
		return
	}

	if config.HoldMessage == "" {
		return
	}
	holdMessageDelay := config.HoldMessageDelay
	if holdMessageDelay <= 0 {
		holdMessageDelay = DefaultHoldMessageDelay
	}
	holdDuration := config.HoldDuration
	if holdDuration <= 0 {
		holdDuration = DefaultHoldDuration
	}

	holdStart := time.Now()
	for time.Since(holdStart) < holdDuration {
		if err := c.say(ctx, config.HoldMessage); err != nil {
			return
		}
		if remaining := holdDuration - time.Since(holdStart); remaining > 0 {
			if err := sleep(ctx, min(remaining, holdMessageDelay)); err != nil {
				return
			}
		}
	}
}

func (c *StreamingConversation) say(ctx context.Context, text string) error {
	tracker := interruptible.NewTracker()
	c.SendSingleMessage(text, tracker)
	return tracker.Wait(ctx)
}

// PlayAudio plays one of the sounds given with [WithSounds] and returns once
// it had time to be played. Sounds cannot be interrupted.
func (c *StreamingConversation) PlayAudio(ctx context.Context, sound string) error {
	data, ok := c.sounds[sound]
	if !ok {
		return fmt.Errorf("unknown sound %q", sound)
	}

	encodingInfo := c.output.EncodingInfo()
	chunkSize := max(encodingInfo.ChunkSize(0.1), 1)
	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		c.output.ConsumeNonBlocking(interruptible.New(c.factory,
			audio.NewChunk(data[start:end], nil, nil),
			interruptible.NotInterruptible(),
		))
	}
	return sleep(ctx, encodingInfo.Duration(len(data)))
}
