package orchestration

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
)

var checkHumanPresentMessages = []string{
	"Are you still there?",
	"Hello?",
	"Are you still on the line?",
	"Sorry, are you still there?",
}

// SetCheckForIdlePaused pauses or resumes the idle monitor. Resuming counts
// as activity.
func (c *StreamingConversation) SetCheckForIdlePaused(paused bool) {
	logger.Debug("setting idle check paused", "paused", paused)
	if !paused {
		c.markLastAction()
	}
	c.idlePaused.Store(paused)
}

// checkForIdle asks whether the human is still there after a period without
// activity, and ends the conversation once it asked often enough.
func (c *StreamingConversation) checkForIdle(ctx context.Context) {
	if err := c.initialMessageTracker.Wait(ctx); err != nil {
		return
	}

	config := c.agent.Config()
	threshold := config.AllowedIdleTime
	if threshold <= 0 {
		threshold = c.idleCheckInterval
	}
	logger.DebugContext(ctx, "starting idle check", "threshold", threshold, "interval", c.idleCheckInterval)

	ticker := time.NewTicker(c.idleCheckInterval)
	defer ticker.Stop()

	for c.IsActive() {
		if !c.idlePaused.Load() && c.sinceLastAction() > threshold {
			checks := int(c.idleChecks.Load())
			if checks >= config.NumCheckHumanPresentTimes {
				logger.InfoContext(ctx, "conversation idle for too long, terminating", "conversation.id", c.id)
				c.markTerminated(true)
				return
			}

			c.SendSingleMessage(checkHumanPresentMessages[rand.IntN(len(checkHumanPresentMessages))], nil)
			c.markLastAction()
			c.idleChecks.Add(1)
			c.events.Publish(events.NewHumanPresenceCheck(c.id, checks+1))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
