package orchestration

import (
	"context"

	"github.com/koscakluka/ema-voice/core/events"
)

// BroadcastInterrupt interrupts every pending event, stops the output device
// and cancels the work in flight of the agent, the response dispatch and the
// actions worker. It reports whether any event was actually interrupted.
func (c *StreamingConversation) BroadcastInterrupt() bool {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()

	interrupted := c.factory.Registry().InterruptPending()
	c.output.Interrupt()
	c.agent.CancelCurrentTask()
	c.agentResponses.CancelCurrentTask()
	if c.actions != nil {
		c.actions.CancelCurrentTask()
	}

	if interrupted > 0 {
		logger.Debug("interrupted events", "conversation.id", c.id, "count", interrupted)
		if c.interrupts != nil {
			c.interrupts.Add(context.Background(), int64(interrupted))
		}
		c.events.Publish(events.NewInterrupted(c.id, interrupted))
	}
	return interrupted > 0
}
