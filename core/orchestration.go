// Package orchestration runs live voice conversations.
//
// A [StreamingConversation] wires a transcriber, an agent, a synthesizer and
// an output device into a pipeline of stages:
//
//	transcriber -> transcriptions -> agent -> agent responses -> synthesis results -> output device
//
// Each stage processes its input in order on its own goroutine. Every event
// moving through the pipeline is registered with the conversation so that
// [StreamingConversation.BroadcastInterrupt] can cancel whatever is still in
// flight when the human talks over the bot.
package orchestration

import (
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/ivr"
	"github.com/koscakluka/ema-voice/core/output"
)

var (
	_ ivr.Host     = (*StreamingConversation)(nil)
	_ OutputDevice = (*output.Device)(nil)
	_ EventsSink   = (*events.Manager)(nil)
)
