package agent

import (
	"context"
	"slices"
	"strings"

	"github.com/koscakluka/ema-voice/core/messages"
)

var goodbyePhrases = []string{"bye", "goodbye", "bye bye", "hang up"}

// Echo repeats what the human said. It ends the conversation when the human
// says goodbye.
type Echo struct {
	*Base
}

func NewEcho(config Config) *Echo {
	e := &Echo{}
	e.Base = NewBase("echo agent", config, e.respond)
	return e
}

func (e *Echo) respond(ctx context.Context, input Input, turn *Turn) error {
	text := strings.TrimSpace(input.Transcription.Message)
	if e.config.SendFillerAudio {
		turn.RequestFillerAudio()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized := strings.Trim(strings.ToLower(text), ".!? ")
	if slices.Contains(goodbyePhrases, normalized) {
		turn.Say(messages.Text{Text: "Goodbye!"})
		turn.EndOfTurn()
		turn.Stop()
		return nil
	}

	turn.Say(messages.Text{Text: "You said: " + text})
	turn.EndOfTurn()
	return nil
}
