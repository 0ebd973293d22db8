package orchestration

import (
	"regexp"
	"strings"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/transcript"
)

const (
	backchannelWordThreshold = 3
	// simulatedInterruptWordThreshold keeps the bot from being interrupted
	// while it delivers a scripted interruption itself.
	// TODO: confirm the value with product, it was tuned by hand.
	simulatedInterruptWordThreshold = 50
)

var backchannelPatterns = compileBackchannelPatterns(
	`m+-?hm+`,
	`m+`,
	`oh+`,
	`ah+`,
	`um+`,
	`uh+`,
	`yes`,
	`sure`,
	`quite`,
	`right`,
	`really`,
	`good heavens`,
	`i see`,
	`of course`,
	`oh dear`,
	`oh god`,
	`thats nice`,
	`thats not bad`,
	`thats right`,
	`yeah+`,
	`makes sense`,
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

func compileBackchannelPatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(`^(?:`+pattern+`)$`))
	}
	return compiled
}

// isBackchannel reports whether text is short or common enough to be an
// acknowledgement rather than an attempt to take the turn.
func isBackchannel(text string, sensitivity agent.InterruptSensitivity, simulateInterrupt bool) bool {
	words := len(strings.Fields(text))
	if sensitivity == agent.InterruptSensitivityHigh && words >= 1 {
		return false
	}

	threshold := backchannelWordThreshold
	if simulateInterrupt {
		threshold = simulatedInterruptWordThreshold
	}
	if words <= threshold {
		return true
	}

	cleaned := strings.ToLower(strings.TrimSpace(punctuation.ReplaceAllString(text, "")))
	for _, pattern := range backchannelPatterns {
		if pattern.MatchString(cleaned) {
			return true
		}
	}
	return false
}

// isBotInMediasRes reports whether the bot is in the middle of a message.
func isBotInMediasRes(store transcript.Store) bool {
	recent := store.RecentMessages(1)
	if len(recent) == 0 {
		return false
	}
	last := recent[0]
	return !last.IsBackchannel &&
		last.Sender == transcript.SenderBot &&
		!last.IsFinal &&
		strings.TrimSpace(last.Text) != ""
}

// isBotStillSpeaking reports whether the bot is in the middle of a message or
// has not finished its turn yet.
func isBotStillSpeaking(store transcript.Store) bool {
	recent := store.RecentMessages(2)
	if len(recent) == 0 {
		return false
	}
	last := recent[0]
	isFirstBotMessage := len(recent) < 2 || recent[1].Sender == transcript.SenderHuman

	return !last.IsBackchannel &&
		last.Sender == transcript.SenderBot &&
		(!last.IsFinal || !last.IsEndOfTurn) &&
		!(isFirstBotMessage && strings.TrimSpace(last.Text) == "")
}
