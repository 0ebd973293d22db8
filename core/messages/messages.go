// Package messages holds the kinds of utterances the bot can produce.
//
// [Message] is a closed sum type: every implementation lives in this package
// and consumers are expected to switch over all of them.
package messages

import "time"

type Message interface {
	// Spoken is the text that will be said, empty for messages without
	// speech.
	Spoken() string
	message()
}

// Text is a complete piece of text to be synthesized on its own.
type Text struct {
	Text string
}

// LLMToken is an incremental piece of a response still being generated.
type LLMToken struct {
	Text string
}

// Silence is a pause of the given length.
type Silence struct {
	Duration time.Duration
}

// BotBackchannel is a short acknowledgement such as "mm-hm" uttered by the
// bot while the human is talking.
type BotBackchannel struct {
	Text string
}

// EndOfTurn marks that the bot finished its turn.
type EndOfTurn struct{}

func (m Text) Spoken() string           { return m.Text }
func (m LLMToken) Spoken() string       { return m.Text }
func (m Silence) Spoken() string        { return "" }
func (m BotBackchannel) Spoken() string { return m.Text }
func (m EndOfTurn) Spoken() string      { return "" }

func (Text) message()           {}
func (LLMToken) message()       {}
func (Silence) message()        {}
func (BotBackchannel) message() {}
func (EndOfTurn) message()      {}
