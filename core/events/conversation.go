package events

import "github.com/koscakluka/ema-voice/core/transcript"

const (
	KindConversationStarted Kind = "conversation.started"
	KindTranscriptMessage   Kind = "transcript.message"
	KindInterrupted         Kind = "conversation.interrupted"
	KindHumanPresenceCheck  Kind = "conversation.human_presence_check"
	KindConversationEnded   Kind = "conversation.ended"
	KindTranscriptComplete  Kind = "transcript.complete"
	KindRecordingAvailable  Kind = "recording.available"
)

type ConversationStarted struct{ Base }

func NewConversationStarted(conversationID string) ConversationStarted {
	return ConversationStarted{Base: NewBase(KindConversationStarted, conversationID)}
}

type TranscriptMessage struct {
	Base
	Message transcript.Message
}

func NewTranscriptMessage(conversationID string, message transcript.Message) TranscriptMessage {
	return TranscriptMessage{Base: NewBase(KindTranscriptMessage, conversationID), Message: message}
}

// Interrupted reports how many pending events an interrupt stopped.
type Interrupted struct {
	Base
	InterruptedEvents int
}

func NewInterrupted(conversationID string, interruptedEvents int) Interrupted {
	return Interrupted{Base: NewBase(KindInterrupted, conversationID), InterruptedEvents: interruptedEvents}
}

type HumanPresenceCheck struct {
	Base
	// Attempt counts the checks since the human last said anything,
	// starting at 1.
	Attempt int
}

func NewHumanPresenceCheck(conversationID string, attempt int) HumanPresenceCheck {
	return HumanPresenceCheck{Base: NewBase(KindHumanPresenceCheck, conversationID), Attempt: attempt}
}

type ConversationEnded struct {
	Base
	// BotDisconnect is set when the bot, not the human, ended the call.
	BotDisconnect bool
}

func NewConversationEnded(conversationID string, botDisconnect bool) ConversationEnded {
	return ConversationEnded{Base: NewBase(KindConversationEnded, conversationID), BotDisconnect: botDisconnect}
}

type TranscriptComplete struct {
	Base
	Transcript []transcript.Message
}

func NewTranscriptComplete(conversationID string, messages []transcript.Message) TranscriptComplete {
	return TranscriptComplete{Base: NewBase(KindTranscriptComplete, conversationID), Transcript: messages}
}

type RecordingAvailable struct {
	Base
	RecordingID string
	URL         string
}

func NewRecordingAvailable(conversationID, recordingID, url string) RecordingAvailable {
	return RecordingAvailable{Base: NewBase(KindRecordingAvailable, conversationID), RecordingID: recordingID, URL: url}
}
