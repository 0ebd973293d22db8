package agent

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/speed"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
)

type InterruptSensitivity string

const (
	InterruptSensitivityLow    InterruptSensitivity = "low"
	InterruptSensitivityNormal InterruptSensitivity = "normal"
	InterruptSensitivityHigh   InterruptSensitivity = "high"
)

const (
	DefaultAllowedIdleTime           = 15 * time.Second
	DefaultNumCheckHumanPresentTimes = 4
)

type Config struct {
	// InitialMessage is spoken when the conversation starts, unless empty.
	InitialMessage      string
	InitialMessageDelay time.Duration

	InterruptSensitivity InterruptSensitivity

	// SendFillerAudio enables filler audio, configured by FillerAudioConfig.
	SendFillerAudio   bool
	FillerAudioConfig texttospeech.FillerAudioConfig

	AllowedIdleTime           time.Duration
	NumCheckHumanPresentTimes int
}

func DefaultConfig() Config {
	return Config{
		InterruptSensitivity:      InterruptSensitivityNormal,
		FillerAudioConfig:         texttospeech.DefaultFillerAudioConfig(),
		AllowedIdleTime:           DefaultAllowedIdleTime,
		NumCheckHumanPresentTimes: DefaultNumCheckHumanPresentTimes,
	}
}

// Input is a finalized human utterance handed to the agent.
type Input struct {
	ConversationID string
	Transcription  speechtotext.Transcription
	// Tracker, when set, is reused by the responses to this input.
	Tracker *interruptible.Tracker
}

// Response is produced by the agent. It is one of [FillerAudioRequest],
// [Stop] or [Message].
type Response interface {
	response()
}

// FillerAudioRequest asks for filler audio to be played while the agent
// works on the real response.
type FillerAudioRequest struct{}

// Stop ends the conversation once everything already said has been played.
type Stop struct{}

type Message struct {
	Message         messages.Message
	IsFirst         bool
	IsSoleTextChunk bool
}

func (FillerAudioRequest) response() {}
func (Stop) response()               {}
func (Message) response()            {}

type ResponseEvent = interruptible.AgentResponseEvent[Response]

// Attachment is what the conversation hands to its agent.
type Attachment struct {
	ConversationID string
	Responses      workers.Consumer[*ResponseEvent]
	Factory        *interruptible.Factory
	Transcript     transcript.Store
	Speed          *speed.Manager
}

type Agent interface {
	workers.Consumer[*interruptible.Event[Input]]

	Attach(Attachment)
	Config() Config
	Start(ctx context.Context)
	// CancelCurrentTask stops generating the response in flight. It reports
	// whether anything was cancelled.
	CancelCurrentTask() bool
	// UpdateLastBotMessageOnCutOff replaces the last bot message with what
	// was actually said before the human interrupted.
	UpdateLastBotMessageOnCutOff(spoken string)
	Terminate()
}
