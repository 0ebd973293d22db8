package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
)

type transcriberStub struct {
	config   speechtotext.Config
	notReady bool

	mu       sync.Mutex
	consumer workers.Consumer[speechtotext.Transcription]
	audio    [][]byte

	muted      atomic.Int32
	unmuted    atomic.Int32
	terminated atomic.Bool
}

func (t *transcriberStub) Config() speechtotext.Config { return t.config }

func (t *transcriberStub) SetConsumer(consumer workers.Consumer[speechtotext.Transcription]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumer = consumer
}

func (t *transcriberStub) Start(context.Context) error {
	if t.notReady {
		return errors.New("connection refused")
	}
	return nil
}

func (t *transcriberStub) Ready(context.Context) bool { return !t.notReady }

func (t *transcriberStub) SendAudio(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = append(t.audio, data)
	return nil
}

func (t *transcriberStub) Mute()   { t.muted.Add(1) }
func (t *transcriberStub) Unmute() { t.unmuted.Add(1) }

func (t *transcriberStub) Terminate() error {
	t.terminated.Store(true)
	return nil
}

// agentStub records the inputs it receives without responding.
type agentStub struct {
	config agent.Config

	mu         sync.Mutex
	inputs     []agent.Input
	cutOffs    []string
	attachment agent.Attachment

	cancelled atomic.Int32
}

func newAgentStub() *agentStub {
	config := agent.DefaultConfig()
	return &agentStub{config: config}
}

func (a *agentStub) ConsumeNonBlocking(event *interruptible.Event[agent.Input]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputs = append(a.inputs, event.Payload)
}

func (a *agentStub) Attach(attachment agent.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attachment = attachment
}

func (a *agentStub) Config() agent.Config     { return a.config }
func (a *agentStub) Start(context.Context)    {}
func (a *agentStub) Terminate()               {}
func (a *agentStub) CancelCurrentTask() bool { a.cancelled.Add(1); return true }

func (a *agentStub) UpdateLastBotMessageOnCutOff(spoken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutOffs = append(a.cutOffs, spoken)
}

func (a *agentStub) receivedMessages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	received := make([]string, 0, len(a.inputs))
	for _, input := range a.inputs {
		received = append(received, input.Transcription.Message)
	}
	return received
}

// synthesizerStub speaks every word as a quarter of a second of silence.
type synthesizerStub struct {
	fillerAudios []texttospeech.FillerAudio

	warmups  atomic.Int32
	tornDown atomic.Bool
}

func (s *synthesizerStub) EncodingInfo() audio.EncodingInfo {
	return audio.GetTelephonyEncodingInfo()
}

func (s *synthesizerStub) CreateSpeech(_ context.Context, message messages.Message, chunkSize int, _ texttospeech.SpeechOptions) (*texttospeech.SynthesisResult, error) {
	encodingInfo := s.EncodingInfo()
	switch m := message.(type) {
	case messages.Silence:
		return texttospeech.NewSilenceResult(m.Duration, encodingInfo, chunkSize), nil
	case messages.EndOfTurn:
		return nil, errors.New("end of turn has no speech")
	default:
		text := message.Spoken()
		duration := time.Duration(len(strings.Fields(text))) * 250 * time.Millisecond
		return texttospeech.NewSynthesisResultFromAudio(text, encodingInfo.Silence(duration), encodingInfo, chunkSize), nil
	}
}

func (s *synthesizerStub) FillerAudios() []texttospeech.FillerAudio { return s.fillerAudios }

func (s *synthesizerStub) SetFillerAudios(context.Context, texttospeech.FillerAudioConfig) error {
	return nil
}

func (s *synthesizerStub) Warmup(int) { s.warmups.Add(1) }

func (s *synthesizerStub) TearDown() error {
	s.tornDown.Store(true)
	return nil
}

// outputStub plays every chunk as soon as it is consumed. With a latency it
// decides on receipt but confirms the outcome only after the latency passed.
type outputStub struct {
	latency time.Duration

	mu     sync.Mutex
	chunks []*audio.Chunk
	events []*interruptible.Event[*audio.Chunk]

	interrupts atomic.Int32
	terminated atomic.Bool
}

func (o *outputStub) ConsumeNonBlocking(event *interruptible.Event[*audio.Chunk]) {
	o.mu.Lock()
	o.chunks = append(o.chunks, event.Payload)
	o.events = append(o.events, event)
	o.mu.Unlock()

	interrupted := event.IsInterrupted()
	confirm := func() {
		if interrupted {
			event.Payload.MarkInterrupted()
			return
		}
		event.Payload.MarkPlayed()
		event.Consume()
	}
	if o.latency > 0 {
		time.AfterFunc(o.latency, confirm)
		return
	}
	confirm()
}

func (o *outputStub) Start(context.Context)            {}
func (o *outputStub) Interrupt()                       { o.interrupts.Add(1) }
func (o *outputStub) Terminate()                       { o.terminated.Store(true) }
func (o *outputStub) EncodingInfo() audio.EncodingInfo { return audio.GetTelephonyEncodingInfo() }

func (o *outputStub) playedBytes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, chunk := range o.chunks {
		if chunk.State() == audio.ChunkPlayed {
			total += len(chunk.Data)
		}
	}
	return total
}

type conversationFixture struct {
	transcriber *transcriberStub
	synthesizer *synthesizerStub
	output      *outputStub
}

func newFixture() *conversationFixture {
	return &conversationFixture{
		transcriber: &transcriberStub{config: speechtotext.DefaultConfig()},
		synthesizer: &synthesizerStub{},
		output:      &outputStub{},
	}
}

func (f *conversationFixture) conversation(a agent.Agent, opts ...ConversationOption) *StreamingConversation {
	return New(f.transcriber, a, f.synthesizer, f.output, opts...)
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !condition() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func findMessage(store transcript.Store, sender transcript.Sender, text string) (transcript.Message, bool) {
	for _, message := range store.Snapshot() {
		if message.Sender == sender && message.Text == text {
			return message, true
		}
	}
	return transcript.Message{}, false
}
