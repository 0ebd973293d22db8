package orchestration

import (
	"context"
	"sync"

	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"github.com/koscakluka/ema-voice/core/workers"
)

type fillerAudioEvent = interruptible.AgentResponseEvent[texttospeech.FillerAudio]

// fillerAudioWorker plays filler audio when the agent takes longer than the
// silence threshold to respond.
type fillerAudioWorker struct {
	*workers.InterruptibleWorker[*fillerAudioEvent]

	conversation *StreamingConversation

	mu      sync.Mutex
	started *interruptible.Tracker
}

func newFillerAudioWorker(c *StreamingConversation) *fillerAudioWorker {
	w := &fillerAudioWorker{conversation: c}
	w.InterruptibleWorker = workers.NewInterruptibleWorker("filler audio", w.process)
	return w
}

func (w *fillerAudioWorker) process(ctx context.Context, event *fillerAudioEvent) {
	defer event.Settle()

	w.mu.Lock()
	w.started = nil
	w.mu.Unlock()

	c := w.conversation
	threshold := c.agent.Config().FillerAudioConfig.SilenceThreshold
	if err := sleep(ctx, threshold); err != nil {
		return
	}

	logger.DebugContext(ctx, "sending filler audio to output", "message", event.Payload.Message)
	started := interruptible.NewTracker()
	w.mu.Lock()
	w.started = started
	w.mu.Unlock()

	c.sendSpeechToOutput(ctx, speechOutput{
		result:  event.Payload.SynthesisResult(),
		event:   event,
		started: started,
	})
}

// InterruptCurrentFillerAudio interrupts the filler audio being played or
// waited on. It reports whether there was one to interrupt.
func (w *fillerAudioWorker) InterruptCurrentFillerAudio() bool {
	current, ok := w.Current()
	if !ok {
		return false
	}
	return current.Interrupt()
}

// WaitForFillerAudioToFinish waits for the current filler audio, but only if
// any of it was actually played.
func (w *fillerAudioWorker) WaitForFillerAudioToFinish(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started.IsSet() {
		logger.DebugContext(ctx, "not waiting for filler audio, nothing was played")
		return nil
	}

	current, ok := w.Current()
	if !ok {
		return nil
	}
	return current.Tracker.Wait(ctx)
}
