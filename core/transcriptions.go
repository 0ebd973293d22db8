package orchestration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/koscakluka/ema-voice/core/workers"
)

const duplicateTranscriptionWindow = 500 * time.Millisecond

type inputConsumer = workers.Consumer[*interruptible.Event[agent.Input]]

// transcriptionsWorker decides which transcription fragments reach the agent
// and broadcasts an interrupt when the human talks over the bot.
type transcriptionsWorker struct {
	*workers.QueueWorker[speechtotext.Transcription]

	conversation *StreamingConversation

	consumerMu sync.RWMutex
	consumer   inputConsumer

	// Everything below is only touched by the worker goroutine.
	lastTranscription     string
	lastTranscriptionTime time.Time

	hasIgnoredUtterance   bool
	hasUnignoredUtterance bool
	backchannels          []speechtotext.Transcription

	currentIsInterrupt bool
}

func newTranscriptionsWorker(c *StreamingConversation) *transcriptionsWorker {
	w := &transcriptionsWorker{conversation: c}
	w.QueueWorker = workers.NewQueueWorker("transcriptions", w.process)
	return w
}

// setConsumer swaps where forwarded utterances go. The IVR hand-off uses it
// while the worker is stopped.
func (w *transcriptionsWorker) setConsumer(consumer inputConsumer) {
	w.consumerMu.Lock()
	defer w.consumerMu.Unlock()
	w.consumer = consumer
}

func (w *transcriptionsWorker) currentConsumer() inputConsumer {
	w.consumerMu.RLock()
	defer w.consumerMu.RUnlock()
	return w.consumer
}

func (w *transcriptionsWorker) simulateInterrupt() bool {
	return w.conversation.transcriber.Config().Endpointing.SimulateInterrupt
}

func (w *transcriptionsWorker) shouldIgnore(transcription speechtotext.Transcription) bool {
	simulateInterrupt := w.simulateInterrupt()
	if w.hasUnignoredUtterance && !simulateInterrupt {
		return false
	}

	stillSpeaking := isBotStillSpeaking(w.conversation.transcript)
	if w.hasIgnoredUtterance || stillSpeaking {
		logger.Debug("checking for backchannel",
			"has_ignored_utterance", w.hasIgnoredUtterance,
			"bot_still_speaking", stillSpeaking)
		return isBackchannel(transcription.Message, w.conversation.agent.Config().InterruptSensitivity, simulateInterrupt)
	}
	return false
}

func (w *transcriptionsWorker) process(ctx context.Context, transcription speechtotext.Transcription) {
	c := w.conversation

	now := c.now()
	if transcription.Message == w.lastTranscription && !w.lastTranscriptionTime.IsZero() &&
		now.Sub(w.lastTranscriptionTime) < duplicateTranscriptionWindow {
		logger.DebugContext(ctx, "ignoring duplicate transcription", "message", transcription.Message)
		return
	}
	w.lastTranscription = transcription.Message
	w.lastTranscriptionTime = now

	c.markLastAction()
	if strings.TrimSpace(transcription.Message) == "" {
		logger.DebugContext(ctx, "ignoring empty transcription")
		return
	}
	c.idleChecks.Store(0)

	initialMessageOngoing := !c.initialMessageTracker.IsSet()
	if initialMessageOngoing || w.shouldIgnore(transcription) {
		logger.InfoContext(ctx, "ignoring utterance",
			"message", transcription.Message,
			"initial_message_ongoing", initialMessageOngoing)
		w.hasIgnoredUtterance = !transcription.IsFinal
		if transcription.IsFinal {
			w.backchannels = append(w.backchannels, transcription)
		}
		return
	}

	if transcription.IsFinal {
		logger.DebugContext(ctx, "got final transcription",
			"message", transcription.Message,
			"confidence", transcription.Confidence,
			"wpm", transcription.WPM())
	}

	botWasInMediasRes := isBotInMediasRes(c.transcript) || isBotStillSpeaking(c.transcript)
	if c.isHumanSpeaking.Load() {
		if botWasInMediasRes {
			w.currentIsInterrupt = c.BroadcastInterrupt()
			w.hasUnignoredUtterance = !transcription.IsFinal
			if w.currentIsInterrupt {
				logger.DebugContext(ctx, "sent interrupt")
			}
		} else {
			w.currentIsInterrupt = false
		}
	}

	transcription.IsInterrupt = w.currentIsInterrupt
	c.isHumanSpeaking.Store(!transcription.IsFinal)
	if !transcription.IsFinal {
		return
	}

	w.hasIgnoredUtterance = false
	w.hasUnignoredUtterance = false
	for _, backchannel := range w.backchannels {
		c.transcript.AddMessage(transcript.HumanMessage(backchannel.Message, true), true)
	}
	w.backchannels = nil

	if transcription.IsInterrupt {
		transcription.BotWasInMediasRes = botWasInMediasRes
		logger.DebugContext(ctx, "human interrupted", "bot_was_in_medias_res", botWasInMediasRes)
	}

	c.speed.Update(transcription)
	c.warmupSynthesizer()

	consumer := w.currentConsumer()
	if consumer == nil {
		logger.WarnContext(ctx, "no consumer for transcriptions, dropping", "message", transcription.Message)
		return
	}
	consumer.ConsumeNonBlocking(interruptible.New(c.factory, agent.Input{
		ConversationID: c.id,
		Transcription:  transcription,
	}))
}
