package output

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/interruptible"
	"github.com/koscakluka/ema-voice/core/workers"
	"go.opentelemetry.io/otel/metric"
)

// Device plays audio chunks in the order they were consumed. Each chunk
// reaches exactly one terminal state: played, or interrupted when its token
// was cancelled, the device was interrupted mid-chunk, or the player failed.
type Device struct {
	player *player
	worker *workers.QueueWorker[*interruptible.Event[*audio.Chunk]]

	epochMu     sync.Mutex
	epoch       context.Context
	cancelEpoch context.CancelFunc

	playedSeconds metric.Float64Counter
}

func NewDevice(client Player) *Device {
	d := &Device{player: newPlayer(client)}
	d.epoch, d.cancelEpoch = context.WithCancel(context.Background())
	d.worker = workers.NewQueueWorker("output device", d.play)

	var err error
	if d.playedSeconds, err = meter.Float64Counter(
		"output.played_seconds",
		metric.WithDescription("Seconds of audio confirmed as played"),
		metric.WithUnit("s"),
	); err != nil {
		logger.Error("failed to create played seconds counter", "error", err)
	}
	return d
}

func (d *Device) Start(ctx context.Context) {
	d.worker.Start(ctx)
}

func (d *Device) ConsumeNonBlocking(event *interruptible.Event[*audio.Chunk]) {
	d.worker.ConsumeNonBlocking(event)
}

func (d *Device) EncodingInfo() audio.EncodingInfo {
	return d.player.EncodingInfo()
}

// Interrupt discards whatever the player has buffered and stops the chunk
// being played. Queued chunks whose events were interrupted are skipped when
// they come up.
func (d *Device) Interrupt() {
	d.epochMu.Lock()
	d.cancelEpoch()
	d.epoch, d.cancelEpoch = context.WithCancel(context.Background())
	d.epochMu.Unlock()

	d.player.Clear()
}

// Terminate stops playback and interrupts every chunk that never got played.
func (d *Device) Terminate() {
	d.Interrupt()
	d.worker.Terminate()
	for _, event := range d.worker.Drain() {
		event.Payload.MarkInterrupted()
	}
}

func (d *Device) currentEpoch() context.Context {
	d.epochMu.Lock()
	defer d.epochMu.Unlock()
	return d.epoch
}

func (d *Device) play(ctx context.Context, event *interruptible.Event[*audio.Chunk]) {
	chunk := event.Payload
	if event.IsInterrupted() {
		chunk.MarkInterrupted()
		return
	}

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if event.IsInterruptible() {
		stopOnToken := context.AfterFunc(event.Context(), cancel)
		defer stopOnToken()
		stopOnInterrupt := context.AfterFunc(d.currentEpoch(), cancel)
		defer stopOnInterrupt()
	}

	if err := d.player.Play(playCtx, chunk.Data); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "failed to play audio chunk", "error", err)
		}
		chunk.MarkInterrupted()
		return
	}

	chunk.MarkPlayed()
	event.Consume()
	if d.playedSeconds != nil {
		d.playedSeconds.Add(ctx, d.EncodingInfo().Duration(len(chunk.Data)).Seconds())
	}
}
