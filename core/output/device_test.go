package output

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/interruptible"
)

type markingPlayerStub struct {
	mu      sync.Mutex
	sent    [][]byte
	cleared atomic.Int32
	hold    bool
	// keepMarks keeps held marks across ClearBuffer.
	keepMarks bool
	marks     []func(string)
}

func (p *markingPlayerStub) SendAudio(audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, audio)
	return nil
}

func (p *markingPlayerStub) ClearBuffer() {
	p.cleared.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.keepMarks {
		p.marks = nil
	}
}

func (p *markingPlayerStub) release() {
	p.mu.Lock()
	marks := p.marks
	p.marks = nil
	p.mu.Unlock()
	for _, mark := range marks {
		mark("released")
	}
}

func (p *markingPlayerStub) waitForSent(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		p.mu.Lock()
		sent := len(p.sent)
		p.mu.Unlock()
		if sent >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d chunks to be sent", n)
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *markingPlayerStub) EncodingInfo() audio.EncodingInfo {
	return audio.GetTelephonyEncodingInfo()
}

func (p *markingPlayerStub) Mark(name string, callback func(string)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hold {
		p.marks = append(p.marks, callback)
		return nil
	}
	go callback(name)
	return nil
}

func waitForState(t *testing.T, chunk *audio.Chunk, want audio.ChunkState) {
	t.Helper()
	deadline := time.After(time.Second)
	for chunk.State() != want {
		select {
		case <-deadline:
			t.Fatalf("expected chunk state %v, got %v", want, chunk.State())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDevicePlaysChunksInOrder(t *testing.T) {
	factory := interruptible.NewFactory(nil)
	player := &markingPlayerStub{}
	device := NewDevice(player)
	device.Start(context.Background())
	defer device.Terminate()

	var played atomic.Int32
	chunks := []*audio.Chunk{}
	for i := range 3 {
		chunk := audio.NewChunk([]byte{byte(i)}, func() { played.Add(1) }, nil)
		chunks = append(chunks, chunk)
		device.ConsumeNonBlocking(interruptible.New(factory, chunk))
	}

	waitForState(t, chunks[2], audio.ChunkPlayed)
	if got := played.Load(); got != 3 {
		t.Fatalf("expected 3 played chunks, got %d", got)
	}

	player.mu.Lock()
	defer player.mu.Unlock()
	for i, data := range player.sent {
		if data[0] != byte(i) {
			t.Fatalf("expected chunk %d at position %d, got %d", i, i, data[0])
		}
	}
}

func TestDeviceInterruptsCancelledChunks(t *testing.T) {
	factory := interruptible.NewFactory(nil)
	device := NewDevice(&markingPlayerStub{})
	device.Start(context.Background())
	defer device.Terminate()

	var interrupted, played atomic.Int32
	chunk := audio.NewChunk([]byte{1}, func() { played.Add(1) }, func() { interrupted.Add(1) })
	event := interruptible.New(factory, chunk)
	event.Interrupt()
	device.ConsumeNonBlocking(event)

	waitForState(t, chunk, audio.ChunkInterrupted)
	if interrupted.Load() != 1 || played.Load() != 0 {
		t.Fatalf("expected only the interrupt handler to fire once, got interrupted=%d played=%d", interrupted.Load(), played.Load())
	}
}

func TestDeviceInterruptStopsChunkInFlight(t *testing.T) {
	factory := interruptible.NewFactory(nil)
	player := &markingPlayerStub{hold: true}
	device := NewDevice(player)
	device.Start(context.Background())
	defer device.Terminate()

	chunk := audio.NewChunk([]byte{1}, nil, nil)
	device.ConsumeNonBlocking(interruptible.New(factory, chunk))
	player.waitForSent(t, 1)

	device.Interrupt()

	waitForState(t, chunk, audio.ChunkInterrupted)
	if player.cleared.Load() == 0 {
		t.Fatalf("expected interrupt to clear the player buffer")
	}
}

func TestDeviceInterruptKeepsNonInterruptibleChunk(t *testing.T) {
	factory := interruptible.NewFactory(nil)
	player := &markingPlayerStub{hold: true, keepMarks: true}
	device := NewDevice(player)
	device.Start(context.Background())
	defer device.Terminate()

	chunk := audio.NewChunk([]byte{1}, nil, nil)
	device.ConsumeNonBlocking(interruptible.New(factory, chunk, interruptible.NotInterruptible()))
	player.waitForSent(t, 1)

	device.Interrupt()
	time.Sleep(20 * time.Millisecond)
	if chunk.State() != audio.ChunkQueued {
		t.Fatalf("expected the chunk to keep playing, got %v", chunk.State())
	}

	player.release()
	waitForState(t, chunk, audio.ChunkPlayed)
}

func TestDeviceWithoutPlayerDropsAudio(t *testing.T) {
	factory := interruptible.NewFactory(nil)
	var nilPlayer *markingPlayerStub
	device := NewDevice(nilPlayer)
	device.Start(context.Background())
	defer device.Terminate()

	chunk := audio.NewChunk([]byte{1}, nil, nil)
	device.ConsumeNonBlocking(interruptible.New(factory, chunk))

	waitForState(t, chunk, audio.ChunkPlayed)
	if got := device.EncodingInfo(); got != audio.GetDefaultEncodingInfo() {
		t.Fatalf("expected default encoding info, got %+v", got)
	}
}
