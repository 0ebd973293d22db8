package audio

import (
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-voice/core/audio")

type ChunkState int32

const (
	ChunkQueued ChunkState = iota
	ChunkPlayed
	ChunkInterrupted
)

func (s ChunkState) String() string {
	switch s {
	case ChunkQueued:
		return "queued"
	case ChunkPlayed:
		return "played"
	case ChunkInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Chunk is a piece of audio headed for an output device. The handlers are
// fixed at construction and exactly one of them fires, on the chunk's only
// terminal transition.
type Chunk struct {
	Data []byte

	OnPlay      func()
	OnInterrupt func()

	state atomic.Int32
}

func NewChunk(data []byte, onPlay, onInterrupt func()) *Chunk {
	return &Chunk{Data: data, OnPlay: onPlay, OnInterrupt: onInterrupt}
}

func (c *Chunk) State() ChunkState {
	return ChunkState(c.state.Load())
}

// MarkPlayed records that the chunk was played and runs OnPlay. It reports
// whether this call performed the transition.
func (c *Chunk) MarkPlayed() bool {
	if !c.state.CompareAndSwap(int32(ChunkQueued), int32(ChunkPlayed)) {
		return false
	}
	runHandler("on play", c.OnPlay)
	return true
}

// MarkInterrupted records that the chunk will never be played and runs
// OnInterrupt. It reports whether this call performed the transition.
func (c *Chunk) MarkInterrupted() bool {
	if !c.state.CompareAndSwap(int32(ChunkQueued), int32(ChunkInterrupted)) {
		return false
	}
	runHandler("on interrupt", c.OnInterrupt)
	return true
}

func runHandler(name string, handler func()) {
	if handler == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("audio chunk handler failed", "handler", name, "panic", recovered)
		}
	}()
	handler()
}
