package output

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Player is the minimum an audio sink has to provide. To be usable by a
// [Device] it also needs to implement either [MarkingPlayer] or
// [AwaitingPlayer] so the device can tell when a chunk was actually played.
type Player interface {
	SendAudio(audio []byte) error
	ClearBuffer()
	EncodingInfo() audio.EncodingInfo
}

// MarkingPlayer calls back once everything sent before the mark was played.
type MarkingPlayer interface {
	Player
	Mark(string, func(string)) error
}

// AwaitingPlayer blocks in AwaitMark until everything sent was played.
type AwaitingPlayer interface {
	Player
	AwaitMark() error
}

// player normalizes marking and awaiting clients behind a blocking Play.
type player struct {
	base     Player
	marking  MarkingPlayer
	awaiting AwaitingPlayer
}

func newPlayer(client Player) *player {
	p := &player{}
	if isNilPlayer(client) {
		return p
	}
	p.base = client

	if marking, ok := client.(MarkingPlayer); ok {
		p.marking = marking
		return p
	}
	if awaiting, ok := client.(AwaitingPlayer); ok {
		p.awaiting = awaiting
	}
	return p
}

func (p *player) isConfigured() bool {
	return p.marking != nil || p.awaiting != nil
}

// Play sends the audio and blocks until the client confirms it was played or
// ctx is done. Without a usable client the audio is dropped and reported as
// played so the pipeline keeps moving.
func (p *player) Play(ctx context.Context, data []byte) error {
	if !p.isConfigured() {
		return nil
	}

	if err := p.base.SendAudio(data); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}

	played := make(chan error, 1)
	if p.marking != nil {
		if err := p.marking.Mark(uuid.NewString(), func(string) { played <- nil }); err != nil {
			return fmt.Errorf("failed to mark audio: %w", err)
		}
	} else {
		// AwaitMark has no way to be cancelled, so it is left to finish on its
		// own if ctx ends first.
		go func() { played <- p.awaiting.AwaitMark() }()
	}

	select {
	case err := <-played:
		if err != nil {
			return err
		}
		// Clearing the buffer may release marks of audio that never played.
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *player) Clear() {
	if p.base != nil {
		p.base.ClearBuffer()
	}
}

func (p *player) EncodingInfo() audio.EncodingInfo {
	if p.base == nil {
		return audio.GetDefaultEncodingInfo()
	}
	if info := p.base.EncodingInfo(); !info.IsZero() {
		return info
	}
	return audio.GetDefaultEncodingInfo()
}

func isNilPlayer(client Player) bool {
	if client == nil {
		return true
	}

	value := reflect.ValueOf(client)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
