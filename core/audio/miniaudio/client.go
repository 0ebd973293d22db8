// Package miniaudio plays and captures audio on the default system devices.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/output"
)

var _ output.MarkingPlayer = (*Client)(nil)

// Client is a full duplex local audio client. Playback is started right
// away, capture once StartCapture is called.
type Client struct {
	// audioContext is kept so it can be released on Close.
	audioContext *malgo.AllocatedContext
	playback     playbackClient
	capture      captureClient

	encodingInfo audio.EncodingInfo
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := &Client{
		audioContext: audioCtx,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}
	sampleRate := uint32(client.encodingInfo.SampleRate)

	if err := client.playback.Init(audioCtx, sampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := client.playback.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	if err := client.capture.Init(audioCtx, sampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return client, nil
}

// StartCapture calls onAudio with every buffer recorded from the default
// input device until ctx is done or StopCapture is called.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.capture.Start(onAudio); err != nil {
		return err
	}
	context.AfterFunc(ctx, func() {
		if err := c.capture.Stop(); err != nil {
			logger.Error("failed to stop capture", "error", err)
		}
	})
	return nil
}

func (c *Client) StopCapture() error {
	return c.capture.Stop()
}

func (c *Client) Close() {
	_ = c.capture.Uninit()
	_ = c.playback.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playback.SendAudio(audio)
}

// ClearBuffer drops the audio not played yet. Marks waiting on that audio
// are released.
func (c *Client) ClearBuffer() {
	c.playback.ClearBuffer()
}

func (c *Client) Mark(name string, callback func(string)) error {
	return c.playback.Mark(name, callback)
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
