package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

var errDeviceNotInitialized = errors.New("device not initialized")

type playbackMark struct {
	name string
	// position is the number of buffered bytes left to play before the mark
	// is reached.
	position int
	callback func(string)
}

type playbackClient struct {
	deviceMu sync.Mutex
	device   *malgo.Device

	mu       sync.Mutex
	buffered []byte
	marks    []playbackMark
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32) error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	const channels = 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = sampleRate
	config.Playback.Format = format
	config.Playback.Channels = channels
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = sampleRate / 10
	config.Periods = 4

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			c.fill(pOutput, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	c.device = device
	return nil
}

func (c *playbackClient) Start() error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	c.deviceMu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.deviceMu.Unlock()
	if !started {
		return errors.New("playback device not started")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = append(c.buffered, audio...)
	return nil
}

func (c *playbackClient) Mark(name string, callback func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks = append(c.marks, playbackMark{name: name, position: len(c.buffered), callback: callback})
	return nil
}

func (c *playbackClient) ClearBuffer() {
	c.mu.Lock()
	c.buffered = nil
	released := c.marks
	c.marks = nil
	c.mu.Unlock()

	go fireMarks(released)
}

// fill copies the next need bytes into out, padding with silence, and fires
// every mark the copied audio reaches.
func (c *playbackClient) fill(out []byte, need int) {
	c.mu.Lock()
	n := copy(out[:min(need, len(out))], c.buffered)
	c.buffered = c.buffered[n:]
	clear(out[n:])

	reached := 0
	for i := range c.marks {
		c.marks[i].position -= n
		if c.marks[i].position <= 0 {
			reached++
		}
	}
	passed := c.marks[:reached:reached]
	c.marks = c.marks[reached:]
	c.mu.Unlock()

	if len(passed) > 0 {
		go fireMarks(passed)
	}
}

func fireMarks(marks []playbackMark) {
	for _, mark := range marks {
		mark.callback(mark.name)
	}
}

func (c *playbackClient) Uninit() error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}
	c.device.Uninit()
	c.device = nil
	return nil
}
