// Package portaudio plays and captures audio through a blocking PortAudio
// stream.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/output"
)

var _ output.AwaitingPlayer = (*Client)(nil)

// Client buffers audio in SendAudio and writes it to the stream in
// AwaitMark, which returns once everything buffered was written.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	mu       sync.Mutex
	buffered []byte
	// generation changes on every ClearBuffer so AwaitMark can stop early.
	generation int

	writeMu sync.Mutex
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

// StartCapture reads from the input device until ctx is done, passing every
// buffer to onAudio.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	go func() {
		for ctx.Err() == nil {
			if err := c.stream.Read(); err != nil {
				logger.Error("failed to read from portaudio stream", "error", err)
				continue
			}

			var buf bytes.Buffer
			if err := binary.Write(&buf, binary.LittleEndian, c.in); err != nil {
				logger.Error("failed to encode captured audio", "error", err)
				continue
			}
			onAudio(buf.Bytes())
		}
	}()
	return nil
}

func (c *Client) Close() {
	_ = c.stream.Stop()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

func (c *Client) SendAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = append(c.buffered, audio...)
	return nil
}

func (c *Client) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = nil
	c.generation++
}

// AwaitMark writes the buffered audio frame by frame. A trailing partial
// frame stays buffered for the next call.
func (c *Client) AwaitMark() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frameBytes := c.bufferSize * 2
	for {
		c.mu.Lock()
		if len(c.buffered) < frameBytes {
			c.mu.Unlock()
			return nil
		}
		frame := c.buffered[:frameBytes]
		c.buffered = c.buffered[frameBytes:]
		generation := c.generation
		c.mu.Unlock()

		if err := binary.Read(bytes.NewReader(frame), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to decode audio frame: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}

		c.mu.Lock()
		cleared := generation != c.generation
		c.mu.Unlock()
		if cleared {
			return nil
		}
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
