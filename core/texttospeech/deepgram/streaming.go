package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func sendTextMsg(text string) speakMessage {
	return speakMessage{Type: "Speak", Text: text}
}

// utterance is one streaming connection producing the audio of a single bot
// utterance. Text is sent with speak, and the audio ends at the first flush
// confirmation after finish was called.
type utterance struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	audio  chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	textMu sync.Mutex
	text   strings.Builder

	finished  atomic.Bool
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

func dial(ctx context.Context, apiKey string, voice Voice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func newUtterance(conn *websocket.Conn) *utterance {
	ctx, cancel := context.WithCancel(context.Background())
	u := &utterance{
		ws:     conn,
		audio:  make(chan []byte, 16),
		ctx:    ctx,
		cancel: cancel,
	}
	go u.processIncomingMessages()
	return u
}

func (u *utterance) speak(text string) error {
	u.textMu.Lock()
	u.text.WriteString(text)
	u.textMu.Unlock()

	return u.send(sendTextMsg(text))
}

// finish asks for the remaining audio. The chunk sequence ends once it has
// been received.
func (u *utterance) finish() error {
	u.finished.Store(true)
	return u.send(flushMsg)
}

func (u *utterance) Text() string {
	u.textMu.Lock()
	defer u.textMu.Unlock()
	return u.text.String()
}

func (u *utterance) send(msg any) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	if u.ctx.Err() != nil {
		return fmt.Errorf("websocket connection closed")
	}
	if err := u.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

func (u *utterance) processIncomingMessages() {
	defer close(u.audio)

	for {
		msgType, msg, err := u.ws.ReadMessage()
		if err != nil {
			if u.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				u.setErr(fmt.Errorf("websocket read error: %w", err))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			select {
			case u.audio <- msg:
			case <-u.ctx.Done():
				return
			}
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				if u.finished.Load() {
					return
				}
			case "Warning":
				logger.Warn("deepgram warning", "message", string(msg))
			}
		}
	}
}

func (u *utterance) setErr(err error) {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	u.err = err
}

func (u *utterance) Err() error {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	return u.err
}

func (u *utterance) close() error {
	var err error
	u.closeOnce.Do(func() {
		if !u.finished.Load() {
			_ = u.send(clearMsg)
		}
		sendErr := u.send(closeMsg)
		u.cancel()
		if closeErr := u.ws.Close(); sendErr != nil && closeErr != nil {
			err = fmt.Errorf("failed to close websocket: %w", errors.Join(sendErr, closeErr))
		}
	})
	return err
}

// chunks re-slices the incoming audio into chunks of chunkSize bytes. The
// connection is closed once the sequence ends or the consumer stops early.
func (u *utterance) chunks(chunkSize int) func(func(texttospeech.ChunkResult, error) bool) {
	return func(yield func(texttospeech.ChunkResult, error) bool) {
		defer u.close()

		var buffer []byte
		for data := range u.audio {
			buffer = append(buffer, data...)
			for chunkSize > 0 && len(buffer) >= chunkSize {
				if !yield(texttospeech.ChunkResult{Chunk: buffer[:chunkSize:chunkSize]}, nil) {
					return
				}
				buffer = buffer[chunkSize:]
			}
		}

		if err := u.Err(); err != nil {
			yield(texttospeech.ChunkResult{}, err)
			return
		}
		if len(buffer) > 0 {
			yield(texttospeech.ChunkResult{Chunk: buffer, IsLastChunk: true}, nil)
		}
	}
}
