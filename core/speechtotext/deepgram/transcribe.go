package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/workers"
	"github.com/koscakluka/ema-voice/internal/utils"
)

const listenURL = "wss://api.deepgram.com/v1/listen"

var ErrMissingAPIKey = errors.New("deepgram api key not found")

// Transcriber streams audio to Deepgram and hands every interim and final
// fragment to its consumer.
type Transcriber struct {
	config speechtotext.Config
	apiKey string
	model  string

	consumerMu sync.RWMutex
	consumer   workers.Consumer[speechtotext.Transcription]

	connMu    sync.Mutex
	conn      *websocket.Conn
	lastMsgTs time.Time

	muted atomic.Bool

	ready     chan struct{}
	failed    chan struct{}
	readyOnce sync.Once

	segmentMu       sync.Mutex
	finalSegments   []string
	segmentDuration float64
	confidence      float64
	unendedSegment  bool

	cancel    context.CancelFunc
	closeOnce sync.Once
}

type TranscriberOption func(*Transcriber)

func WithAPIKey(apiKey string) TranscriberOption {
	return func(t *Transcriber) { t.apiKey = apiKey }
}

func WithModel(model string) TranscriberOption {
	return func(t *Transcriber) { t.model = model }
}

func NewTranscriber(config speechtotext.Config, opts ...TranscriberOption) *Transcriber {
	if config.EncodingInfo.IsZero() {
		config.EncodingInfo = audio.GetDefaultEncodingInfo()
	}
	t := &Transcriber{
		config: config,
		apiKey: os.Getenv("DEEPGRAM_API_KEY"),
		model:  "nova-3",
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transcriber) Config() speechtotext.Config { return t.config }

func (t *Transcriber) SetConsumer(consumer workers.Consumer[speechtotext.Transcription]) {
	t.consumerMu.Lock()
	defer t.consumerMu.Unlock()
	t.consumer = consumer
}

// Start opens the streaming connection. Failures are also reported through
// [Transcriber.Ready].
func (t *Transcriber) Start(ctx context.Context) error {
	encoding, err := convertEncoding(t.config.EncodingInfo)
	if err != nil {
		t.markFailed()
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := t.connectWebsocket(encoding)
	if err != nil {
		t.markFailed()
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	t.connMu.Lock()
	t.conn = conn
	t.lastMsgTs = time.Now()
	t.cancel = cancel
	t.connMu.Unlock()

	t.readyOnce.Do(func() { close(t.ready) })
	go t.readAndProcessMessages(ctx, conn)
	go t.generateSilence(ctx)
	return nil
}

// Ready blocks until the connection is open. It returns false when the
// connection failed or ctx ended first.
func (t *Transcriber) Ready(ctx context.Context) bool {
	select {
	case <-t.ready:
		return true
	case <-t.failed:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *Transcriber) markFailed() {
	t.readyOnce.Do(func() { close(t.failed) })
}

// Mute replaces incoming audio with silence until Unmute is called, so the
// transcriber does not pick up the bot's own voice.
func (t *Transcriber) Mute()   { t.muted.Store(true) }
func (t *Transcriber) Unmute() { t.muted.Store(false) }

func (t *Transcriber) SendAudio(data []byte) error {
	if t.muted.Load() {
		data = t.config.EncodingInfo.Silence(t.config.EncodingInfo.Duration(len(data)))
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("deepgram connection not open")
	}

	t.lastMsgTs = time.Now()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// Terminate asks Deepgram to flush and close the stream.
func (t *Transcriber) Terminate() error {
	var err error
	t.closeOnce.Do(func() {
		t.connMu.Lock()
		defer t.connMu.Unlock()

		if t.cancel != nil {
			t.cancel()
		}
		if t.conn == nil {
			return
		}
		if writeErr := t.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); writeErr != nil {
			err = fmt.Errorf("failed to close deepgram stream: %w", writeErr)
		}
	})
	return err
}

func (t *Transcriber) connectWebsocket(encoding *encodingInfo) (*websocket.Conn, error) {
	if t.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	listenUrl, _ := url.Parse(listenURL)
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", t.model)
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("vad_events", "true")
	queryParams.Set("endpointing", "300")

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + t.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (t *Transcriber) readAndProcessMessages(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		t.connMu.Lock()
		t.conn = nil
		t.connMu.Unlock()
		conn.Close()
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Error("failed to read deepgram websocket message", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			t.processMessage(msg)
		}
	}
}

func (t *Transcriber) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Error("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Error("failed to unmarshal deepgram message", "error", err)
			return
		}
		t.processResult(&msgResp)

	case api.TypeUtteranceEndResponse:
		t.segmentMu.Lock()
		unended := t.unendedSegment
		t.segmentMu.Unlock()
		if unended {
			t.emitFinal()
		}

	case api.TypeSpeechStartedResponse:
		t.segmentMu.Lock()
		t.unendedSegment = true
		t.segmentMu.Unlock()
	}
}

func (t *Transcriber) processResult(msgResp *api.MessageResponse) {
	if len(msgResp.Channel.Alternatives) == 0 {
		return
	}
	alternative := msgResp.Channel.Alternatives[0]
	text := strings.TrimSpace(alternative.Transcript)

	t.segmentMu.Lock()
	if msgResp.IsFinal {
		if text != "" {
			t.finalSegments = append(t.finalSegments, text)
			t.segmentDuration += msgResp.Duration
			t.confidence = alternative.Confidence
			t.unendedSegment = true
		}
		t.segmentMu.Unlock()
		if msgResp.SpeechFinal {
			t.emitFinal()
		}
		return
	}

	interim := strings.TrimSpace(strings.Join(append(append([]string{}, t.finalSegments...), text), " "))
	duration := t.segmentDuration + msgResp.Duration
	t.segmentMu.Unlock()

	if interim == "" {
		return
	}
	t.emit(speechtotext.Transcription{
		Message:    interim,
		Confidence: alternative.Confidence,
		Duration:   secondsToDuration(duration),
	})
}

func (t *Transcriber) emitFinal() {
	t.segmentMu.Lock()
	text := strings.Join(t.finalSegments, " ")
	transcription := speechtotext.Transcription{
		Message:    text,
		Confidence: t.confidence,
		IsFinal:    true,
		Duration:   secondsToDuration(t.segmentDuration),
	}
	t.finalSegments = nil
	t.segmentDuration = 0
	t.unendedSegment = false
	t.segmentMu.Unlock()

	if text == "" {
		return
	}
	t.emit(transcription)
}

func (t *Transcriber) emit(transcription speechtotext.Transcription) {
	t.consumerMu.RLock()
	consumer := t.consumer
	t.consumerMu.RUnlock()

	if consumer == nil {
		logger.Debug("dropping transcription without consumer", "message", transcription.Message)
		return
	}
	consumer.ConsumeNonBlocking(transcription)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// generateSilence keeps the stream alive while no audio is coming in: first
// by streaming silence so endpointing still fires, then with periodic
// KeepAlive messages.
func (t *Transcriber) generateSilence(ctx context.Context) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const duration = 50 * time.Millisecond
	ticker := time.NewTicker(duration)
	defer ticker.Stop()

	chunk := t.config.EncodingInfo.Silence(duration)

	var state = silenceGeneratorStateWaiting
	var firstSilenceTime *time.Time
	var lastKeepAliveTime *time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sinceLastMessage := t.sinceLastMessage()
			switch state {
			case silenceGeneratorStateWaiting:
				if sinceLastMessage > duration {
					state = silenceGeneratorStateSilence
					firstSilenceTime = utils.Ptr(time.Now())
				}

			case silenceGeneratorStateSilence:
				if sinceLastMessage < duration {
					state = silenceGeneratorStateWaiting
					firstSilenceTime = nil
					continue
				}
				if time.Since(*firstSilenceTime) >= time.Second {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = utils.Ptr(time.Now())
					firstSilenceTime = nil
					continue
				}

				if err := t.write(websocket.BinaryMessage, chunk); err != nil {
					logger.DebugContext(ctx, "failed to send silence", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if sinceLastMessage < duration {
					state = silenceGeneratorStateWaiting
					continue
				}

				if time.Since(*lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = utils.Ptr(time.Now())
					if err := t.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
						logger.DebugContext(ctx, "failed to send keep alive", "error", err)
					}
				}
			}
		}
	}
}

func (t *Transcriber) sinceLastMessage() time.Duration {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return time.Since(t.lastMsgTs)
}

func (t *Transcriber) write(messageType int, data []byte) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("deepgram connection not open")
	}
	return t.conn.WriteMessage(messageType, data)
}
