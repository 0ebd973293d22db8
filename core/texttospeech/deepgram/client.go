package deepgram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/messages"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

const defaultWordsPerMinute = 150

var ErrMissingAPIKey = errors.New("deepgram api key not found")

// Synthesizer speaks messages through Deepgram's streaming speak endpoint.
// It also accepts responses token by token.
type Synthesizer struct {
	voice          Voice
	apiKey         string
	encodingInfo   audio.EncodingInfo
	wordsPerMinute float64

	mu            sync.Mutex
	warm          *websocket.Conn
	open          []*utterance
	current       *utterance
	currentResult *texttospeech.SynthesisResult
	fillerAudios  []texttospeech.FillerAudio
}

type SynthesizerOption func(*Synthesizer)

func WithAPIKey(apiKey string) SynthesizerOption {
	return func(s *Synthesizer) { s.apiKey = apiKey }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesizerOption {
	return func(s *Synthesizer) {
		if encodingInfo.IsZero() {
			return
		}
		s.encodingInfo = encodingInfo
	}
}

// WithWordsPerMinute sets the speaking rate used to estimate how much of a
// message was said when playback is cut off.
func WithWordsPerMinute(wpm float64) SynthesizerOption {
	return func(s *Synthesizer) { s.wordsPerMinute = wpm }
}

func NewSynthesizer(voice Voice, opts ...SynthesizerOption) (*Synthesizer, error) {
	if voice == "" {
		voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice %q", voice)
	}

	s := &Synthesizer{
		voice:          voice,
		apiKey:         os.Getenv("DEEPGRAM_API_KEY"),
		encodingInfo:   audio.GetDefaultEncodingInfo(),
		wordsPerMinute: defaultWordsPerMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Synthesizer) EncodingInfo() audio.EncodingInfo { return s.encodingInfo }

func (s *Synthesizer) CreateSpeech(ctx context.Context, message messages.Message, chunkSize int, _ texttospeech.SpeechOptions) (*texttospeech.SynthesisResult, error) {
	var text string
	switch m := message.(type) {
	case messages.Silence:
		return texttospeech.NewSilenceResult(m.Duration, s.encodingInfo, chunkSize), nil
	case messages.EndOfTurn:
		return nil, fmt.Errorf("end of turn has no speech")
	case messages.Text, messages.LLMToken, messages.BotBackchannel:
		text = m.Spoken()
	default:
		return nil, fmt.Errorf("unsupported message %T", message)
	}

	u, err := s.openUtterance(ctx)
	if err != nil {
		return nil, err
	}
	if err := u.speak(text); err != nil {
		_ = u.close()
		return nil, fmt.Errorf("failed to send text to deepgram: %w", err)
	}
	if err := u.finish(); err != nil {
		_ = u.close()
		return nil, fmt.Errorf("failed to flush deepgram buffer: %w", err)
	}

	return s.resultFor(u, chunkSize), nil
}

func (s *Synthesizer) resultFor(u *utterance, chunkSize int) *texttospeech.SynthesisResult {
	return texttospeech.NewSynthesisResult(u.Text, u.chunks(chunkSize), func(elapsed time.Duration) string {
		return texttospeech.CutoffFromVoiceSpeed(u.Text(), elapsed, s.wordsPerMinute)
	})
}

// SendToken adds a token to the utterance currently being streamed, starting
// a new one if needed.
func (s *Synthesizer) SendToken(ctx context.Context, token messages.LLMToken, chunkSize int) error {
	s.mu.Lock()
	u := s.current
	s.mu.Unlock()

	if u == nil {
		var err error
		if u, err = s.openUtterance(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.current = u
		s.currentResult = s.resultFor(u, chunkSize)
		s.mu.Unlock()
	}

	return u.speak(token.Text)
}

func (s *Synthesizer) HandleEndOfTurn(_ context.Context) error {
	s.mu.Lock()
	u := s.current
	s.current = nil
	s.mu.Unlock()

	if u == nil {
		return nil
	}
	return u.finish()
}

func (s *Synthesizer) CurrentUtteranceResult() *texttospeech.SynthesisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentResult
}

// Warmup opens the connection the next utterance will use.
func (s *Synthesizer) Warmup(int) {
	s.mu.Lock()
	hasWarm := s.warm != nil
	s.mu.Unlock()
	if hasWarm {
		return
	}

	go func() {
		conn, err := dial(context.Background(), s.apiKey, s.voice, s.encodingInfo)
		if err != nil {
			logger.Debug("failed to warm up synthesizer", "error", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.warm != nil {
			conn.Close()
			return
		}
		s.warm = conn
	}()
}

func (s *Synthesizer) openUtterance(ctx context.Context) (*utterance, error) {
	s.mu.Lock()
	conn := s.warm
	s.warm = nil
	s.mu.Unlock()

	if conn == nil {
		var err error
		if conn, err = dial(ctx, s.apiKey, s.voice, s.encodingInfo); err != nil {
			return nil, err
		}
	}

	u := newUtterance(conn)
	s.mu.Lock()
	s.open = append(slices.DeleteFunc(s.open, func(u *utterance) bool { return u.ctx.Err() != nil }), u)
	s.mu.Unlock()
	return u, nil
}

func (s *Synthesizer) FillerAudios() []texttospeech.FillerAudio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillerAudios
}

// SetFillerAudios synthesizes every filler phrase up front so they can be
// played without delay.
func (s *Synthesizer) SetFillerAudios(ctx context.Context, config texttospeech.FillerAudioConfig) error {
	if !config.UsePhrases {
		return nil
	}

	fillerAudios := make([]texttospeech.FillerAudio, 0, len(texttospeech.FillerPhrases))
	for _, phrase := range texttospeech.FillerPhrases {
		result, err := s.CreateSpeech(ctx, messages.Text{Text: phrase}, 0, texttospeech.SpeechOptions{})
		if err != nil {
			return fmt.Errorf("failed to synthesize filler phrase %q: %w", phrase, err)
		}

		var data []byte
		for chunk, err := range result.Chunks {
			if err != nil {
				return fmt.Errorf("failed to synthesize filler phrase %q: %w", phrase, err)
			}
			data = append(data, chunk.Chunk...)
		}
		fillerAudios = append(fillerAudios, texttospeech.FillerAudio{
			Message:         phrase,
			Audio:           data,
			EncodingInfo:    s.encodingInfo,
			IsInterruptible: true,
			SecondsPerChunk: 1,
		})
	}

	s.mu.Lock()
	s.fillerAudios = fillerAudios
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) TearDown() error {
	s.mu.Lock()
	open := s.open
	warm := s.warm
	s.open, s.warm, s.current, s.currentResult = nil, nil, nil, nil
	s.mu.Unlock()

	var err error
	for _, u := range open {
		err = errors.Join(err, u.close())
	}
	if warm != nil {
		err = errors.Join(err, warm.Close())
	}
	return err
}
