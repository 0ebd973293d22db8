package openai

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/messages"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultURL   = "https://api.openai.com/v1/responses"
	defaultModel = "gpt-4.1-mini"

	defaultInstructions = "You are a helpful voice assistant on a phone call. " +
		"Answer briefly in plain sentences without any formatting."
)

// Agent answers with a model served by the OpenAI responses API.
type Agent struct {
	*agent.Base

	apiKey       string
	model        string
	url          string
	instructions string
	client       *http.Client
	streamTokens bool
}

type Option func(*Agent)

func WithAPIKey(apiKey string) Option {
	return func(a *Agent) { a.apiKey = apiKey }
}

func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

func WithInstructions(instructions string) Option {
	return func(a *Agent) { a.instructions = instructions }
}

func WithURL(url string) Option {
	return func(a *Agent) { a.url = url }
}

func WithHTTPClient(client *http.Client) Option {
	return func(a *Agent) { a.client = client }
}

// WithTokenStreaming sends every generated token on its own. Use it with
// synthesizers that accept a response token by token, otherwise the
// response is sent a sentence at a time.
func WithTokenStreaming(stream bool) Option {
	return func(a *Agent) { a.streamTokens = stream }
}

func NewAgent(config agent.Config, opts ...Option) *Agent {
	a := &Agent{
		apiKey:       os.Getenv("OPENAI_API_KEY"),
		model:        defaultModel,
		url:          defaultURL,
		instructions: defaultInstructions,
		client:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Base = agent.NewBase("openai agent", config, a.respond)
	return a
}

func (a *Agent) respond(ctx context.Context, _ agent.Input, turn *agent.Turn) error {
	if a.Config().SendFillerAudio {
		turn.RequestFillerAudio()
	}

	var history []openAIMessage
	if store := a.Transcript(); store != nil {
		history = toOpenAIMessages(a.instructions, store.Snapshot())
	} else {
		history = toOpenAIMessages(a.instructions, nil)
	}

	var sentence strings.Builder
	for delta, err := range a.stream(ctx, history) {
		if err != nil {
			return err
		}
		if a.streamTokens {
			turn.Say(messages.LLMToken{Text: delta})
			continue
		}

		sentence.WriteString(delta)
		if endsSentence(delta) {
			turn.Say(messages.Text{Text: strings.TrimSpace(sentence.String())})
			sentence.Reset()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if rest := strings.TrimSpace(sentence.String()); rest != "" {
		turn.Say(messages.Text{Text: rest})
	}
	turn.EndOfTurn()
	return nil
}

func endsSentence(delta string) bool {
	trimmed := strings.TrimRight(delta, " \n\"')")
	return strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?")
}
