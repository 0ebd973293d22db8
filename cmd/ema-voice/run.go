package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/agent/openai"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/config"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/ivr"
	"github.com/koscakluka/ema-voice/core/output"
	stt "github.com/koscakluka/ema-voice/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-voice/core/telephony/twilio"
	tts "github.com/koscakluka/ema-voice/core/texttospeech/deepgram"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a conversation",
	Long: `Starts a conversation using the configured agent. Speak into the
microphone or type into the prompt; the transcript is shown as it happens.
The conversation ends when the agent says goodbye, the human stays silent
for too long or the program is interrupted.`,
	Args: cobra.NoArgs,
	RunE: runConversation,
}

func init() {
	runCmd.Flags().String("webhook-addr", "", "Serve Twilio recording callbacks on this address, e.g. :8080")
	runCmd.Flags().String("conversation-id", "", "ID of the conversation, random when empty")
}

// audioBackend is the local audio device a conversation plays to and
// captures from.
type audioBackend interface {
	output.Player
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

func openAudioBackend(cfg *config.Config) (audioBackend, error) {
	switch cfg.Audio.Backend {
	case config.AudioMiniaudio:
		return miniaudio.NewClient()
	case config.AudioPortaudio:
		return portaudio.NewClient(cfg.Audio.BufferSize)
	case config.AudioNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
}

func newAgent(cfg *config.Config) agent.Agent {
	agentConfig := cfg.AgentConfig()
	if cfg.Agent.Kind != config.AgentOpenAI {
		return agent.NewEcho(agentConfig)
	}

	opts := []openai.Option{openai.WithTokenStreaming(cfg.Agent.TokenStreaming)}
	if cfg.Agent.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Agent.Model))
	}
	if cfg.Agent.Instructions != "" {
		opts = append(opts, openai.WithInstructions(cfg.Agent.Instructions))
	}
	return openai.NewAgent(agentConfig, opts...)
}

func conversationOptions(cfg *config.Config) ([]orchestration.ConversationOption, error) {
	opts := []orchestration.ConversationOption{
		orchestration.WithSpeedCoefficient(cfg.Conversation.SpeedCoefficient),
		orchestration.WithIdleCheckInterval(cfg.Conversation.IdleCheckInterval.Duration),
	}

	switch {
	case cfg.IVR.DAGPath != "":
		dag, err := ivr.LoadDAG(cfg.IVR.DAGPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestration.WithIVRDAG(dag))
	case cfg.IVR.Message != "" || cfg.IVR.HoldMessage != "":
		opts = append(opts, orchestration.WithIVRConfig(orchestration.IVRConfig{
			Message:          cfg.IVR.Message,
			HandoffDelay:     cfg.IVR.HandoffDelay.Duration,
			HoldMessage:      cfg.IVR.HoldMessage,
			HoldMessageDelay: cfg.IVR.HoldMessageDelay.Duration,
			HoldDuration:     cfg.IVR.HoldDuration.Duration,
		}))
	}
	return opts, nil
}

func runConversation(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath, _ := cmd.Flags().GetString("config")
	webhookAddr, _ := cmd.Flags().GetString("webhook-addr")
	conversationID, _ := cmd.Flags().GetString("conversation-id")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	backend, err := openAudioBackend(cfg)
	if err != nil {
		return err
	}
	var player output.Player
	if backend != nil {
		defer backend.Close()
		player = backend
	}
	device := output.NewDevice(player)
	encodingInfo := device.EncodingInfo()

	transcriberConfig := cfg.TranscriberConfig()
	transcriberConfig.EncodingInfo = encodingInfo
	transcriber := stt.NewTranscriber(transcriberConfig, stt.WithModel(cfg.Transcriber.Model))

	synthesizerOpts := []tts.SynthesizerOption{tts.WithEncodingInfo(encodingInfo)}
	if cfg.Synthesizer.WordsPerMinute > 0 {
		synthesizerOpts = append(synthesizerOpts, tts.WithWordsPerMinute(cfg.Synthesizer.WordsPerMinute))
	}
	synthesizer, err := tts.NewSynthesizer(tts.Voice(cfg.Synthesizer.Voice), synthesizerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	opts, err := conversationOptions(cfg)
	if err != nil {
		return err
	}

	manager := events.NewManager()
	updates := make(chan events.Event, 256)
	manager.Subscribe(func(_ context.Context, event events.Event) {
		select {
		case updates <- event:
		default:
		}
	})
	opts = append(opts,
		orchestration.WithEventsSink(manager),
		orchestration.WithConversationID(conversationID),
	)

	conversation := orchestration.New(transcriber, newAgent(cfg), synthesizer, device, opts...)

	manager.Start(ctx)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		manager.Flush(flushCtx)
	}()

	if webhookAddr != "" {
		server, err := serveRecordingWebhook(ctx, webhookAddr, manager)
		if err != nil {
			return err
		}
		defer server.Close()
	}

	if err := conversation.Start(ctx); err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	defer func() {
		terminateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := conversation.Terminate(terminateCtx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	}()

	if backend != nil {
		if err := backend.StartCapture(ctx, conversation.ConsumeInboundAudio); err != nil {
			return fmt.Errorf("failed to start capturing audio: %w", err)
		}
	}

	program := tea.NewProgram(
		newModel("ema-voice "+conversation.ID(), conversation.ReceiveTextMessage, updates),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	go func() {
		if err := conversation.WaitForTermination(ctx); err != nil {
			return
		}
		// Leave the last message on screen for a moment.
		time.Sleep(time.Second)
		program.Send(endedMsg{})
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run terminal ui: %w", err)
	}
	return nil
}

func serveRecordingWebhook(ctx context.Context, addr string, publisher twilio.Publisher) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("POST /recordings/{conversation_id}", &twilio.RecordingWebhook{Events: publisher})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           otelhttp.NewHandler(mux, "recording webhook"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "recording webhook stopped", "error", err)
		}
	}()
	return server, nil
}
