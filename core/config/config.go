// Package config loads the configuration of a voice conversation from TOML,
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/koscakluka/ema-voice/core/agent"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	AgentEcho   = "echo"
	AgentOpenAI = "openai"

	AudioMiniaudio = "miniaudio"
	AudioPortaudio = "portaudio"
	AudioNone      = "none"
)

type Config struct {
	Agent        AgentConfig        `toml:"agent" jsonschema:"description=The agent answering the human"`
	Transcriber  TranscriberConfig  `toml:"transcriber"`
	Synthesizer  SynthesizerConfig  `toml:"synthesizer"`
	Audio        AudioConfig        `toml:"audio"`
	Conversation ConversationConfig `toml:"conversation"`
	IVR          IVRConfig          `toml:"ivr" jsonschema:"description=Menu played before the agent takes over"`
	Recording    RecordingConfig    `toml:"recording"`
}

type AgentConfig struct {
	Kind         string `toml:"kind" jsonschema:"enum=echo,enum=openai,default=echo"`
	Model        string `toml:"model,omitempty"`
	Instructions string `toml:"instructions,omitempty"`
	// TokenStreaming sends the response token by token to the synthesizer.
	TokenStreaming bool `toml:"token_streaming"`

	InitialMessage       string   `toml:"initial_message,omitempty"`
	InitialMessageDelay  Duration `toml:"initial_message_delay,omitempty"`
	InterruptSensitivity string   `toml:"interrupt_sensitivity" jsonschema:"enum=low,enum=normal,enum=high,default=normal"`

	SendFillerAudio        bool     `toml:"send_filler_audio"`
	FillerSilenceThreshold Duration `toml:"filler_silence_threshold,omitempty"`

	AllowedIdleTime           Duration `toml:"allowed_idle_time,omitempty"`
	NumCheckHumanPresentTimes int      `toml:"num_check_human_present_times" jsonschema:"minimum=0"`
}

type TranscriberConfig struct {
	Model                  string  `toml:"model"`
	MuteDuringSpeech       bool    `toml:"mute_during_speech"`
	MinInterruptConfidence float64 `toml:"min_interrupt_confidence" jsonschema:"minimum=0,maximum=1"`
}

type SynthesizerConfig struct {
	Voice          string  `toml:"voice"`
	WordsPerMinute float64 `toml:"words_per_minute,omitempty" jsonschema:"minimum=0"`
}

type AudioConfig struct {
	Backend    string `toml:"backend" jsonschema:"enum=miniaudio,enum=portaudio,enum=none,default=miniaudio"`
	BufferSize int    `toml:"buffer_size" jsonschema:"minimum=1"`
}

type ConversationConfig struct {
	SpeedCoefficient  float64  `toml:"speed_coefficient" jsonschema:"exclusiveMinimum=0"`
	IdleCheckInterval Duration `toml:"idle_check_interval,omitempty"`
}

type IVRConfig struct {
	// DAGPath points to a TOML menu definition. It takes precedence over
	// the plain messages below.
	DAGPath string `toml:"dag_path,omitempty"`

	Message          string   `toml:"message,omitempty"`
	HandoffDelay     Duration `toml:"handoff_delay,omitempty"`
	HoldMessage      string   `toml:"hold_message,omitempty"`
	HoldMessageDelay Duration `toml:"hold_message_delay,omitempty"`
	HoldDuration     Duration `toml:"hold_duration,omitempty"`
}

type RecordingConfig struct {
	AccountSID string `toml:"account_sid,omitempty"`
	AuthToken  string `toml:"auth_token,omitempty" jsonschema:"writeOnly=true"`
	BaseURL    string `toml:"base_url,omitempty"`
}

func Defaults() Config {
	agentDefaults := agent.DefaultConfig()
	return Config{
		Agent: AgentConfig{
			Kind:                      AgentEcho,
			InterruptSensitivity:      string(agentDefaults.InterruptSensitivity),
			FillerSilenceThreshold:    Duration{agentDefaults.FillerAudioConfig.SilenceThreshold},
			AllowedIdleTime:           Duration{agentDefaults.AllowedIdleTime},
			NumCheckHumanPresentTimes: agentDefaults.NumCheckHumanPresentTimes,
		},
		Transcriber: TranscriberConfig{Model: "nova-3"},
		Synthesizer: SynthesizerConfig{Voice: "aura-2-thalia-en"},
		Audio: AudioConfig{
			Backend:    AudioMiniaudio,
			BufferSize: 1024,
		},
		Conversation: ConversationConfig{
			SpeedCoefficient:  1,
			IdleCheckInterval: Duration{agent.DefaultAllowedIdleTime},
		},
	}
}

// Load reads the configuration from path, if it exists, and applies
// environment variable overrides. Env vars always win.
//
// An empty path falls back to EMA_CONFIG, then to
// ~/.config/ema-voice/config.toml.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = configPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse reads the configuration from TOML without looking at the
// environment.
func Parse(data string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configPath() string {
	if p := os.Getenv("EMA_CONFIG"); p != "" {
		return expandHome(p)
	}
	home := os.Getenv("HOME")
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "ema-voice", "config.toml")
}

func applyEnv(cfg *Config) error {
	var errs []error

	if v := os.Getenv("EMA_AGENT"); v != "" {
		cfg.Agent.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("EMA_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("EMA_INITIAL_MESSAGE"); v != "" {
		cfg.Agent.InitialMessage = v
	}
	if v := os.Getenv("EMA_INTERRUPT_SENSITIVITY"); v != "" {
		cfg.Agent.InterruptSensitivity = strings.ToLower(v)
	}
	if v := os.Getenv("EMA_SEND_FILLER_AUDIO"); v != "" {
		cfg.Agent.SendFillerAudio = v == "true"
	}
	if v := os.Getenv("EMA_ALLOWED_IDLE_TIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EMA_ALLOWED_IDLE_TIME: %w", err))
		} else {
			cfg.Agent.AllowedIdleTime = Duration{d}
		}
	}

	if v := os.Getenv("EMA_TRANSCRIBER_MODEL"); v != "" {
		cfg.Transcriber.Model = v
	}
	if v := os.Getenv("EMA_MUTE_DURING_SPEECH"); v != "" {
		cfg.Transcriber.MuteDuringSpeech = v == "true"
	}

	if v := os.Getenv("EMA_VOICE"); v != "" {
		cfg.Synthesizer.Voice = v
	}

	if v := os.Getenv("EMA_AUDIO_BACKEND"); v != "" {
		cfg.Audio.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("EMA_SPEED_COEFFICIENT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("EMA_SPEED_COEFFICIENT: %w", err))
		} else {
			cfg.Conversation.SpeedCoefficient = f
		}
	}

	if v := os.Getenv("EMA_IVR_DAG"); v != "" {
		cfg.IVR.DAGPath = expandHome(v)
	}

	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Recording.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Recording.AuthToken = v
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Validate checks the values that cannot be fixed up with a default.
func (c *Config) Validate() error {
	var errs []error

	switch c.Agent.Kind {
	case AgentEcho, AgentOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown agent %q", c.Agent.Kind))
	}
	switch agent.InterruptSensitivity(c.Agent.InterruptSensitivity) {
	case agent.InterruptSensitivityLow, agent.InterruptSensitivityNormal, agent.InterruptSensitivityHigh:
	default:
		errs = append(errs, fmt.Errorf("unknown interrupt sensitivity %q", c.Agent.InterruptSensitivity))
	}
	if c.Agent.NumCheckHumanPresentTimes < 0 {
		errs = append(errs, errors.New("num_check_human_present_times cannot be negative"))
	}
	switch c.Audio.Backend {
	case AudioMiniaudio, AudioPortaudio, AudioNone:
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", c.Audio.Backend))
	}
	if c.Audio.BufferSize <= 0 {
		c.Audio.BufferSize = Defaults().Audio.BufferSize
	}
	if c.Conversation.SpeedCoefficient <= 0 {
		c.Conversation.SpeedCoefficient = 1
	}
	if c.Transcriber.MinInterruptConfidence < 0 || c.Transcriber.MinInterruptConfidence > 1 {
		errs = append(errs, errors.New("min_interrupt_confidence must be between 0 and 1"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// AgentConfig is the configuration handed to the agent.
func (c *Config) AgentConfig() agent.Config {
	fillerAudio := texttospeech.DefaultFillerAudioConfig()
	if c.Agent.FillerSilenceThreshold.Duration > 0 {
		fillerAudio.SilenceThreshold = c.Agent.FillerSilenceThreshold.Duration
	}
	return agent.Config{
		InitialMessage:            c.Agent.InitialMessage,
		InitialMessageDelay:       c.Agent.InitialMessageDelay.Duration,
		InterruptSensitivity:      agent.InterruptSensitivity(c.Agent.InterruptSensitivity),
		SendFillerAudio:           c.Agent.SendFillerAudio,
		FillerAudioConfig:         fillerAudio,
		AllowedIdleTime:           c.Agent.AllowedIdleTime.Duration,
		NumCheckHumanPresentTimes: c.Agent.NumCheckHumanPresentTimes,
	}
}

// TranscriberConfig is the configuration handed to the transcriber.
func (c *Config) TranscriberConfig() speechtotext.Config {
	config := speechtotext.DefaultConfig()
	config.MuteDuringSpeech = c.Transcriber.MuteDuringSpeech
	config.MinInterruptConfidence = c.Transcriber.MinInterruptConfidence
	return config
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
