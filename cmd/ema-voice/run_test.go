package main

import (
	"testing"

	"github.com/koscakluka/ema-voice/core/config"
)

func TestOpenAudioBackend(t *testing.T) {
	cfg := config.Defaults()

	cfg.Audio.Backend = config.AudioNone
	backend, err := openAudioBackend(&cfg)
	if err != nil || backend != nil {
		t.Fatalf("expected no backend without an error, got %v, %v", backend, err)
	}

	cfg.Audio.Backend = "alsa"
	if _, err := openAudioBackend(&cfg); err == nil {
		t.Fatalf("expected an unknown backend to fail")
	}
}
