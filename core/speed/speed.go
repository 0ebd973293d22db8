package speed

import (
	"sync"

	"github.com/koscakluka/ema-voice/core/speechtotext"
)

const (
	// DefaultWordsPerMinute is assumed until the human has said enough to
	// measure their pace.
	DefaultWordsPerMinute = 150.0

	smoothing = 0.3
	minWPM    = 60.0
	maxWPM    = 300.0
)

// Manager keeps a running estimate of how fast the human speaks. The agent
// and the synthesizer use it to pace the bot.
type Manager struct {
	mu          sync.RWMutex
	coefficient float64
	wpm         float64
	samples     int
}

func NewManager(coefficient float64) *Manager {
	if coefficient <= 0 {
		coefficient = 1
	}
	return &Manager{coefficient: coefficient, wpm: DefaultWordsPerMinute}
}

// Update folds a final transcription into the estimate. Fragments without a
// known duration or with an implausible rate are ignored.
func (m *Manager) Update(transcription speechtotext.Transcription) {
	if !transcription.IsFinal {
		return
	}
	wpm := transcription.WPM()
	if wpm < minWPM || wpm > maxWPM {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples == 0 {
		m.wpm = wpm
	} else {
		m.wpm = smoothing*wpm + (1-smoothing)*m.wpm
	}
	m.samples++
	logger.Debug("updated speaking rate", "wpm", m.wpm, "samples", m.samples)
}

func (m *Manager) WPM() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wpm
}

// SpeedCoefficient scales the configured coefficient by how the human's pace
// compares to the default.
func (m *Manager) SpeedCoefficient() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coefficient * m.wpm / DefaultWordsPerMinute
}
