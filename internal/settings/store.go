// Package settings persists user-tunable voice detection settings.
// The session engine reads them once at session start and writes back
// after calibration; the hosting application owns the file location.
package settings

import (
	"encoding/json"
	"log/slog"
	"os"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

// Voice holds the persisted detection settings.
type Voice struct {
	// VoiceThreshold is the volume percent [0,100] above which a sample
	// counts as speech.
	VoiceThreshold float64 `json:"voiceThreshold"`
	// StopDelayMs is the silence hangover before a recording stops.
	StopDelayMs int `json:"stopDelay"`
	// MaxUtteranceMs hard-caps a single utterance.
	MaxUtteranceMs int `json:"maxUtteranceMs"`
}

// DefaultVoice returns the settings used before any calibration has run.
func DefaultVoice() Voice {
	return Voice{
		VoiceThreshold: 10,
		StopDelayMs:    1500,
		MaxUtteranceMs: 30000,
	}
}

// Store reads and writes voice settings as a JSON file.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted settings, or defaults when the file does not
// exist yet. A corrupt file is logged and replaced by defaults rather than
// blocking session start.
func (s *Store) Load() Voice {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("settings: read failed, using defaults", "path", s.path, "error", err)
		}
		return DefaultVoice()
	}

	var v Voice
	if err := json.Unmarshal(b, &v); err != nil {
		slog.Warn("settings: corrupt file, using defaults", "path", s.path, "error", err)
		return DefaultVoice()
	}

	// Backfill fields absent from older files.
	def := DefaultVoice()
	if v.StopDelayMs <= 0 {
		v.StopDelayMs = def.StopDelayMs
	}
	if v.MaxUtteranceMs <= 0 {
		v.MaxUtteranceMs = def.MaxUtteranceMs
	}
	if v.VoiceThreshold < 0 {
		v.VoiceThreshold = 0
	}
	if v.VoiceThreshold > 100 {
		v.VoiceThreshold = 100
	}
	return v
}

// Save writes settings atomically (tmp file + rename).
func (s *Store) Save(v Voice) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "settings: marshal failed")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "settings: write failed")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(err, apperrors.Internal, "settings: rename failed")
	}
	return nil
}
