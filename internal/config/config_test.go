package config

import (
	"testing"
	"time"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.FrameMs != 20 {
		t.Errorf("FrameMs = %d, want 20", cfg.FrameMs)
	}
	if cfg.ErrorRecoveryDelay != 5*time.Second {
		t.Errorf("ErrorRecoveryDelay = %v, want 5s", cfg.ErrorRecoveryDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VOICEWIRE_SAMPLE_RATE", "48000")
	t.Setenv("VOICEWIRE_ERROR_RECOVERY_DELAY", "2s")

	cfg := Load()
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.ErrorRecoveryDelay != 2*time.Second {
		t.Errorf("ErrorRecoveryDelay = %v, want 2s", cfg.ErrorRecoveryDelay)
	}
}

func TestValidateRejectsBadFrame(t *testing.T) {
	cfg := Load()
	cfg.FrameMs = 50 // not a legal opus frame duration

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for 50ms frame")
	}
	if !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("error code = %v, want ConfigInvalid", apperrors.CodeOf(err))
	}
}

func TestValidateHTTPAddr(t *testing.T) {
	cfg := Load()
	cfg.HTTPAddr = "" // control API disabled
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty HTTPAddr should validate: %v", err)
	}

	cfg.HTTPAddr = "not an address"
	if cfg.Validate() == nil {
		t.Error("expected validation error for malformed HTTPAddr")
	}
}

func TestValidateRejectsMissingURL(t *testing.T) {
	cfg := Load()
	cfg.ServerURL = ""

	if cfg.Validate() == nil {
		t.Fatal("expected validation error for empty server URL")
	}
}

func TestFrameSamples(t *testing.T) {
	cfg := &Config{SampleRate: 16000, FrameMs: 20}
	if got := cfg.FrameSamples(); got != 320 {
		t.Errorf("FrameSamples = %d, want 320", got)
	}
}
