// Package config handles session engine configuration
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

// validate is the shared validator instance for configuration validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the session engine settings. VAD thresholds are not here:
// those live in the persisted settings store and are read at session start.
type Config struct {
	// ServerURL is the websocket endpoint of the transcription/synthesis service.
	ServerURL string `validate:"required,url"`

	// SettingsPath is the JSON file holding persisted VAD settings.
	SettingsPath string `validate:"required"`

	SampleRate int `validate:"gte=8000,lte=48000"`
	Channels   int `validate:"oneof=1 2"`

	// FrameMs is the capture frame duration; restricted to durations the
	// opus encoder accepts as a single frame.
	FrameMs int `validate:"oneof=10 20 40 60"`

	// HTTPAddr is the listen address of the local control API. Empty
	// disables it.
	HTTPAddr string `validate:"omitempty,hostname_port"`

	DialTimeout time.Duration `validate:"gt=0"`

	// ErrorRecoveryDelay is how long the session sits in Error before
	// automatically returning to Ready. Tunable policy, not a contract.
	ErrorRecoveryDelay time.Duration `validate:"gt=0"`
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	return &Config{
		ServerURL:          getEnv("VOICEWIRE_SERVER_URL", "ws://localhost:9880/session"),
		SettingsPath:       getEnv("VOICEWIRE_SETTINGS_PATH", "voicewire-settings.json"),
		SampleRate:         getEnvInt("VOICEWIRE_SAMPLE_RATE", 16000),
		Channels:           getEnvInt("VOICEWIRE_CHANNELS", 1),
		FrameMs:            getEnvInt("VOICEWIRE_FRAME_MS", 20),
		HTTPAddr:           getEnv("VOICEWIRE_HTTP_ADDR", "127.0.0.1:8756"),
		DialTimeout:        getEnvDuration("VOICEWIRE_DIAL_TIMEOUT", 10*time.Second),
		ErrorRecoveryDelay: getEnvDuration("VOICEWIRE_ERROR_RECOVERY_DELAY", 5*time.Second),
	}
}

// Validate checks the config against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid configuration")
	}
	return nil
}

// FrameSamples returns the number of samples per capture frame.
func (c *Config) FrameSamples() int {
	return c.SampleRate * c.FrameMs / 1000
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
