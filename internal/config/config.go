package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for one batch invocation.
type Config struct {
	Whisper  WhisperConfig  `mapstructure:"whisper"`
	Session  SessionConfig  `mapstructure:"session"`
	Segment  SegmentConfig  `mapstructure:"segment"`
	Storage  StorageConfig  `mapstructure:"storage"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Apprise  AppriseConfig  `mapstructure:"apprise"`
	Events   EventsConfig   `mapstructure:"events"`
}

type WhisperConfig struct {
	// Provider: "local" (whisper CLI) or "openai" (API)
	Provider string `mapstructure:"provider"`
	// Model: for local = "tiny", "base", "small", "medium", "large"
	//        for openai = "whisper-1"
	Model string `mapstructure:"model"`
	// Language: spoken language hint, empty for auto-detect
	Language string `mapstructure:"language"`
	// Command: whisper CLI executable for the local provider
	Command string `mapstructure:"command"`
	// APIKey: required if provider is "openai"
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`

	RateLimitRPM int `mapstructure:"rate_limit_rpm"` // Requests per minute (0 = no limit)
}

type SessionConfig struct {
	MaxDurationSeconds int `mapstructure:"max_duration_seconds"`
}

type SegmentConfig struct {
	DurationMs int `mapstructure:"duration_ms"`
}

type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"` // One subdirectory per input file
	// CleanupIntermediates removes decoded audio, segments and transcripts after completion.
	CleanupIntermediates bool `mapstructure:"cleanup_intermediates"`
}

type FFmpegConfig struct {
	Path        string `mapstructure:"path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	SampleRate  int    `mapstructure:"sample_rate"`
}

type PipelineConfig struct {
	MaxFailures int `mapstructure:"max_failures"` // Consecutive recorded failures before refusing to run (0 = unlimited)
}

type AppriseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"` // Apprise API URL
	Key     string `mapstructure:"key"`      // Apprise config key
	Tag     string `mapstructure:"tag"`      // Tag to filter services
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"` // Empty disables lifecycle events
	Subject string `mapstructure:"subject"`
}

// SessionBudget returns the wall-clock budget for one invocation.
func (c *Config) SessionBudget() time.Duration {
	return time.Duration(c.Session.MaxDurationSeconds) * time.Second
}

// SegmentDuration returns the configured segment length.
func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.Segment.DurationMs) * time.Millisecond
}

var defaults = map[string]any{
	"whisper.provider":              "local",
	"whisper.model":                 "small",
	"whisper.language":              "",
	"whisper.command":               "whisper",
	"whisper.api_key":               "",
	"whisper.base_url":              "https://api.openai.com",
	"whisper.rate_limit_rpm":        0,
	"session.max_duration_seconds":  12 * 60 * 60,
	"segment.duration_ms":           10 * 60 * 1000,
	"storage.base_dir":              "/app/persistent_data",
	"storage.cleanup_intermediates": false,
	"ffmpeg.path":                   "ffmpeg",
	"ffmpeg.ffprobe_path":           "ffprobe",
	"ffmpeg.sample_rate":            16000,
	"pipeline.max_failures":         3,
	"apprise.enabled":               false,
	"apprise.base_url":              "",
	"apprise.key":                   "",
	"apprise.tag":                   "",
	"events.nats_url":               "",
	"events.subject":                "transcription.events",
}

// Names kept from the original container deployment.
var envAliases = map[string][]string{
	"whisper.language":              {"AUDIO_LANGUAGE", "WHISPER_LANGUAGE"},
	"whisper.api_key":               {"WHISPER_API_KEY", "OPENAI_API_KEY"},
	"session.max_duration_seconds":  {"MAX_SESSION_DURATION_SECONDS"},
	"segment.duration_ms":           {"CHUNK_DURATION_MS"},
	"storage.base_dir":              {"PERSISTENT_DATA_DIR"},
	"storage.cleanup_intermediates": {"CLEANUP_INTERMEDIATES"},
	"pipeline.max_failures":         {"MAX_CONSECUTIVE_FAILURES"},
}

// Load reads defaults, the optional YAML file at path and the environment.
// A missing file is not an error; every option has a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Segment.DurationMs <= 0 {
		return fmt.Errorf("segment duration must be positive, got %dms", c.Segment.DurationMs)
	}
	if c.Session.MaxDurationSeconds < 0 {
		return fmt.Errorf("session budget must not be negative, got %ds", c.Session.MaxDurationSeconds)
	}
	if c.Storage.BaseDir == "" {
		return errors.New("storage base dir is required")
	}
	if c.Pipeline.MaxFailures < 0 {
		return fmt.Errorf("max failures must not be negative, got %d", c.Pipeline.MaxFailures)
	}

	switch strings.ToLower(c.Whisper.Provider) {
	case "local":
	case "openai":
		if c.Whisper.APIKey == "" {
			return errors.New("whisper provider openai requires an api key")
		}
	default:
		return fmt.Errorf("unknown whisper provider %q", c.Whisper.Provider)
	}

	if c.Apprise.Enabled && c.Apprise.BaseURL == "" {
		return errors.New("apprise is enabled but base_url is empty")
	}
	return nil
}
