package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigDir   = ".config/talkpaste"
	defaultStateDir    = ".local/state/talkpaste"
	defaultBackendURL  = "ws://127.0.0.1:7878/ws"
	defaultReleaseRepo = "talkpaste/talkpaste"
)

// Config stores runtime configuration for the desktop shell and the CLI.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Audio   AudioConfig   `toml:"audio"`
	Session SessionConfig `toml:"session"`
	Update  UpdateConfig  `toml:"update"`
	Logging LoggingConfig `toml:"logging"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

type BackendConfig struct {
	URL           string `toml:"url"`
	DialTimeoutMS int    `toml:"dial_timeout_ms"`
}

type AudioConfig struct {
	RecorderCommand string `toml:"recorder_command"`
	InputFormat     string `toml:"input_format"`
	InputDevice     string `toml:"input_device"`
	SampleRate      int    `toml:"sample_rate"`
	Channels        int    `toml:"channels"`
	RecordingsDir   string `toml:"recordings_dir"`
}

type SessionConfig struct {
	MinDurationMS   int  `toml:"min_duration_ms"`
	IgnoreIdleStop  bool `toml:"ignore_idle_stop"`
	ProgressResetMS int  `toml:"progress_reset_ms"`
}

type UpdateConfig struct {
	Repo           string `toml:"repo"`
	CurrentVersion string `toml:"current_version"`
	AssetName      string `toml:"asset_name"`
	APIBaseURL     string `toml:"api_base_url"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
	Path   string `toml:"path"`
	Stdout bool   `toml:"stdout"`
}

func (c BackendConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

func (c SessionConfig) MinDuration() time.Duration {
	return time.Duration(c.MinDurationMS) * time.Millisecond
}

func (c SessionConfig) ProgressReset() time.Duration {
	return time.Duration(c.ProgressResetMS) * time.Millisecond
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	stateDir := filepath.Join(home, defaultStateDir)

	return Config{
		Backend: BackendConfig{
			URL:           defaultBackendURL,
			DialTimeoutMS: 5000,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			RecordingsDir:   filepath.Join(stateDir, "recordings"),
		},
		Session: SessionConfig{
			MinDurationMS:   300,
			ProgressResetMS: 500,
		},
		Update: UpdateConfig{
			Repo:           defaultReleaseRepo,
			CurrentVersion: "dev",
			APIBaseURL:     "https://api.github.com",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Path:   filepath.Join(stateDir, "talkpaste.log"),
		},
	}, nil
}

// DefaultPath is ~/.config/talkpaste/config.toml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultConfigDir, "config.toml")
}

// Load resolves configuration from defaults, then the TOML file at path (or
// TALKPASTE_CONFIG, or the default location), then TALKPASTE_* environment
// variables. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	if path == "" {
		path = envOrDefault("TALKPASTE_CONFIG", DefaultPath())
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func applyEnvOverrides(cfg *Config) {
	cfg.Backend.URL = envOrDefault("TALKPASTE_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.DialTimeoutMS = envOrDefaultInt("TALKPASTE_BACKEND_DIAL_TIMEOUT_MS", cfg.Backend.DialTimeoutMS)

	cfg.Audio.RecorderCommand = envOrDefault("TALKPASTE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("TALKPASTE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("TALKPASTE_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("TALKPASTE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("TALKPASTE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.RecordingsDir = envOrDefault("TALKPASTE_RECORDINGS_DIR", cfg.Audio.RecordingsDir)

	cfg.Session.MinDurationMS = envOrDefaultInt("TALKPASTE_MIN_RECORDING_MS", cfg.Session.MinDurationMS)
	cfg.Session.IgnoreIdleStop = envOrDefaultBool("TALKPASTE_IGNORE_IDLE_STOP", cfg.Session.IgnoreIdleStop)
	cfg.Session.ProgressResetMS = envOrDefaultInt("TALKPASTE_PROGRESS_RESET_MS", cfg.Session.ProgressResetMS)

	cfg.Update.Repo = envOrDefault("TALKPASTE_UPDATE_REPO", cfg.Update.Repo)
	cfg.Update.CurrentVersion = envOrDefault("TALKPASTE_VERSION", cfg.Update.CurrentVersion)
	cfg.Update.AssetName = envOrDefault("TALKPASTE_UPDATE_ASSET", cfg.Update.AssetName)
	cfg.Update.APIBaseURL = envOrDefault("TALKPASTE_UPDATE_API", cfg.Update.APIBaseURL)

	cfg.Logging.Level = envOrDefault("TALKPASTE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("TALKPASTE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Path = envOrDefault("TALKPASTE_LOG_PATH", cfg.Logging.Path)
	cfg.Logging.Stdout = envOrDefaultBool("TALKPASTE_LOG_STDOUT", cfg.Logging.Stdout)
}

func normalize(cfg *Config) {
	if cfg.Backend.DialTimeoutMS <= 0 {
		cfg.Backend.DialTimeoutMS = 5000
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.MinDurationMS < 0 {
		cfg.Session.MinDurationMS = 300
	}
	if cfg.Session.ProgressResetMS <= 0 {
		cfg.Session.ProgressResetMS = 500
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
		cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	default:
		cfg.Logging.Format = "text"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
