// Package config loads the island settings: built-in defaults, then an
// optional YAML file, then ISLAND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
)

const (
	EnvPrefix = "ISLAND_"

	DefaultBaseURL = "https://widget-113024725109.us-central1.run.app"
)

type Mode string

const (
	ModeVoice Mode = "voice"
	ModeVideo Mode = "video"
	ModeText  Mode = "text"
	ModeTryOn Mode = "tryon"
)

type TransportKind string

const (
	TransportRequest TransportKind = "request"
	TransportSocket  TransportKind = "socket"
)

type SegmentationKind string

const (
	SegmentationInterval  SegmentationKind = "interval"
	SegmentationUtterance SegmentationKind = "utterance"
)

type ActivityKind string

const (
	ActivityDeepgram ActivityKind = "deepgram"
	ActivityEnergy   ActivityKind = "energy"
)

type AudioBackend string

const (
	AudioMiniaudio AudioBackend = "miniaudio"
	AudioPortaudio AudioBackend = "portaudio"
)

type Config struct {
	BaseURL      string           `yaml:"base_url" env:"BASE_URL"`
	Mode         Mode             `yaml:"mode" env:"MODE"`
	Transport    TransportKind    `yaml:"transport" env:"TRANSPORT"`
	Segmentation SegmentationKind `yaml:"segmentation" env:"SEGMENTATION"`
	AudioBackend AudioBackend     `yaml:"audio_backend" env:"AUDIO_BACKEND"`

	Capture   CaptureConfig   `yaml:"capture" envPrefix:"CAPTURE_"`
	Silence   SilenceConfig   `yaml:"silence" envPrefix:"SILENCE_"`
	Activity  ActivityConfig  `yaml:"activity" envPrefix:"ACTIVITY_"`
	Reconnect ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	Playback  PlaybackConfig  `yaml:"playback" envPrefix:"PLAYBACK_"`

	// ResponseTimeout bounds how long the session waits for an answer to a
	// sent segment. Zero waits indefinitely.
	ResponseTimeout time.Duration `yaml:"response_timeout" env:"RESPONSE_TIMEOUT"`
}

type CaptureConfig struct {
	Quantum   time.Duration `yaml:"quantum" env:"QUANTUM"`
	Threshold int           `yaml:"threshold" env:"THRESHOLD"`
	// BufferSize is the frames per read for the portaudio backend.
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

type SilenceConfig struct {
	QuietThreshold time.Duration `yaml:"quiet_threshold" env:"QUIET_THRESHOLD"`
	GracePeriod    time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

type ActivityConfig struct {
	Provider        ActivityKind `yaml:"provider" env:"PROVIDER"`
	EnergyThreshold float64      `yaml:"energy_threshold" env:"ENERGY_THRESHOLD"`
	DeepgramModel   string       `yaml:"deepgram_model" env:"DEEPGRAM_MODEL"`
	// DeepgramAPIKey is usually taken from DEEPGRAM_API_KEY.
	DeepgramAPIKey string `yaml:"deepgram_api_key" env:"DEEPGRAM_API_KEY"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

type PlaybackConfig struct {
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`
	// Command plays media the speaker cannot decode, and video.
	Command string `yaml:"command" env:"COMMAND"`
}

func Default() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Mode:         ModeVoice,
		Transport:    TransportRequest,
		Segmentation: SegmentationUtterance,
		AudioBackend: AudioMiniaudio,
		Capture: CaptureConfig{
			Quantum:    time.Second,
			Threshold:  4,
			BufferSize: 1024,
		},
		Silence: SilenceConfig{
			QuietThreshold: 2000 * time.Millisecond,
			GracePeriod:    1000 * time.Millisecond,
			PollInterval:   500 * time.Millisecond,
		},
		Activity: ActivityConfig{
			Provider:        ActivityEnergy,
			EnergyThreshold: 0.02,
			DeepgramModel:   "nova-3",
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   1000 * time.Millisecond,
			MaxAttempts: 3,
		},
		Playback: PlaybackConfig{
			Debounce: 500 * time.Millisecond,
			Command:  "ffplay",
		},
		ResponseTimeout: 30 * time.Second,
	}
}

// Load builds the configuration. An empty path skips the file; a missing
// file at an explicit path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if key, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok && cfg.Activity.DeepgramAPIKey == "" {
		cfg.Activity.DeepgramAPIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	switch c.Mode {
	case ModeVoice, ModeVideo, ModeText, ModeTryOn:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	switch c.Transport {
	case TransportRequest, TransportSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.Segmentation {
	case SegmentationInterval, SegmentationUtterance:
	default:
		errs = append(errs, fmt.Errorf("unknown segmentation %q", c.Segmentation))
	}
	switch c.AudioBackend {
	case AudioMiniaudio, AudioPortaudio:
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", c.AudioBackend))
	}
	switch c.Activity.Provider {
	case ActivityDeepgram, ActivityEnergy:
	default:
		errs = append(errs, fmt.Errorf("unknown activity provider %q", c.Activity.Provider))
	}

	for name, d := range map[string]time.Duration{
		"capture.quantum":         c.Capture.Quantum,
		"silence.quiet_threshold": c.Silence.QuietThreshold,
		"silence.grace_period":    c.Silence.GracePeriod,
		"silence.poll_interval":   c.Silence.PollInterval,
		"reconnect.base_delay":    c.Reconnect.BaseDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Playback.Debounce < 0 {
		errs = append(errs, fmt.Errorf("playback.debounce must not be negative, got %s", c.Playback.Debounce))
	}
	if c.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("response_timeout must not be negative, got %s", c.ResponseTimeout))
	}
	if c.Capture.Threshold < 1 {
		errs = append(errs, fmt.Errorf("capture.threshold must be at least 1, got %d", c.Capture.Threshold))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts))
	}

	return errors.Join(errs...)
}
