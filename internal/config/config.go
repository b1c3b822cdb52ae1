package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"

	"chartscribe/internal/domain"
)

const (
	// Tunable bounds; values outside them are clamped, not rejected.
	MinGain          = 1.0
	MaxGain          = 10.0
	DefaultGain      = 7.0
	MinThreshold     = 0.005
	MaxThreshold     = 0.2
	DefaultThreshold = 0.1
)

type Config struct {
	Server struct {
		Port     int    `env:"PORT" env-default:"8735"`
		LogLevel string `env:"LOG_LEVEL" env-default:"info"`
		LogJSON  bool   `env:"LOG_JSON" env-default:"false"`
	}

	Audio struct {
		// Driver selects the capture backend: portaudio or ffmpeg.
		Driver           string `env:"AUDIO_DRIVER" env-default:"portaudio"`
		Device           string `env:"AUDIO_DEVICE"`
		SampleRate       int    `env:"AUDIO_SAMPLE_RATE" env-default:"16000"`
		Channels         int    `env:"AUDIO_CHANNELS" env-default:"1"`
		EchoCancellation bool   `env:"AUDIO_ECHO_CANCELLATION" env-default:"true"`
		NoiseSuppression bool   `env:"AUDIO_NOISE_SUPPRESSION" env-default:"true"`
	}

	Tuning struct {
		MicrophoneGain  float64 `env:"MIC_GAIN" env-default:"7"`
		VolumeThreshold float64 `env:"VOLUME_THRESHOLD" env-default:"0.1"`
	}

	Transcription struct {
		BaseURL      string `env:"TRANSCRIBE_URL" env-required:"true"`
		APIKey       string `env:"TRANSCRIBE_API_KEY"`
		UserID       string `env:"TRANSCRIBE_USER_ID"`
		UserTier     string `env:"TRANSCRIBE_USER_TIER" env-default:"free"`
		Workers      int    `env:"TRANSCRIBE_WORKERS" env-default:"4"`
		QueueDepth   int    `env:"TRANSCRIBE_QUEUE_DEPTH" env-default:"16"`
		ProbeTimeout int    `env:"TRANSCRIBE_PROBE_TIMEOUT_SECONDS" env-default:"5"`
	}

	Normalize struct {
		// RulesPath points at an optional transcript rewrite rules file.
		RulesPath string `env:"NORMALIZE_RULES"`
		PassLimit int    `env:"NORMALIZE_PASS_LIMIT" env-default:"30"`
	}

	Session struct {
		// Forwarding routes sealed segments to the companion link instead of
		// the transcription backend.
		Forwarding     bool `env:"SEGMENT_FORWARDING" env-default:"false"`
		StartImmediate bool `env:"START_IMMEDIATE" env-default:"false"`
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.clamp()
	return &cfg, nil
}

// clamp forces the tunables into their supported ranges.
func (c *Config) clamp() {
	c.Tuning.MicrophoneGain = clampf(c.Tuning.MicrophoneGain, MinGain, MaxGain, DefaultGain)
	c.Tuning.VolumeThreshold = clampf(c.Tuning.VolumeThreshold, MinThreshold, MaxThreshold, DefaultThreshold)
	if c.Audio.Channels < 1 {
		c.Audio.Channels = 1
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
}

// DetectionTuning returns the configured tunables as a domain value.
func (c *Config) DetectionTuning() domain.Tuning {
	return domain.Tuning{
		MicrophoneGain:  c.Tuning.MicrophoneGain,
		VolumeThreshold: c.Tuning.VolumeThreshold,
	}
}

func clampf(v, min, max, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
