package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"gopkg.in/yaml.v3"
)

// DiscordConfig stores Discord specific configurations.
type DiscordConfig struct {
	BotToken           string              `yaml:"bot_token"`
	ApplicationID      *discord.Snowflake  `yaml:"application_id"`
	AutoListenChannels []discord.ChannelID `yaml:"auto_listen_channels"`
}

// RecordingConfig controls how captured voice is decoded and stored.
type RecordingConfig struct {
	Dir           string `yaml:"dir"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	BitsPerSample int    `yaml:"bits_per_sample"`
	FrameSize     int    `yaml:"frame_size"` // samples per channel per opus frame

	SilenceGap          time.Duration `yaml:"silence_gap"`
	DefaultDuration     time.Duration `yaml:"default_duration"`
	MaxDuration         time.Duration `yaml:"max_duration"`
	FirstSpeakerTimeout time.Duration `yaml:"first_speaker_timeout"`
	IdleDisconnect      time.Duration `yaml:"idle_disconnect"`

	FrameBuffer   int `yaml:"frame_buffer"`
	SSRCCacheSize int `yaml:"ssrc_cache_size"`
}

// MetricsConfig stores Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TranscriptionConfig stores settings for the optional transcription sink.
type TranscriptionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// Config stores the application configuration.
type Config struct {
	Discord       DiscordConfig       `yaml:"discord"`
	Recording     RecordingConfig     `yaml:"recording"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	LogLevel      string              `yaml:"log_level"`
	LogEncoding   string              `yaml:"log_encoding"`
}

// Defaults mirror Discord's native voice format.
const (
	DefaultRecordingDir        = "recordings"
	DefaultSampleRate          = 48000
	DefaultChannels            = 2
	DefaultBitsPerSample       = 16
	DefaultFrameSize           = 960
	DefaultSilenceGap          = 300 * time.Millisecond
	DefaultRecordDuration      = 5 * time.Second
	DefaultMaxDuration         = 10 * time.Minute
	DefaultFirstSpeakerTimeout = 30 * time.Second
	DefaultIdleDisconnect      = 30 * time.Minute
	DefaultFrameBuffer         = 100
	DefaultSSRCCacheSize       = 256
	DefaultMetricsAddress      = ":9090"
	DefaultTranscriptionModel  = "whisper-1"
)

// LoadConfig loads the configuration from the given file path.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filePath, err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	r := &c.Recording
	if r.Dir == "" {
		r.Dir = DefaultRecordingDir
	}
	if r.SampleRate == 0 {
		r.SampleRate = DefaultSampleRate
	}
	if r.Channels == 0 {
		r.Channels = DefaultChannels
	}
	if r.BitsPerSample == 0 {
		r.BitsPerSample = DefaultBitsPerSample
	}
	if r.FrameSize == 0 {
		r.FrameSize = DefaultFrameSize
	}
	if r.SilenceGap == 0 {
		r.SilenceGap = DefaultSilenceGap
	}
	if r.DefaultDuration == 0 {
		r.DefaultDuration = DefaultRecordDuration
	}
	if r.MaxDuration == 0 {
		r.MaxDuration = DefaultMaxDuration
	}
	if r.FirstSpeakerTimeout == 0 {
		r.FirstSpeakerTimeout = DefaultFirstSpeakerTimeout
	}
	if r.IdleDisconnect == 0 {
		r.IdleDisconnect = DefaultIdleDisconnect
	}
	if r.FrameBuffer == 0 {
		r.FrameBuffer = DefaultFrameBuffer
	}
	if r.SSRCCacheSize == 0 {
		r.SSRCCacheSize = DefaultSSRCCacheSize
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = DefaultTranscriptionModel
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogEncoding == "" {
		c.LogEncoding = "json"
	}
}

// Validate reports settings that cannot produce a usable recorder.
func (c *Config) Validate() error {
	r := c.Recording

	var errs []error
	if r.Channels != 1 && r.Channels != 2 {
		errs = append(errs, fmt.Errorf("recording.channels must be 1 or 2, got %d", r.Channels))
	}
	switch r.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		errs = append(errs, fmt.Errorf("recording.sample_rate %d is not an opus rate", r.SampleRate))
	}
	if r.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("recording.bits_per_sample must be 16, got %d", r.BitsPerSample))
	}
	if r.FrameSize <= 0 {
		errs = append(errs, errors.New("recording.frame_size must be positive"))
	}
	if r.SilenceGap < 0 || r.DefaultDuration < 0 || r.MaxDuration < 0 {
		errs = append(errs, errors.New("recording durations must not be negative"))
	}
	if r.DefaultDuration > r.MaxDuration {
		errs = append(errs, fmt.Errorf("recording.default_duration %s exceeds max_duration %s", r.DefaultDuration, r.MaxDuration))
	}
	if r.FrameBuffer <= 0 || r.SSRCCacheSize <= 0 {
		errs = append(errs, errors.New("recording.frame_buffer and ssrc_cache_size must be positive"))
	}
	if c.Transcription.Enabled && c.Transcription.APIKey == "" {
		errs = append(errs, errors.New("transcription.api_key is required when transcription is enabled"))
	}

	return errors.Join(errs...)
}
