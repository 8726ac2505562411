// Package config loads service configuration from defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Observability ObservabilityConfig `yaml:"observability"`
	Capture       CaptureConfig       `yaml:"capture"`
	STT           STTConfig           `yaml:"stt"`
	Notes         NotesConfig         `yaml:"notes"`
	Kafka         KafkaConfig         `yaml:"kafka"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type CaptureConfig struct {
	Driver          string        `yaml:"driver"` // simulated, wavfile, portaudio
	LevelInterval   time.Duration `yaml:"level_interval"`
	WAVPath         string        `yaml:"wav_path"`
	WAVLoop         bool          `yaml:"wav_loop"`
	MuteWhenTapped  bool          `yaml:"mute_when_tapped"`
	FramesPerBuffer int           `yaml:"frames_per_buffer"`
}

type STTConfig struct {
	Provider       string `yaml:"provider"` // mock, google
	LanguageCode   string `yaml:"language_code"`
	SampleRateHz   int    `yaml:"sample_rate_hz"`
	InterimResults bool   `yaml:"interim_results"`
	AudioEncoding  string `yaml:"audio_encoding"`
	Model          string `yaml:"model"`
	QueueSize      int    `yaml:"queue_size"`
}

type NotesConfig struct {
	CompileInterval time.Duration `yaml:"compile_interval"`
	ID              string        `yaml:"id"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	TopicNotes       string   `yaml:"topic_notes"`
	TopicTranscripts string   `yaml:"topic_transcripts"`
	Principal        string   `yaml:"principal"`
}

var (
	validDrivers   = []string{"simulated", "wavfile", "portaudio"}
	validProviders = []string{"mock", "google"}
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "whispr-capture-service",
			MetricsAddr: ":8080",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Capture: CaptureConfig{
			Driver:          "simulated",
			LevelInterval:   100 * time.Millisecond,
			FramesPerBuffer: 512,
		},
		STT: STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			SampleRateHz:   16000,
			InterimResults: true,
			AudioEncoding:  "LINEAR16",
			QueueSize:      64,
		},
		Notes: NotesConfig{
			CompileInterval: time.Second,
		},
		Kafka: KafkaConfig{
			TopicNotes:       "whispr.notes.compiled",
			TopicTranscripts: "whispr.transcripts.updated",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Name = envOrDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Service.MetricsAddr)

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)

	cfg.Capture.Driver = envOrDefault("CAPTURE_DRIVER", cfg.Capture.Driver)
	cfg.Capture.LevelInterval = envOrDefaultDuration("CAPTURE_LEVEL_INTERVAL", cfg.Capture.LevelInterval)
	cfg.Capture.WAVPath = envOrDefault("CAPTURE_WAV_PATH", cfg.Capture.WAVPath)
	cfg.Capture.WAVLoop = envOrDefaultBool("CAPTURE_WAV_LOOP", cfg.Capture.WAVLoop)
	cfg.Capture.MuteWhenTapped = envOrDefaultBool("CAPTURE_MUTE_WHEN_TAPPED", cfg.Capture.MuteWhenTapped)
	cfg.Capture.FramesPerBuffer = envOrDefaultInt("CAPTURE_FRAMES_PER_BUFFER", cfg.Capture.FramesPerBuffer)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", cfg.STT.LanguageCode)
	cfg.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", cfg.STT.SampleRateHz)
	cfg.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", cfg.STT.InterimResults)
	cfg.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", cfg.STT.AudioEncoding)
	cfg.STT.Model = envOrDefault("STT_MODEL", cfg.STT.Model)
	cfg.STT.QueueSize = envOrDefaultInt("STT_QUEUE_SIZE", cfg.STT.QueueSize)

	cfg.Notes.CompileInterval = envOrDefaultDuration("NOTES_COMPILE_INTERVAL", cfg.Notes.CompileInterval)
	cfg.Notes.ID = envOrDefault("NOTES_ID", cfg.Notes.ID)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TopicNotes = envOrDefault("KAFKA_TOPIC_NOTES", cfg.Kafka.TopicNotes)
	cfg.Kafka.TopicTranscripts = envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", cfg.Kafka.TopicTranscripts)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Name
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !contains(validDrivers, c.Capture.Driver) {
		errs = append(errs, fmt.Errorf("capture.driver %q: must be one of %s", c.Capture.Driver, strings.Join(validDrivers, ", ")))
	}
	if c.Capture.Driver == "wavfile" && c.Capture.WAVPath == "" {
		errs = append(errs, errors.New("capture.wav_path is required for the wavfile driver"))
	}
	if c.Capture.LevelInterval <= 0 {
		errs = append(errs, errors.New("capture.level_interval must be positive"))
	}
	if c.Capture.FramesPerBuffer <= 0 {
		errs = append(errs, errors.New("capture.frames_per_buffer must be positive"))
	}
	if !contains(validProviders, c.STT.Provider) {
		errs = append(errs, fmt.Errorf("stt.provider %q: must be one of %s", c.STT.Provider, strings.Join(validProviders, ", ")))
	}
	if c.STT.LanguageCode == "" {
		errs = append(errs, errors.New("stt.language_code is required"))
	}
	if c.STT.SampleRateHz <= 0 {
		errs = append(errs, errors.New("stt.sample_rate_hz must be positive"))
	}
	if c.STT.QueueSize <= 0 {
		errs = append(errs, errors.New("stt.queue_size must be positive"))
	}
	if c.Notes.CompileInterval <= 0 {
		errs = append(errs, errors.New("notes.compile_interval must be positive"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
