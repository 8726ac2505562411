package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"SERVICE_NAME", "METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
	"CAPTURE_DRIVER", "CAPTURE_LEVEL_INTERVAL", "CAPTURE_WAV_PATH", "CAPTURE_WAV_LOOP",
	"CAPTURE_MUTE_WHEN_TAPPED", "CAPTURE_FRAMES_PER_BUFFER",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ", "STT_INTERIM_RESULTS",
	"STT_AUDIO_ENCODING", "STT_MODEL", "STT_QUEUE_SIZE",
	"NOTES_COMPILE_INTERVAL", "NOTES_ID",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_NOTES", "KAFKA_TOPIC_TRANSCRIPTS", "KAFKA_PRINCIPAL",
}

// clearEnv blanks every variable Load reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Name != "whispr-capture-service" {
		t.Errorf("expected default name 'whispr-capture-service', got %s", cfg.Service.Name)
	}
	if cfg.Capture.Driver != "simulated" {
		t.Errorf("expected default driver 'simulated', got %s", cfg.Capture.Driver)
	}
	if cfg.Capture.LevelInterval != 100*time.Millisecond {
		t.Errorf("expected level interval 100ms, got %v", cfg.Capture.LevelInterval)
	}
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults {
		t.Error("expected interim results by default")
	}
	if cfg.STT.QueueSize != 64 {
		t.Errorf("expected queue size 64, got %d", cfg.STT.QueueSize)
	}
	if cfg.Notes.CompileInterval != time.Second {
		t.Errorf("expected compile interval 1s, got %v", cfg.Notes.CompileInterval)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CAPTURE_LEVEL_INTERVAL", "250ms")
	t.Setenv("CAPTURE_MUTE_WHEN_TAPPED", "true")
	t.Setenv("STT_PROVIDER", "google")
	t.Setenv("STT_LANGUAGE_CODE", "es-ES")
	t.Setenv("STT_SAMPLE_RATE_HZ", "48000")
	t.Setenv("STT_INTERIM_RESULTS", "false")
	t.Setenv("NOTES_COMPILE_INTERVAL", "2s")
	t.Setenv("NOTES_ID", "standup")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
	if cfg.Capture.LevelInterval != 250*time.Millisecond {
		t.Errorf("expected level interval 250ms, got %v", cfg.Capture.LevelInterval)
	}
	if !cfg.Capture.MuteWhenTapped {
		t.Error("expected mute when tapped")
	}
	if cfg.STT.Provider != "google" || cfg.STT.LanguageCode != "es-ES" || cfg.STT.SampleRateHz != 48000 {
		t.Errorf("unexpected STT config %+v", cfg.STT)
	}
	if cfg.STT.InterimResults {
		t.Error("expected interim results disabled")
	}
	if cfg.Notes.CompileInterval != 2*time.Second || cfg.Notes.ID != "standup" {
		t.Errorf("unexpected notes config %+v", cfg.Notes)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "whispr.yaml")
	content := `
capture:
  driver: wavfile
  wav_path: /tmp/meeting.wav
  level_interval: 50ms
stt:
  language_code: fr-FR
notes:
  compile_interval: 500ms
kafka:
  principal: notes-writer
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STT_LANGUAGE_CODE", "de-DE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Capture.Driver != "wavfile" || cfg.Capture.WAVPath != "/tmp/meeting.wav" {
		t.Errorf("unexpected capture config %+v", cfg.Capture)
	}
	if cfg.Capture.LevelInterval != 50*time.Millisecond {
		t.Errorf("expected level interval 50ms, got %v", cfg.Capture.LevelInterval)
	}
	if cfg.STT.LanguageCode != "de-DE" {
		t.Errorf("expected env to win over file, got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected defaults to survive partial file, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.Notes.CompileInterval != 500*time.Millisecond {
		t.Errorf("expected compile interval 500ms, got %v", cfg.Notes.CompileInterval)
	}
	if cfg.Kafka.Principal != "notes-writer" {
		t.Errorf("expected principal from file, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("capture: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STT_INTERIM_RESULTS", "invalid")
	t.Setenv("CAPTURE_LEVEL_INTERVAL", "soon")
	t.Setenv("NOTES_COMPILE_INTERVAL", "invalid")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults {
		t.Error("expected default interim results on invalid input")
	}
	if cfg.Capture.LevelInterval != 100*time.Millisecond {
		t.Errorf("expected default level interval on invalid input, got %v", cfg.Capture.LevelInterval)
	}
	if cfg.Notes.CompileInterval != time.Second {
		t.Errorf("expected default compile interval on invalid input, got %v", cfg.Notes.CompileInterval)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServiceName(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_NAME", "my-service")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service name, got %s", cfg.Kafka.Principal)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Capture.Driver = "alsa" }, "capture.driver"},
		{"wavfile without path", func(c *Config) { c.Capture.Driver = "wavfile" }, "wav_path"},
		{"unknown provider", func(c *Config) { c.STT.Provider = "whisper" }, "stt.provider"},
		{"empty language", func(c *Config) { c.STT.LanguageCode = "" }, "language_code"},
		{"zero compile interval", func(c *Config) { c.Notes.CompileInterval = 0 }, "compile_interval"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.envValue)

			got := envOrDefaultBool("TEST_BOOL_VAR", tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
