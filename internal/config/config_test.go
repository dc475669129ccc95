// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML/TOML loading, env var expansion, defaults, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8000"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./test.db"

storage:
  audio_dir: "./audio"

capabilities:
  provider: groq
  api_key: "gsk-test"
  transcription_timeout: "45s"
  translation_timeout: "20s"
  speech_timeout: "1m"
  voices:
    ar:
      voice: "Ahmad-PlayAI"
      model: "playai-tts-arabic"
    fr:
      voice: "Celeste-PlayAI"

realtime:
  subscriber_buffer: 16
  write_timeout: "3s"
  allowed_origins:
    - "localhost:*"

pipeline:
  persist_timeout: "2s"
  idempotency_ttl: "1m"

relay:
  enabled: true
  servers:
    - "nats://127.0.0.1:4222"

logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8000")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Storage.AudioDir != "./audio" {
		t.Errorf("Storage.AudioDir = %q", cfg.Storage.AudioDir)
	}
	if cfg.Capabilities.Provider != ProviderGroq {
		t.Errorf("Capabilities.Provider = %q", cfg.Capabilities.Provider)
	}
	if cfg.Capabilities.TranscriptionTimeout != 45*time.Second {
		t.Errorf("TranscriptionTimeout = %v, want 45s", cfg.Capabilities.TranscriptionTimeout)
	}
	if cfg.Capabilities.TranslationTimeout != 20*time.Second {
		t.Errorf("TranslationTimeout = %v, want 20s", cfg.Capabilities.TranslationTimeout)
	}
	if cfg.Capabilities.SpeechTimeout != time.Minute {
		t.Errorf("SpeechTimeout = %v, want 1m", cfg.Capabilities.SpeechTimeout)
	}
	if got := cfg.Capabilities.Voices["fr"].Voice; got != "Celeste-PlayAI" {
		t.Errorf("Voices[fr].Voice = %q", got)
	}
	if got := cfg.Capabilities.Voices["ar"].Model; got != "playai-tts-arabic" {
		t.Errorf("Voices[ar].Model = %q", got)
	}
	if cfg.Realtime.SubscriberBuffer != 16 {
		t.Errorf("Realtime.SubscriberBuffer = %d", cfg.Realtime.SubscriberBuffer)
	}
	if cfg.Realtime.WriteTimeout != 3*time.Second {
		t.Errorf("Realtime.WriteTimeout = %v", cfg.Realtime.WriteTimeout)
	}
	if len(cfg.Realtime.AllowedOrigins) != 1 || cfg.Realtime.AllowedOrigins[0] != "localhost:*" {
		t.Errorf("Realtime.AllowedOrigins = %v", cfg.Realtime.AllowedOrigins)
	}
	if cfg.Pipeline.PersistTimeout != 2*time.Second {
		t.Errorf("Pipeline.PersistTimeout = %v", cfg.Pipeline.PersistTimeout)
	}
	if cfg.Pipeline.IdempotencyTTL != time.Minute {
		t.Errorf("Pipeline.IdempotencyTTL = %v", cfg.Pipeline.IdempotencyTTL)
	}
	if !cfg.Relay.Enabled || len(cfg.Relay.Servers) != 1 {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: ":8000"
database:
  path: "/var/lib/medibridge/medibridge.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Capabilities.Provider != ProviderMock {
		t.Errorf("default provider = %q, want mock", cfg.Capabilities.Provider)
	}
	if cfg.Capabilities.DefaultVoice != "Fritz-PlayAI" {
		t.Errorf("default voice = %q", cfg.Capabilities.DefaultVoice)
	}
	if cfg.Capabilities.SpeechModel != "playai-tts" {
		t.Errorf("default speech model = %q", cfg.Capabilities.SpeechModel)
	}
	if cfg.Capabilities.Voices["ar"].Model != "playai-tts-arabic" {
		t.Errorf("default arabic model = %q", cfg.Capabilities.Voices["ar"].Model)
	}
	if cfg.Capabilities.MaxSpeechChars != 4096 {
		t.Errorf("MaxSpeechChars = %d, want 4096", cfg.Capabilities.MaxSpeechChars)
	}
	if cfg.Capabilities.TranscriptionTimeout != 60*time.Second {
		t.Errorf("TranscriptionTimeout = %v", cfg.Capabilities.TranscriptionTimeout)
	}
	if cfg.Capabilities.TranslationTimeout != 30*time.Second {
		t.Errorf("TranslationTimeout = %v", cfg.Capabilities.TranslationTimeout)
	}
	if cfg.Storage.AudioDir != "/var/lib/medibridge/audio" {
		t.Errorf("AudioDir = %q", cfg.Storage.AudioDir)
	}
	if cfg.Realtime.SubscriberBuffer != 64 {
		t.Errorf("SubscriberBuffer = %d, want 64", cfg.Realtime.SubscriberBuffer)
	}
	if cfg.Pipeline.PersistTimeout != 5*time.Second {
		t.Errorf("PersistTimeout = %v, want 5s", cfg.Pipeline.PersistTimeout)
	}
	if cfg.Relay.SubjectPrefix != "medibridge.messages" {
		t.Errorf("SubjectPrefix = %q", cfg.Relay.SubjectPrefix)
	}
	if cfg.Telemetry.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %q", cfg.Telemetry.MetricsPath)
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gateway.toml")

	configContent := `
[server]
http_addr = ":9000"

[database]
path = "./test.db"

[capabilities]
provider = "exec"
exec_command = "whisper-cli --model base"
translation_timeout = "15s"

[capabilities.voices.ar]
voice = "Ahmad-PlayAI"
model = "playai-tts-arabic"

[relay]
enabled = true
embedded = true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Capabilities.Provider != ProviderExec {
		t.Errorf("Provider = %q", cfg.Capabilities.Provider)
	}
	if cfg.Capabilities.ExecCommand != "whisper-cli --model base" {
		t.Errorf("ExecCommand = %q", cfg.Capabilities.ExecCommand)
	}
	if cfg.Capabilities.TranslationTimeout != 15*time.Second {
		t.Errorf("TranslationTimeout = %v", cfg.Capabilities.TranslationTimeout)
	}
	if cfg.Capabilities.Voices["ar"].Voice != "Ahmad-PlayAI" {
		t.Errorf("Voices = %+v", cfg.Capabilities.Voices)
	}
	if !cfg.Relay.Embedded {
		t.Error("Relay.Embedded should be true")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-from-env")
	t.Setenv("TEST_HTTP_ADDR", "127.0.0.1:8123")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "${TEST_HTTP_ADDR}"
database:
  path: "./test.db"
capabilities:
  provider: groq
  api_key: "${TEST_GROQ_KEY}"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Capabilities.APIKey != "gsk-from-env" {
		t.Errorf("APIKey = %q, want %q", cfg.Capabilities.APIKey, "gsk-from-env")
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:8123" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
capabilities:
  provider: groq
  api_key: "${MEDIBRIDGE_TEST_DEFINITELY_UNSET}"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for empty api_key")
	}
	if !strings.Contains(err.Error(), "capabilities.api_key") {
		t.Errorf("error = %v, want mention of capabilities.api_key", err)
	}
}

func TestLoad_DBPathOverride(t *testing.T) {
	t.Setenv("MEDIBRIDGE_DB_PATH", "/tmp/override.db")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want override", cfg.Database.Path)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
realtime:
  write_timeout: "soon"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "realtime.write_timeout") {
		t.Errorf("error = %v, want field name", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server:   ServerConfig{HTTPAddr: ":8000"},
			Database: DatabaseConfig{Path: "./test.db"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid minimal",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr is required",
		},
		{
			name: "tailscale replaces http addr",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = "medibridge"
			},
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
			},
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path is required",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Capabilities.Provider = "openai" },
			wantErr: "capabilities.provider must be one of",
		},
		{
			name:    "groq without key",
			mutate:  func(c *Config) { c.Capabilities.Provider = ProviderGroq },
			wantErr: "capabilities.api_key is required",
		},
		{
			name:    "exec without command",
			mutate:  func(c *Config) { c.Capabilities.Provider = ProviderExec },
			wantErr: "capabilities.exec_command is required",
		},
		{
			name:    "relay without servers",
			mutate:  func(c *Config) { c.Relay.Enabled = true },
			wantErr: "relay.servers is required",
		},
		{
			name: "relay embedded needs no servers",
			mutate: func(c *Config) {
				c.Relay.Enabled = true
				c.Relay.Embedded = true
			},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MB_A", "alpha")

	got := expandEnvVars("x=${MB_A} y=${MB_UNSET_VALUE} z=$MB_A")
	want := "x=alpha y= z=$MB_A"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
