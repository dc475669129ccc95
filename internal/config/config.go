// ABOUTME: Configuration loading and parsing for the medibridge gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Capability provider names accepted in capabilities.provider
const (
	ProviderGroq = "groq"
	ProviderExec = "exec"
	ProviderMock = "mock"
)

// Config represents the complete medibridge configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Storage      StorageConfig      `yaml:"storage" toml:"storage"`
	Capabilities CapabilitiesConfig `yaml:"capabilities" toml:"capabilities"`
	Realtime     RealtimeConfig     `yaml:"realtime" toml:"realtime"`
	Pipeline     PipelineConfig     `yaml:"pipeline" toml:"pipeline"`
	Relay        RelayConfig        `yaml:"relay" toml:"relay"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" toml:"telemetry"`
	CORS         CORSConfig         `yaml:"cors" toml:"cors"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional gRPC health endpoint
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// StorageConfig holds audio file storage configuration
type StorageConfig struct {
	AudioDir string `yaml:"audio_dir" toml:"audio_dir"`
}

// VoiceConfig selects the synthesis voice and model for one language
type VoiceConfig struct {
	Voice string `yaml:"voice" toml:"voice"`
	Model string `yaml:"model" toml:"model"`
}

// CapabilitiesConfig configures the transcription, translation, and speech clients
type CapabilitiesConfig struct {
	Provider           string                 `yaml:"provider" toml:"provider"`
	BaseURL            string                 `yaml:"base_url" toml:"base_url"`
	APIKey             string                 `yaml:"api_key" toml:"api_key"`
	TranscriptionModel string                 `yaml:"transcription_model" toml:"transcription_model"`
	TranslationModel   string                 `yaml:"translation_model" toml:"translation_model"`
	SpeechModel        string                 `yaml:"speech_model" toml:"speech_model"`
	DefaultVoice       string                 `yaml:"default_voice" toml:"default_voice"`
	Voices             map[string]VoiceConfig `yaml:"voices" toml:"voices"`
	MaxSpeechChars     int                    `yaml:"max_speech_chars" toml:"max_speech_chars"`
	ExecCommand        string                 `yaml:"exec_command" toml:"exec_command"`

	TranscriptionTimeout time.Duration `yaml:"-" toml:"-"`
	TranslationTimeout   time.Duration `yaml:"-" toml:"-"`
	SpeechTimeout        time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	TranscriptionTimeoutRaw string `yaml:"transcription_timeout" toml:"transcription_timeout"`
	TranslationTimeoutRaw   string `yaml:"translation_timeout" toml:"translation_timeout"`
	SpeechTimeoutRaw        string `yaml:"speech_timeout" toml:"speech_timeout"`
}

// RealtimeConfig holds WebSocket subscriber configuration
type RealtimeConfig struct {
	SubscriberBuffer int      `yaml:"subscriber_buffer" toml:"subscriber_buffer"`
	AllowedOrigins   []string `yaml:"allowed_origins" toml:"allowed_origins"`

	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout" toml:"write_timeout"`
}

// PipelineConfig holds message pipeline configuration
type PipelineConfig struct {
	IdempotencyMaxEntries int `yaml:"idempotency_max_entries" toml:"idempotency_max_entries"`

	PersistTimeout time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTL time.Duration `yaml:"-" toml:"-"`

	PersistTimeoutRaw string `yaml:"persist_timeout" toml:"persist_timeout"`
	IdempotencyTTLRaw string `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// RelayConfig holds the NATS broadcast mirror configuration
type RelayConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	Servers       []string `yaml:"servers" toml:"servers"`
	SubjectPrefix string   `yaml:"subject_prefix" toml:"subject_prefix"`
	Embedded      bool     `yaml:"embedded" toml:"embedded"`
	EmbeddedPort  int      `yaml:"embedded_port" toml:"embedded_port"`
}

// TelemetryConfig holds tracing and metrics configuration
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" toml:"service_name"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	StdoutTraces   bool   `yaml:"stdout_traces" toml:"stdout_traces"`
	MetricsEnabled bool   `yaml:"metrics_enabled" toml:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path" toml:"metrics_path"`
}

// CORSConfig holds cross-origin configuration for the HTTP API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and unset fields
// receive defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}

	// Allow overriding database path via environment variable
	if dbPath := os.Getenv("MEDIBRIDGE_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse decodes raw configuration bytes without validating them.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Capabilities.Provider == "" {
		c.Capabilities.Provider = ProviderMock
	}
	if c.Capabilities.BaseURL == "" {
		c.Capabilities.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.Capabilities.TranscriptionModel == "" {
		c.Capabilities.TranscriptionModel = "whisper-large-v3-turbo"
	}
	if c.Capabilities.TranslationModel == "" {
		c.Capabilities.TranslationModel = "llama-3.3-70b-versatile"
	}
	if c.Capabilities.SpeechModel == "" {
		c.Capabilities.SpeechModel = "playai-tts"
	}
	if c.Capabilities.DefaultVoice == "" {
		c.Capabilities.DefaultVoice = "Fritz-PlayAI"
	}
	if c.Capabilities.Voices == nil {
		c.Capabilities.Voices = map[string]VoiceConfig{
			"ar": {Voice: "Ahmad-PlayAI", Model: "playai-tts-arabic"},
		}
	}
	if c.Capabilities.MaxSpeechChars <= 0 {
		c.Capabilities.MaxSpeechChars = 4096
	}
	if c.Capabilities.TranscriptionTimeout == 0 {
		c.Capabilities.TranscriptionTimeout = 60 * time.Second
	}
	if c.Capabilities.TranslationTimeout == 0 {
		c.Capabilities.TranslationTimeout = 30 * time.Second
	}
	if c.Capabilities.SpeechTimeout == 0 {
		c.Capabilities.SpeechTimeout = 60 * time.Second
	}

	if c.Storage.AudioDir == "" && c.Database.Path != "" {
		c.Storage.AudioDir = filepath.Join(filepath.Dir(c.Database.Path), "audio")
	}

	if c.Realtime.SubscriberBuffer <= 0 {
		c.Realtime.SubscriberBuffer = 64
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = 10 * time.Second
	}

	if c.Pipeline.PersistTimeout == 0 {
		c.Pipeline.PersistTimeout = 5 * time.Second
	}
	if c.Pipeline.IdempotencyTTL == 0 {
		c.Pipeline.IdempotencyTTL = 10 * time.Minute
	}
	if c.Pipeline.IdempotencyMaxEntries <= 0 {
		c.Pipeline.IdempotencyMaxEntries = 10000
	}

	if c.Relay.SubjectPrefix == "" {
		c.Relay.SubjectPrefix = "medibridge.messages"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "medibridge"
	}
	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Capabilities.Provider {
	case ProviderGroq:
		if c.Capabilities.APIKey == "" {
			return fmt.Errorf("capabilities.api_key is required for provider %q", ProviderGroq)
		}
	case ProviderExec:
		if c.Capabilities.ExecCommand == "" {
			return fmt.Errorf("capabilities.exec_command is required for provider %q", ProviderExec)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("capabilities.provider must be one of groq, exec, mock (got %q)", c.Capabilities.Provider)
	}

	if c.Relay.Enabled && !c.Relay.Embedded && len(c.Relay.Servers) == 0 {
		return fmt.Errorf("relay.servers is required when relay is enabled without embedded server")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"capabilities.transcription_timeout", cfg.Capabilities.TranscriptionTimeoutRaw, &cfg.Capabilities.TranscriptionTimeout},
		{"capabilities.translation_timeout", cfg.Capabilities.TranslationTimeoutRaw, &cfg.Capabilities.TranslationTimeout},
		{"capabilities.speech_timeout", cfg.Capabilities.SpeechTimeoutRaw, &cfg.Capabilities.SpeechTimeout},
		{"realtime.write_timeout", cfg.Realtime.WriteTimeoutRaw, &cfg.Realtime.WriteTimeout},
		{"pipeline.persist_timeout", cfg.Pipeline.PersistTimeoutRaw, &cfg.Pipeline.PersistTimeout},
		{"pipeline.idempotency_ttl", cfg.Pipeline.IdempotencyTTLRaw, &cfg.Pipeline.IdempotencyTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
