// Package config handles configuration loading for the medibridge gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files with a .toml extension are decoded as TOML; anything else
// is YAML. Unset fields receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MEDIBRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/medibridge/gateway.yaml
//  3. ~/.config/medibridge/gateway.yaml
//
// MEDIBRIDGE_DB_PATH overrides database.path after loading.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	capabilities:
//	  api_key: "${GROQ_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	capabilities:
//	  transcription_timeout: "60s"
//	  translation_timeout: "30s"
//	  speech_timeout: "60s"
//	realtime:
//	  write_timeout: "10s"
//	pipeline:
//	  persist_timeout: "5s"
//	  idempotency_ttl: "10m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8000"   # API and WebSocket
//	  grpc_addr: "0.0.0.0:50051"  # optional grpc.health.v1
//
// Capabilities:
//
//	capabilities:
//	  provider: groq               # groq, exec, mock
//	  api_key: "${GROQ_API_KEY}"
//	  default_voice: "Fritz-PlayAI"
//	  voices:
//	    ar: {voice: "Ahmad-PlayAI", model: "playai-tts-arabic"}
//
// Relay:
//
//	relay:
//	  enabled: true
//	  embedded: true               # in-process NATS server
//	  subject_prefix: "medibridge.messages"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Validate() checks:
//
//   - server.http_addr unless tailscale is enabled
//   - tailscale.hostname when tailscale is enabled
//   - database.path
//   - capabilities.provider and its credentials
//   - relay.servers when the relay is enabled without an embedded server
package config
