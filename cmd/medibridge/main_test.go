// ABOUTME: Tests for the medibridge command helpers
// ABOUTME: Covers config path resolution, the log handler, and the init wizard

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/medibridge/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("MEDIBRIDGE_CONFIG", "/etc/medibridge.yaml")
		assert.Equal(t, "/etc/medibridge.yaml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("MEDIBRIDGE_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "medibridge", "gateway.yaml"), getConfigPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("MEDIBRIDGE_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".config", "medibridge", "gateway.yaml"), getConfigPath())
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Debug("hidden")
	logger.With("component", "pipeline").WithGroup("msg").Info("committed", "id", "m1")
	logger.Warn("slow", "ms", 12)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF committed component=pipeline msg.id=m1")
	assert.Contains(t, lines[1], "WRN slow ms=12")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "cfg", "gateway.yaml")
	dbPath := filepath.Join(dir, "data", "medibridge.db")

	answers := strings.Join([]string{
		configPath,       // config path
		"127.0.0.1:9000", // http
		"",               // grpc disabled
		dbPath,           // database
		"",               // audio dir default
		"mock",           // provider
		"no",             // tailscale
		"debug",          // log level
		"json",           // log format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+configPath)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Empty(t, cfg.Server.GRPCAddr)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, filepath.Join(dir, "data", "audio"), cfg.Storage.AudioDir)
	assert.Equal(t, config.ProviderMock, cfg.Capabilities.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.DirExists(t, filepath.Join(dir, "data", "audio"))
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("original"), 0644))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(configPath+"\nno\n"), &out))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}
