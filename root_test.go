package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlahtinen/syncwatch/internal/config"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests set
// globals AFTER newRootCmd() returns, and restore them in t.Cleanup.

func saveFlags(t *testing.T) {
	t.Helper()

	oldConfig, oldServer := flagConfigPath, flagServerURL
	oldJSON, oldVerbose, oldQuiet := flagJSON, flagVerbose, flagQuiet
	oldCfg := cfg

	t.Cleanup(func() {
		flagConfigPath, flagServerURL = oldConfig, oldServer
		flagJSON, flagVerbose, flagQuiet = oldJSON, oldVerbose, oldQuiet
		cfg = oldCfg
	})
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{
		"login", "logout", "whoami", "status",
		"start", "watch", "attach",
		"cancel", "resume", "skip-failed",
	}

	var got []string
	for _, sub := range cmd.Commands() {
		got = append(got, sub.Name())
	}

	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "server", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing persistent flag %q", name)
	}
}

func TestLoadConfig_ServerFlagWins(t *testing.T) {
	saveFlags(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"[server]\nbase_url = \"https://file.example.com\"\nsync_base_url = \"https://stream.example.com\"\n",
	), 0o600))

	flagConfigPath = path
	flagServerURL = "https://flag.example.com"

	require.NoError(t, loadConfig())

	// The flag overrides both endpoints.
	assert.Equal(t, "https://flag.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "https://flag.example.com", cfg.Server.SyncBaseURL)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	saveFlags(t)

	flagConfigPath = filepath.Join(t.TempDir(), "nope.toml")
	flagServerURL = ""

	require.NoError(t, loadConfig())
	assert.Equal(t, config.DefaultMaxReconnectAttempts, cfg.Stream.MaxReconnectAttempts)
}

func TestBuildLogger_Levels(t *testing.T) {
	saveFlags(t)

	cfg = config.Default()
	flagVerbose = false
	flagQuiet = false

	logger := buildLogger()
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))

	flagVerbose = true
	logger = buildLogger()
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))

	flagVerbose = false
	flagQuiet = true
	logger = buildLogger()
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestNewAPIClient_RequiresServer(t *testing.T) {
	saveFlags(t)

	cfg = config.Default()

	holder, err := newHolderAt(t)
	require.NoError(t, err)

	_, err = newAPIClient(holder, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server configured")
}

// newHolderAt builds a holder against a temp credential path, keeping the
// test away from the real XDG directory.
func newHolderAt(t *testing.T) (*tokenfile.Holder, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	return newHolder(slog.Default())
}
