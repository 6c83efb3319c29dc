package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("wolfden", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 50, cfg.FeedCap)
	assert.Equal(t, 30, cfg.TraceLimit)
	assert.Equal(t, 48, cfg.IncidentHours)
	assert.Equal(t, 300*time.Second, cfg.AlertWindow)
	assert.Equal(t, 10, cfg.RuleLimit)
	assert.Equal(t, time.Second, cfg.RefreshDelay)
	assert.True(t, cfg.AltScreen)
}

func TestLoadPrecedence(t *testing.T) {
	t.Run("env overrides default", func(t *testing.T) {
		t.Setenv("WOLFDEN_FEED_CAP", "75")
		t.Setenv("WOLFDEN_ALERT_WINDOW", "2m")
		cfg, err := Load(viper.New(), newFlags(t))
		require.NoError(t, err)
		assert.Equal(t, 75, cfg.FeedCap)
		assert.Equal(t, 2*time.Minute, cfg.AlertWindow)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		t.Setenv("WOLFDEN_FEED_CAP", "75")
		cfg, err := Load(viper.New(), newFlags(t, "--feed-cap=20"))
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.FeedCap)
	})

	t.Run("config file overrides default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wolfden.yaml")
		require.NoError(t, os.WriteFile(path, []byte("poll-interval: 9s\nbase-url: http://den:9000/\n"), 0o600))
		cfg, err := Load(viper.New(), newFlags(t, "--config="+path))
		require.NoError(t, err)
		assert.Equal(t, 9*time.Second, cfg.PollInterval)
		assert.Equal(t, "http://den:9000", cfg.BaseURL)
	})
}

func TestNormalizeClamps(t *testing.T) {
	cfg := Default()
	cfg.PollInterval = time.Millisecond
	cfg.FeedCap = 0
	cfg.IncidentHours = 10000
	cfg.RuleLimit = -3
	cfg.RefreshDelay = time.Hour

	got, err := cfg.Normalize()
	require.NoError(t, err)
	assert.Equal(t, time.Second, got.PollInterval)
	assert.Equal(t, 1, got.FeedCap)
	assert.Equal(t, 720, got.IncidentHours)
	assert.Equal(t, 0, got.RuleLimit)
	assert.Equal(t, 30*time.Second, got.RefreshDelay)
}

func TestNormalizeRejectsBadBaseURL(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "den.local:8080"
	_, err := cfg.Normalize()
	assert.Error(t, err)

	cfg.BaseURL = "   "
	_, err = cfg.Normalize()
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "5s", decoded["poll-interval"])
	assert.Equal(t, 50, decoded["feed-cap"])
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("WOLFDEN_TRACE_LIMIT=12\n"), 0o600))
	t.Setenv("WOLFDEN_TRACE_LIMIT", "")
	require.NoError(t, os.Unsetenv("WOLFDEN_TRACE_LIMIT"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	cfg, err := Load(viper.New(), newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.TraceLimit)
}
