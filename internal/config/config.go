// Package config resolves dashboard settings from flags, WOLFDEN_* environment
// variables, an optional YAML file and a .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "WOLFDEN"

const (
	KeyBaseURL             = "base-url"
	KeyPollInterval        = "poll-interval"
	KeyFeedCap             = "feed-cap"
	KeyTraceLimit          = "trace-limit"
	KeyIncidentHours       = "incident-hours"
	KeyAlertWindow         = "alert-window"
	KeyRuleLimit           = "rule-limit"
	KeyRefreshDelay        = "refresh-delay"
	KeyRequestTimeout      = "request-timeout"
	KeyStatusCheckInterval = "status-check-interval"
	KeyLogFile             = "log-file"
	KeyDebug               = "debug"
	KeyMetricsAddr         = "metrics-addr"
	KeyAltScreen           = "alt-screen"
	KeyConfigFile          = "config"
)

type Config struct {
	BaseURL             string        `yaml:"base-url"`
	PollInterval        time.Duration `yaml:"poll-interval"`
	FeedCap             int           `yaml:"feed-cap"`
	TraceLimit          int           `yaml:"trace-limit"`
	IncidentHours       int           `yaml:"incident-hours"`
	AlertWindow         time.Duration `yaml:"alert-window"`
	RuleLimit           int           `yaml:"rule-limit"`
	RefreshDelay        time.Duration `yaml:"refresh-delay"`
	RequestTimeout      time.Duration `yaml:"request-timeout"`
	StatusCheckInterval time.Duration `yaml:"status-check-interval"`
	LogFile             string        `yaml:"log-file"`
	Debug               bool          `yaml:"debug"`
	MetricsAddr         string        `yaml:"metrics-addr"`
	AltScreen           bool          `yaml:"alt-screen"`
}

// Default returns the stock settings of the dashboard.
func Default() Config {
	return Config{
		BaseURL:             "http://127.0.0.1:8080",
		PollInterval:        5 * time.Second,
		FeedCap:             50,
		TraceLimit:          30,
		IncidentHours:       48,
		AlertWindow:         300 * time.Second,
		RuleLimit:           10,
		RefreshDelay:        time.Second,
		RequestTimeout:      30 * time.Second,
		StatusCheckInterval: 2 * time.Second,
		LogFile:             defaultLogFile(),
		AltScreen:           true,
	}
}

func defaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "wolfden.log")
	}
	return filepath.Join(home, ".wolfden", "wolfden.log")
}

// RegisterFlags adds every setting to flags with its default value.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String(KeyBaseURL, d.BaseURL, "Agent API base URL")
	flags.Duration(KeyPollInterval, d.PollInterval, "Polling interval")
	flags.Int(KeyFeedCap, d.FeedCap, "Maximum activity feed entries")
	flags.Int(KeyTraceLimit, d.TraceLimit, "Execution traces requested per poll")
	flags.Int(KeyIncidentHours, d.IncidentHours, "Incident lookback window in hours")
	flags.Duration(KeyAlertWindow, d.AlertWindow, "Incidents newer than this put the agent in alert")
	flags.Int(KeyRuleLimit, d.RuleLimit, "Most recently validated rules shown in the feed")
	flags.Duration(KeyRefreshDelay, d.RefreshDelay, "Delay before the refresh that follows a task or dream")
	flags.Duration(KeyRequestTimeout, d.RequestTimeout, "HTTP request timeout (0 disables)")
	flags.Duration(KeyStatusCheckInterval, d.StatusCheckInterval, "Minimum spacing between manual status checks")
	flags.String(KeyLogFile, d.LogFile, "Log file path (stderr to log to the terminal)")
	flags.Bool(KeyDebug, d.Debug, "Enable debug logging")
	flags.String(KeyMetricsAddr, d.MetricsAddr, "Serve Prometheus metrics on this address (empty disables)")
	flags.Bool(KeyAltScreen, d.AltScreen, "Use alternate screen buffer")
	flags.String(KeyConfigFile, "", "Optional YAML config file")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves the configuration. flags may be nil, in which case only the
// environment, the config file and the defaults apply.
func Load(v *viper.Viper, flags *pflag.FlagSet) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if path := strings.TrimSpace(v.GetString(KeyConfigFile)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		BaseURL:             v.GetString(KeyBaseURL),
		PollInterval:        v.GetDuration(KeyPollInterval),
		FeedCap:             v.GetInt(KeyFeedCap),
		TraceLimit:          v.GetInt(KeyTraceLimit),
		IncidentHours:       v.GetInt(KeyIncidentHours),
		AlertWindow:         v.GetDuration(KeyAlertWindow),
		RuleLimit:           v.GetInt(KeyRuleLimit),
		RefreshDelay:        v.GetDuration(KeyRefreshDelay),
		RequestTimeout:      v.GetDuration(KeyRequestTimeout),
		StatusCheckInterval: v.GetDuration(KeyStatusCheckInterval),
		LogFile:             v.GetString(KeyLogFile),
		Debug:               v.GetBool(KeyDebug),
		MetricsAddr:         v.GetString(KeyMetricsAddr),
		AltScreen:           v.GetBool(KeyAltScreen),
	}
	return cfg.Normalize()
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyPollInterval, d.PollInterval)
	v.SetDefault(KeyFeedCap, d.FeedCap)
	v.SetDefault(KeyTraceLimit, d.TraceLimit)
	v.SetDefault(KeyIncidentHours, d.IncidentHours)
	v.SetDefault(KeyAlertWindow, d.AlertWindow)
	v.SetDefault(KeyRuleLimit, d.RuleLimit)
	v.SetDefault(KeyRefreshDelay, d.RefreshDelay)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
	v.SetDefault(KeyStatusCheckInterval, d.StatusCheckInterval)
	v.SetDefault(KeyLogFile, d.LogFile)
	v.SetDefault(KeyDebug, d.Debug)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyAltScreen, d.AltScreen)
}

// Normalize clamps every tunable into its supported range and validates the
// base URL.
func (c Config) Normalize() (Config, error) {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return c, errors.New("base-url must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return c, fmt.Errorf("base-url %q must start with http:// or https://", c.BaseURL)
	}
	c.PollInterval = clampDuration(c.PollInterval, time.Second, time.Minute)
	c.FeedCap = clampInt(c.FeedCap, 1, 500)
	c.TraceLimit = clampInt(c.TraceLimit, 1, 500)
	c.IncidentHours = clampInt(c.IncidentHours, 1, 720)
	c.AlertWindow = clampDuration(c.AlertWindow, 10*time.Second, 24*time.Hour)
	c.RuleLimit = clampInt(c.RuleLimit, 0, 100)
	c.RefreshDelay = clampDuration(c.RefreshDelay, 0, 30*time.Second)
	c.RequestTimeout = clampDuration(c.RequestTimeout, 0, 10*time.Minute)
	c.StatusCheckInterval = clampDuration(c.StatusCheckInterval, 0, time.Minute)
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.MetricsAddr = strings.TrimSpace(c.MetricsAddr)
	return c, nil
}

// YAML renders the configuration for `wolfden config`.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampDuration(value, min, max time.Duration) time.Duration {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
