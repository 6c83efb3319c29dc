package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"wolfden/internal/api"
	"wolfden/internal/config"
	"wolfden/internal/den"
	"wolfden/internal/logging"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "wolfden",
		Short: "Live status dashboard for the Romulus agent",
		Long: `wolfden polls the agent's status, traces, incidents, dream reports and
rules, merges them into one activity feed and renders the den in the terminal.

Run without arguments to open the dashboard.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			return runDashboard(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newOnceCmd(v), newConfigCmd(v))
	return root
}

func newOnceCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one polling round and print the view as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Path: "stderr", Debug: cfg.Debug})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pub := newPublisher(cfg, logger, nil)
			defer pub.Close()
			view := pub.Tick(cmd.Context())

			out, err := yaml.Marshal(summarize(view, cfg.PollInterval))
			if err != nil {
				return fmt.Errorf("encode view: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	return config.Load(v, cmd.Flags())
}

func engineOptions(cfg config.Config) den.Options {
	return den.Options{
		PollInterval:        cfg.PollInterval,
		FeedCap:             cfg.FeedCap,
		TraceLimit:          cfg.TraceLimit,
		IncidentLookback:    time.Duration(cfg.IncidentHours) * time.Hour,
		AlertWindow:         cfg.AlertWindow,
		RuleLimit:           cfg.RuleLimit,
		RefreshDelay:        cfg.RefreshDelay,
		StatusCheckInterval: cfg.StatusCheckInterval,
		Clock:               time.Now,
	}
}

func newPublisher(cfg config.Config, logger *zap.Logger, metrics *den.Metrics) *den.Publisher {
	client := api.NewClient(cfg.BaseURL, api.WithTimeout(cfg.RequestTimeout))
	return den.NewPublisher(client, engineOptions(cfg), logger, metrics)
}

func runDashboard(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(logging.Options{Path: cfg.LogFile, Debug: cfg.Debug})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting dashboard",
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("poll_interval", cfg.PollInterval))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pub := newPublisher(cfg, logger, den.NewMetrics(reg))
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() { _ = srv.Close() }()
	}

	events, unsubscribe := pub.Subscribe(eventBuffer)
	defer unsubscribe()

	runner, err := den.NewRunner(pub, logger)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := runner.Shutdown(); err != nil {
			logger.Warn("runner shutdown", zap.Error(err))
		}
	}()

	options := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.AltScreen {
		options = append(options, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(newModel(ctx, pub, events), options...).Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

type viewSummary struct {
	Agent     string        `yaml:"agent"`
	Version   string        `yaml:"version"`
	State     string        `yaml:"state"`
	Connected bool          `yaml:"connected"`
	Uptime    string        `yaml:"uptime"`
	Trust     string        `yaml:"trust,omitempty"`
	Fitness   string        `yaml:"fitness,omitempty"`
	Tasks     int           `yaml:"tasks"`
	Rules     int           `yaml:"rules"`
	Stale     []string      `yaml:"stale,omitempty"`
	Feed      []feedSummary `yaml:"feed"`
}

type feedSummary struct {
	Kind string `yaml:"kind"`
	Text string `yaml:"text"`
	Age  string `yaml:"age,omitempty"`
}

func summarize(view den.View, maxAge time.Duration) viewSummary {
	name, version := agentHeader(view.Snapshot.Status)
	out := viewSummary{
		Agent:     name,
		Version:   version,
		State:     string(view.State),
		Connected: view.Connected,
		Uptime:    formatUptime(view.Uptime),
		Feed:      make([]feedSummary, 0, len(view.Feed)),
	}
	if status := view.Snapshot.Status; status != nil {
		out.Trust = den.Percent(status.TrustScore)
		out.Fitness = den.Percent(status.CompositeFitness)
		out.Tasks = status.TotalTasks
		out.Rules = status.RulesLearned
	}
	for _, source := range den.Sources {
		if view.Snapshot.Stale(source, view.GeneratedAt, maxAge) {
			out.Stale = append(out.Stale, string(source))
		}
	}
	for _, entry := range view.Feed {
		out.Feed = append(out.Feed, feedSummary{Kind: string(entry.Kind), Text: entry.Text, Age: entry.Age(view.GeneratedAt)})
	}
	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wolfden: %v\n", err)
		stop()
		os.Exit(1)
	}
}
