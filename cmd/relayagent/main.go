package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ciaranashton/relay-agent/internal/bus"
	"github.com/ciaranashton/relay-agent/internal/channel"
	"github.com/ciaranashton/relay-agent/internal/config"
	"github.com/ciaranashton/relay-agent/internal/dedup"
	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/metrics"
	"github.com/ciaranashton/relay-agent/internal/registry"
	"github.com/ciaranashton/relay-agent/internal/security"
)

var (
	version    = "0.1.0"
	configPath string
	logLevel   string
)

const defaultConfigPath = "relay-agent.json"

func main() {
	root := &cobra.Command{
		Use:   "relayagent",
		Short: "relay-agent: config-driven message triage agent",
		Long: "relay-agent receives inbound messages over webhooks, lets a language model consult\n" +
			"configured data sources and take configured actions, and logs the outcome.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv(".")
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the agent config (.json, .yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")

	root.AddCommand(startCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and builds the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger, err := config.NewLogger(os.Stderr, level, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relayagent", version)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and build every component without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := registry.Build(cfg, registry.Deps{Logger: quiet(logger)})
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Println("ok")
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Serve the webhook endpoint until interrupted",
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *metrics.Recorder
	if cfg.Server.Metrics {
		rec = metrics.NewRecorder(metrics.NewCollector(metrics.Prefix))
	}

	c, err := registry.Build(cfg, registry.Deps{Logger: logger, Observer: rec.ToolCall})
	if err != nil {
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			logger.Error("configuration error", "error", err)
		}
		return err
	}
	defer c.Close()

	if err := c.Provider.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", c.Provider.Name(), "error", err)
	}

	store, err := openDedup(cfg.Server.Dedup, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	senders, err := security.NewEngine(cfg.Server.Senders, logger)
	if err != nil {
		return &domain.ConfigError{Msg: "server.senders", Cause: err}
	}

	messageBus := bus.New(cfg.Server.QueueSize, logger)
	messageBus.OnDrop(func(domain.Message) { rec.Dropped() })

	dispatcher := channel.NewDispatcher(channel.DispatcherConfig{
		Bus:            messageBus,
		Processor:      c.Agent,
		Workers:        cfg.Server.Workers,
		ProcessTimeout: time.Duration(cfg.Server.ProcessTimeoutSeconds) * time.Second,
		Metrics:        rec,
		Logger:         logger,
	})
	dispatcher.Start(ctx)

	server := channel.NewServer(channel.ServerConfig{
		Port:         cfg.Server.Port,
		AgentName:    cfg.Name,
		Adapter:      c.Inbound,
		Bus:          messageBus,
		Dedup:        store,
		Senders:      senders,
		Metrics:      rec,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})

	logger.Info("agent started", "agent", cfg.Name, "version", version)
	serveErr := server.Start(ctx)

	// Runs already dispatched finish before the process exits.
	const drainTimeout = 30 * time.Second
	messageBus.Close()
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(drainTimeout):
		logger.Warn("shutdown timed out with messages still in flight")
	}
	return serveErr
}

func openDedup(cfg config.DedupConfig, logger *slog.Logger) (dedup.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	if cfg.DBPath == "" {
		return dedup.NewMemory(ttl), nil
	}
	s, err := dedup.NewSQLite(config.ExpandPath(cfg.DBPath), ttl, logger)
	if err != nil {
		return nil, fmt.Errorf("dedup store: %w", err)
	}
	return s, nil
}

// quiet drops info-level chatter for one-shot commands that print results.
func quiet(logger *slog.Logger) *slog.Logger {
	if logLevel != "" {
		return logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
