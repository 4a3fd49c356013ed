package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicworks/copilot/internal/config"
	"github.com/civicworks/copilot/internal/copilot"
	"github.com/civicworks/copilot/internal/history"
	"github.com/civicworks/copilot/internal/observability"
	"github.com/civicworks/copilot/internal/reasoning"
	"github.com/civicworks/copilot/internal/server"
	"github.com/civicworks/copilot/internal/tools"
)

// buildServeCmd creates the "serve" command that runs the HTTP service.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the copilot HTTP server",
		Long: `Start the copilot server.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Open the session history backend (memory or SQLite)
3. Register the builtin tool catalog
4. Connect the configured reasoning backend (Anthropic or OpenAI)
5. Serve the HTTP API with health checks and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults (in-memory history, demo data)
  copilot serve

  # Start with a config file
  copilot serve --config /etc/copilot/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildToolsCmd creates the "tools" command that prints the tool catalog.
func buildToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools and their risk levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := copilot.NewToolRegistry()
			if err := tools.Register(registry, tools.NewMemoryDirectory()); err != nil {
				return err
			}
			for _, def := range registry.Definitions() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-25s %-22s %s\n", def.Name, def.Risk, def.Description)
			}
			return nil
		},
	}
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "copilot %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// runServe wires the engine together and serves until interrupted.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SampleRate,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, err := openHistoryStore(cfg, logger)
	if err != nil {
		return err
	}

	registry := copilot.NewToolRegistry()
	directory := tools.NewMemoryDirectory()
	if cfg.Copilot.SeedDemoData {
		directory.Seed()
	}
	if err := tools.Register(registry, directory); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}

	execCfg := copilot.DefaultToolExecConfig()
	if cfg.Copilot.ToolTimeout > 0 {
		execCfg.PerToolTimeout = cfg.Copilot.ToolTimeout
	}
	executor := copilot.NewToolExecutor(registry, execCfg, logger).WithObservability(metrics, tracer)

	orch, err := copilot.NewOrchestrator(backend, registry, executor, store, copilot.Options{
		SystemPrompt:        cfg.Copilot.SystemPrompt,
		HistoryLimit:        cfg.Copilot.HistoryLimit,
		ConfirmationTimeout: cfg.Copilot.ConfirmationTimeout,
		Logger:              logger,
		Metrics:             metrics,
		Tracer:              tracer,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	srv := server.New(cfg.Server.Addr, orch, registry, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("copilot started",
		"addr", cfg.Server.Addr,
		"provider", cfg.LLM.Provider,
		"history_backend", cfg.History.Backend)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openHistoryStore(cfg *config.Config, logger *slog.Logger) (history.Store, error) {
	switch cfg.History.Backend {
	case "sqlite":
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		logger.Info("using sqlite history", "path", cfg.History.Path)
		return store, nil
	default:
		return history.NewMemoryStore(), nil
	}
}

func openBackend(cfg *config.Config) (reasoning.Backend, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return reasoning.NewAnthropicBackend(reasoning.AnthropicConfig{
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			BaseURL:   cfg.LLM.BaseURL,
			MaxTokens: cfg.LLM.MaxTokens,
		})
	case "openai":
		return reasoning.NewOpenAIBackend(reasoning.OpenAIConfig{
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			BaseURL:   cfg.LLM.BaseURL,
			MaxTokens: cfg.LLM.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}
