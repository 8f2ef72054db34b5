// Command planforged is the PlanForge server daemon. It decomposes
// feature requests into task plans through an LLM provider and serves
// the execution simulator over a REST API with SSE progress events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/config"
	"github.com/planforge/planforge/decompose"
	"github.com/planforge/planforge/events"
	"github.com/planforge/planforge/internal/version"
	"github.com/planforge/planforge/metrics"
	"github.com/planforge/planforge/plan"
	"github.com/planforge/planforge/provider"
	"github.com/planforge/planforge/provider/mock"
	"github.com/planforge/planforge/server"
)

var (
	configPath  = flag.String("config", "", "path to config file (optional)")
	addr        = flag.String("addr", "", "listen address (overrides config)")
	dbPath      = flag.String("db", "", "sqlite database path (overrides data_dir)")
	logLevel    = flag.String("log-level", "", "log level (overrides config)")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("planforged %s\n", version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "planforged: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := newLogger(cfg)
	logger.Info("starting planforged",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("provider", cfg.LLM.Provider))

	ctx := context.Background()

	storePath := filepath.Join(cfg.DataDir, "planforge.db")
	if *dbPath != "" {
		storePath = *dbPath
	}
	store, err := plan.NewSQLiteStore(ctx, storePath)
	if err != nil {
		logger.Error("open store", slog.String("path", storePath), slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close() //nolint:errcheck

	prov, err := buildProvider(cfg)
	if err != nil {
		logger.Error("configure provider", slog.Any("err", err))
		os.Exit(1)
	}

	bus := events.NewInMemoryBus()
	m := metrics.New()
	chat := m.WrapProvider(provider.NewResilient(prov, provider.ResilientConfig{}))
	dir := agent.DefaultDirectory()
	decomposer := decompose.New(chat, dir, bus, logger)

	srv := server.New(*cfg, version.Version, version.Commit, version.BuildDate, logger)
	srv.SetStore(store)
	srv.SetBus(bus)
	srv.SetDecomposer(decomposer)
	srv.SetDirectory(dir)
	srv.SetMetrics(m)
	srv.SetProviderName(prov.Name())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("err", err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("err", err))
		}
	}
	logger.Info("shutdown complete")
}

// newLogger builds the slog logger from the log level and format config.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// buildProvider constructs the configured LLM provider.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}), nil
	case "ollama":
		return provider.NewOllamaProvider(provider.OllamaConfig{
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
