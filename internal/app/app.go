// Package app assembles the vox2txt runtime: structured logging, the
// model backend chain, and the query service, all from one effective
// configuration.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mjamiv/vox2txt-sub003/internal/config"
	"github.com/mjamiv/vox2txt-sub003/internal/llm"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/aggregate"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/conflict"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/execute"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/observability"
)

// App owns the assembled service and the cleanup chain behind it.
type App struct {
	Config  config.Config
	Service *rlm.Service

	provider string
	cleanups []func() error
}

// New assembles the runtime from the effective configuration: logging
// first, then the best available model backend, then the query service.
func New(cfg config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := app.setupLogging(); err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	client, provider, err := newClient(cfg.Providers)
	if err != nil {
		app.Shutdown()
		return nil, err
	}
	app.provider = provider

	svc, err := rlm.NewService(client, serviceConfig(cfg))
	if err != nil {
		app.Shutdown()
		return nil, fmt.Errorf("create service: %w", err)
	}
	app.Service = svc
	app.cleanups = append(app.cleanups, svc.Close)

	slog.Info("vox2txt ready",
		"provider", provider,
		"store", cfg.StorePath(),
		"societies", cfg.Societies.Enabled,
		"cache", cfg.Cache.Enabled)
	return app, nil
}

// Provider names the model backend in use: "openrouter" or "anthropic".
func (a *App) Provider() string {
	return a.provider
}

// Shutdown releases everything New wired up, in reverse order. Safe to
// call on a partially assembled App.
func (a *App) Shutdown() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

// setupLogging points the default slog logger at stderr, or at a
// rotating JSON log file when one is configured, keeping the terminal
// clear for answer output.
func (a *App) setupLogging() error {
	level, err := parseLevel(a.Config.Log.Level)
	if err != nil {
		return err
	}

	if a.Config.Log.File == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	}

	rotator := &lumberjack.Logger{
		Filename:   a.Config.Log.File,
		MaxSize:    a.Config.Log.MaxSizeMB,
		MaxBackups: a.Config.Log.MaxBackups,
		MaxAge:     a.Config.Log.MaxAgeDays,
		Compress:   true,
	}
	a.cleanups = append(a.cleanups, rotator.Close)

	slog.SetDefault(slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// newClient picks the best available model backend: OpenRouter for
// tier-routed multi-model calls when its key is present, else Anthropic
// as the single-model fallback.
func newClient(p config.ProvidersConfig) (llm.Client, string, error) {
	if p.OpenRouterAPIKey != "" {
		client, err := llm.NewOpenRouter(llm.OpenRouterConfig{APIKey: p.OpenRouterAPIKey})
		if err == nil {
			slog.Info("model backend: OpenRouter with tier routing")
			return client, "openrouter", nil
		}
		slog.Warn("OpenRouter client unavailable, trying Anthropic", "error", err)
	}

	if p.AnthropicAPIKey != "" {
		client, err := llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:  p.AnthropicAPIKey,
			BaseURL: p.AnthropicBaseURL,
			Model:   p.AnthropicModel,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create Anthropic client: %w", err)
		}
		slog.Info("model backend: Anthropic", "model", client.Model())
		return client, "anthropic", nil
	}

	return nil, "", errors.New("no model provider configured (set OPENROUTER_API_KEY or ANTHROPIC_API_KEY)")
}

// serviceConfig maps the file/env configuration onto the pipeline
// options. Debug runs additionally stream pipeline events to stderr as
// JSON lines.
func serviceConfig(cfg config.Config) rlm.ServiceConfig {
	conflictCfg := conflict.DefaultConfig()
	conflictCfg.AgreementThreshold = cfg.Conflict.Threshold

	svcCfg := rlm.DefaultServiceConfig()
	svcCfg.StorePath = cfg.StorePath()
	svcCfg.CacheEnabled = cfg.Cache.Enabled
	svcCfg.CacheSize = cfg.Cache.Size
	svcCfg.Engine = rlm.Config{
		Decompose: decompose.Config{
			SocietiesEnabled:       cfg.Societies.Enabled,
			RoleStrategy:           cfg.RoleStrategy(),
			MinAgentsForSocieties:  cfg.Societies.MinAgents,
			MinEligibleGroups:      cfg.Decompose.MinEligibleGroups,
			MinAgentsForGroupLevel: cfg.Decompose.MinAgentsForGroupLevel,
		},
		Execute: execute.Config{
			MaxAttempts:     cfg.Execute.MaxAttempts,
			RetryBackoff:    cfg.Execute.RetryBackoff.Std(),
			CallTimeout:     cfg.Execute.CallTimeout.Std(),
			ReduceTimeout:   cfg.Execute.ReduceTimeout.Std(),
			MaxTokens:       cfg.Execute.MaxTokens,
			ReduceMaxTokens: cfg.Execute.ReduceMaxTokens,
			MaxParallel:     cfg.Execute.MaxParallel,
		},
		Aggregate: aggregate.Config{
			SurfaceConflicts:    cfg.Conflict.Surface,
			IncludePerspectives: cfg.Societies.IncludePerspective,
			MaxTokens:           cfg.Aggregate.MaxTokens,
			Timeout:             cfg.Aggregate.Timeout.Std(),
			Conflict:            conflictCfg,
		},
		MaxAgents: cfg.Retrieval.MaxResults,
		MinScore:  cfg.Retrieval.MinScore,
	}

	if cfg.Log.Level == "debug" {
		svcCfg.Events = observability.NewEventLogger(
			observability.WithLevel(observability.LevelDebug),
		)
	}

	return svcCfg
}
