package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/zaidmukaddam/openlord.ai/pkg/config"
	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/httplog"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
	"github.com/zaidmukaddam/openlord.ai/pkg/model/anthropic"
	"github.com/zaidmukaddam/openlord.ai/pkg/model/gemini"
	"github.com/zaidmukaddam/openlord.ai/pkg/model/openai"
	"github.com/zaidmukaddam/openlord.ai/pkg/orchestrator"
	"github.com/zaidmukaddam/openlord.ai/pkg/server"
	"github.com/zaidmukaddam/openlord.ai/pkg/tools"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			setupLogging(os.Stderr, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	models, err := buildModels(ctx, cfg)
	if err != nil {
		return err
	}
	toolset, cleanup, err := buildTools(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := orchestrator.New(models, toolset, orchestrator.Options{
		MaxTokens:     cfg.Server.MaxTokens,
		MaxRoundTrips: cfg.Server.MaxRoundTrips,
		Timeout:       cfg.Server.RequestTimeout,
		Persona:       cfg.Server.Persona,
	})
	srv := server.New(orch, models)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down chat server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildModels registers a backend for every provider with an API key.
func buildModels(ctx context.Context, cfg *config.Config) (*model.Registry, error) {
	reg := model.NewRegistry(domain.ModelClaude3Haiku, cfg.Server.StrictModels)
	p := cfg.Providers

	if p.OpenAI.APIKey != "" {
		reg.Register(domain.ModelGPT4oMini, openai.UpstreamModel, openai.New(openai.Config{
			APIKey:     p.OpenAI.APIKey,
			BaseURL:    p.OpenAI.BaseURL,
			HTTPClient: httplog.NewClient("openai", 0),
		}))
	}
	if p.Anthropic.APIKey != "" {
		reg.Register(domain.ModelClaude3Haiku, anthropic.UpstreamModel, anthropic.New(anthropic.Config{
			APIKey:     p.Anthropic.APIKey,
			BaseURL:    p.Anthropic.BaseURL,
			HTTPClient: httplog.NewClient("anthropic", 0),
		}))
	}
	if p.Gemini.APIKey != "" {
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:     p.Gemini.APIKey,
			BaseURL:    p.Gemini.BaseURL,
			HTTPClient: httplog.NewClient("gemini", 0),
		})
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		reg.Register(domain.ModelGemini15Flash, gemini.UpstreamModel, g)
	}

	for _, id := range domain.SupportedModels {
		slog.Info("Model backend", "model", id, "configured", reg.Configured(id))
	}
	return reg, nil
}

func buildTools(ctx context.Context, cfg *config.Config) (*tools.Registry, func(), error) {
	weather := &tools.Weather{
		BaseURL:    cfg.Tools.Weather.BaseURL,
		HTTPClient: httplog.NewClient("weather", 10*time.Second),
		CacheTTL:   cfg.Tools.Weather.CacheTTL,
	}
	cleanup := func() {}
	if addr := cfg.Tools.Weather.RedisAddr; addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
		}
		slog.Info("Weather cache enabled", "addr", addr, "ttl", cfg.Tools.Weather.CacheTTL)
		weather.Cache = rdb
		cleanup = func() { rdb.Close() }
	}

	search := &tools.WebSearch{
		BaseURL:    cfg.Tools.Search.BaseURL,
		APIKey:     cfg.Tools.Search.APIKey,
		HTTPClient: httplog.NewClient("search", 20*time.Second),
		Limiter:    rate.NewLimiter(rate.Limit(cfg.Tools.Search.RequestsPerSecond), 1),
	}
	if search.APIKey == "" {
		slog.Warn("TAVILY_API_KEY not set, web_search calls will fail")
	}
	return tools.NewRegistry(weather, search), cleanup, nil
}
