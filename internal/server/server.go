package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/crew"
	"github.com/cognito-ai/cognito/internal/index"
	"github.com/cognito-ai/cognito/internal/jobs"
	"github.com/cognito-ai/cognito/internal/memory"
	"github.com/cognito-ai/cognito/internal/queue/streams"
	"github.com/cognito-ai/cognito/internal/store"
	"github.com/cognito-ai/cognito/provider"
	"github.com/cognito-ai/cognito/tools/web_fetch"
	"github.com/cognito-ai/cognito/tools/web_search"
)

// Run wires the full engine and serves the HTTP API until the server exits.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() { _ = st.Close() }()

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := web_search.NewWebSearcher(
		web_search.Provider(cfg.Tools.WebSearch.Provider),
		searchAPIKey(cfg.Tools.WebSearch),
	)
	if err != nil {
		return err
	}
	fetcher, err := web_fetch.NewWebFetcher(
		web_fetch.FetcherType(cfg.Tools.WebFetch.Fetcher),
		cfg.Tools.WebFetch.Timeout,
		cfg.Tools.WebFetch.MaxChars,
	)
	if err != nil {
		return err
	}

	idx := index.NewService(st, llm, cfg.Memory.Semantic)
	retriever := memory.NewRetriever(idx, cfg.Memory.Semantic)
	agents := crew.New(searcher, fetcher, llm, cfg.Tools.WebSearch)
	controller := jobs.NewController(st, retriever, agents, idx, cfg.Jobs)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(registry); err != nil {
		return err
	}
	if err := streams.EnsureGroup(ctx, rdb, cfg.Jobs.Stream, cfg.Jobs.ConsumerGroup); err != nil {
		return err
	}
	publisher := streams.NewPublisher(rdb, registry)

	api := e.Group("/api")
	jh := &JobsHandler{Controller: controller, Publisher: publisher, Cfg: cfg.Jobs}
	jh.Register(api.Group("/jobs"))
	mh := &MemoryHandler{Index: idx, Similar: retriever, Cfg: cfg.Memory.Semantic}
	mh.Register(api.Group("/memory"))

	return e.Start(cfg.Server.Address)
}

func searchAPIKey(cfg config.WebSearchConfig) string {
	if cfg.Provider == "brave" {
		return cfg.BraveAPIKey
	}
	return cfg.SerperAPIKey
}
