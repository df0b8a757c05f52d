package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/crew"
	"github.com/cognito-ai/cognito/internal/index"
	"github.com/cognito-ai/cognito/internal/jobs"
	"github.com/cognito-ai/cognito/internal/memory"
	"github.com/cognito-ai/cognito/internal/queue/streams"
	"github.com/cognito-ai/cognito/internal/store"
	"github.com/cognito-ai/cognito/internal/worker"
	"github.com/cognito-ai/cognito/provider"
	"github.com/cognito-ai/cognito/tools/web_fetch"
	"github.com/cognito-ai/cognito/tools/web_search"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Run a research job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer func() { _ = st.Close() }()

			llm, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			apiKey := cfg.Tools.WebSearch.SerperAPIKey
			if cfg.Tools.WebSearch.Provider == "brave" {
				apiKey = cfg.Tools.WebSearch.BraveAPIKey
			}
			searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Tools.WebSearch.Provider), apiKey)
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
			defer func() { _ = rdb.Close() }()

			registry := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(registry); err != nil {
				return err
			}
			if err := streams.EnsureGroup(ctx, rdb, cfg.Jobs.Stream, cfg.Jobs.ConsumerGroup); err != nil {
				return err
			}
			consumer := streams.NewConsumer(rdb, registry, cfg.Jobs.ConsumerGroup, worker.ConsumerName())

			processor := worker.NewProcessor(consumer, controller, cfg.Jobs)
			if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Println("worker stopped")
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
