package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/leadflow/internal/blueprint"
	"github.com/p-blackswan/leadflow/internal/config"
	"github.com/p-blackswan/leadflow/internal/conversation"
	"github.com/p-blackswan/leadflow/internal/health"
	"github.com/p-blackswan/leadflow/internal/httpapi"
	"github.com/p-blackswan/leadflow/internal/kv"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/metrics"
	"github.com/p-blackswan/leadflow/internal/notify"
	"github.com/p-blackswan/leadflow/internal/orchestrator"
	"github.com/p-blackswan/leadflow/internal/prompts"
	"github.com/p-blackswan/leadflow/internal/ratelimit"
	"github.com/p-blackswan/leadflow/internal/store"
	"github.com/p-blackswan/leadflow/internal/sweep"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Str("kv_driver", cfg.KVDriver).
		Str("ai_provider", cfg.AIProvider).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting leadflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()
	checker := health.NewChecker(logger)

	// Durable store
	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}
	defer db.Close()
	checker.Register("sqlite", health.PingCheck(db))

	// Counter/cache backend
	var kvStore kv.Store
	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		kvStore, err = kv.New(kv.TypeRedis, kv.WithRedisClient(client))
	} else {
		kvStore, err = kv.New(kv.TypeMemory, kv.WithCapacity(cfg.MemoryKVCapacity))
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init kv store")
	}
	defer kvStore.Close()
	checker.Register("kv", health.PingCheck(kvStore))

	// Prompts
	promptSet, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load prompts")
	}

	// Generation provider. A bad provider setting is not fatal: every
	// generation attempt reports it and submissions go to manual review.
	llmOpts := []llm.Option{llm.WithMaxTokens(cfg.AIMaxTokens), llm.WithLogger(logger)}
	if cfg.AIModel != "" {
		llmOpts = append(llmOpts, llm.WithModel(cfg.AIModel))
	}
	provider, err := llm.New(cfg.AIProvider, cfg.AIAPIKey, llmOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("generation provider unavailable")
	}
	orch := orchestrator.New(provider, cfg.AIProvider, cfg.AIAPIKey, promptSet, logger,
		orchestrator.WithTimeout(cfg.AITimeout),
		orchestrator.WithMaxTokens(cfg.AIMaxTokens),
		orchestrator.WithMetrics(m),
	)
	if err := orch.Preflight(); err != nil {
		logger.Warn().Err(err).Msg("generation provider misconfigured, submissions will be queued for manual review")
	}
	checker.Register("ai", health.SoftCheck(orch.Preflight))

	// Lead notifications
	var notifier notify.Notifier = notify.Nop{}
	if cfg.SlackEnabled() {
		notifier = notify.NewSlack(cfg.SlackBotToken, cfg.SlackLeadsChannel, logger)
		logger.Info().Str("channel", cfg.SlackLeadsChannel).Msg("Slack lead notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured, lead notifications are logged only")
	}

	cache := blueprint.NewCache(kvStore, cfg.BlueprintCacheTTL, logger,
		blueprint.WithReferenceTTL(cfg.SessionRetention))

	limiter := ratelimit.New(ratelimit.Config{
		SubmissionsPerHour: cfg.SubmissionLimitPerHour,
		ChatPerMinute:      cfg.ChatLimitPerMinute,
		ChatPerSession:     cfg.ChatLimitPerSession,
		SessionTTL:         cfg.SessionRetention,
	}, kvStore, logger)

	mgrCfg := conversation.DefaultConfig()
	mgrCfg.Retention = cfg.SessionRetention
	mgrCfg.RequiredAnswers = cfg.RequiredAnswers

	manager := conversation.New(mgrCfg, conversation.Deps{
		Store:     db,
		Cache:     cache,
		Limiter:   limiter,
		Generator: orch,
		Notifier:  notifier,
		Prompts:   promptSet,
		Metrics:   m,
	}, logger)

	server := httpapi.New(httpapi.Config{
		Addr:          cfg.HTTPAddr,
		CORSOrigins:   cfg.CORSOriginList(),
		WebhookSecret: cfg.WebhookSecret,
	}, manager, checker, m, logger)

	sweepOpts := []sweep.Option{sweep.WithMetrics(m)}
	if p, ok := kvStore.(sweep.Purger); ok {
		sweepOpts = append(sweepOpts, sweep.WithPurger(p))
	}
	sweeper := sweep.New(db, cfg.SessionRetention, cfg.SweepInterval, logger, sweepOpts...)

	// WaitGroup for background work
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			select {
			case sigCh <- syscall.SIGTERM:
			default:
			}
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("leadflow stopped")
}
