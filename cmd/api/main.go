package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lucasdeangeli4scale/disparaai/cmd/mainconfig"
	"github.com/lucasdeangeli4scale/disparaai/internal/api/router"
	"github.com/lucasdeangeli4scale/disparaai/internal/archive"
	"github.com/lucasdeangeli4scale/disparaai/internal/campaign"
	appconfig "github.com/lucasdeangeli4scale/disparaai/internal/config"
	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/events"
	"github.com/lucasdeangeli4scale/disparaai/internal/generation"
	"github.com/lucasdeangeli4scale/disparaai/internal/http/handlers"
	"github.com/lucasdeangeli4scale/disparaai/internal/inbound"
	"github.com/lucasdeangeli4scale/disparaai/internal/messaging"
	"github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/internal/uploads"
	"github.com/lucasdeangeli4scale/disparaai/internal/workflow"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

const processedEventsRetention = 7 * 24 * time.Hour

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting disparaai API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
		"testing_mode", cfg.TestingMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, bundle := setupMetrics()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	rdb := connectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	evo, err := messaging.NewEvolutionClient(messaging.EvolutionConfig{
		BaseURL:  cfg.EvolutionAPIURL,
		APIKey:   cfg.EvolutionAPIKey,
		Instance: cfg.EvolutionInstance,
		Timeout:  30 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to configure whatsapp gateway", "error", err)
		os.Exit(1)
	}

	llm, closeLLM, err := setupLLM(ctx, cfg, awsCfg)
	if err != nil {
		logger.Error("failed to configure copy generation", "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	registry := session.NewRegistry(session.WithLogger(logger))
	go registry.RunSweeper(ctx, cfg.SessionSweepInterval, cfg.SessionTTL)

	var snapshots session.Snapshotter
	if rdb != nil {
		snapshots = session.NewRedisSnapshotter(rdb, cfg.SessionTTL)
	}

	blobs := archive.NewStore(mainconfig.NewS3Client(awsCfg, cfg), cfg.UploadBucket, logger)
	var archiver campaign.Archiver
	if blobs.Enabled() {
		archiver = blobs
	}
	var store campaign.Store
	if pool != nil {
		store = campaign.NewPostgresStore(pool)
	}

	validator := contacts.NewPhoneValidator(contacts.DefaultValidatorConfig(cfg.DefaultRegion, cfg.LegacyTolerantRegions, cfg.PhoneLaxValidation))
	normalizer := contacts.NewNormalizer(validator,
		contacts.WithMaxBytes(cfg.MaxUploadBytes),
		contacts.WithLogger(logger),
	)

	coordinator := generation.NewCoordinator(registry, evo, generation.NewCopyWriter(llm, ""),
		generation.WithLogger(logger),
		generation.WithMetrics(bundle.generation),
	)
	dispatcher := campaign.NewDispatcher(registry, evo,
		campaign.WithStore(store),
		campaign.WithArchiver(archiver),
		campaign.WithLogger(logger),
		campaign.WithMetrics(bundle.campaign),
		campaign.WithInterval(cfg.DispatchInterval),
	)
	engine := workflow.NewEngine(workflow.Deps{
		Registry:   registry,
		Gateway:    evo,
		Normalizer: normalizer,
		Generator:  coordinator,
		Launcher:   dispatcher,
	},
		workflow.WithLogger(logger),
		workflow.WithSnapshotter(snapshots),
		workflow.WithUploadPolicy(uploads.NewPolicy(cfg.MaxUploadBytes)),
		workflow.WithMetrics(bundle.workflow),
	)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	publisher, worker := setupInbound(cfg, awsCfg, engine, blobs, logger)
	worker.Start(workerCtx)

	deduper := setupDeduper(pool, rdb)
	if processed, ok := deduper.(*events.ProcessedStore); ok {
		go pruneProcessedEvents(ctx, processed, logger)
	}

	checks := []handlers.Check{}
	if pool != nil {
		checks = append(checks, handlers.Check{Name: "postgres", Probe: pool.Ping})
	}
	if rdb != nil {
		checks = append(checks, handlers.Check{Name: "redis", Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}

	r := router.New(&router.Config{
		Logger: logger,
		Health: handlers.NewHealthHandler(evo, logger, checks...),
		EvolutionHook: handlers.NewEvolutionWebhookHandler(handlers.EvolutionWebhookConfig{
			Inbound:     publisher,
			Deduper:     deduper,
			Logger:      logger,
			Metrics:     bundle.messaging,
			MaxBytes:    2*cfg.MaxUploadBytes + 1<<20,
			TestingMode: cfg.TestingMode,
			OwnerPhone:  cfg.TestOwnerPhone,
		}),
		Admin:            handlers.NewAdminHandler(registry, snapshots, store, logger),
		MetricsHandler:   metricsHandler,
		WebhookToken:     cfg.WhatsAppWebhookToken,
		WebhookRateLimit: cfg.WebhookRateLimit,
		WebhookBurst:     cfg.WebhookBurst,
		AdminAuthSecret:  cfg.AdminJWTSecret,
	})

	if cfg.WebhookURL != "" {
		if err := evo.SetWebhook(ctx, cfg.WebhookURL, messaging.DefaultWebhookEvents); err != nil {
			logger.Warn("failed to register webhook", "url", cfg.WebhookURL, "error", err)
		} else {
			logger.Info("webhook registered", "url", cfg.WebhookURL)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stopWorkers()
	worker.Wait()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("copy generation did not drain", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("campaign dispatch did not drain", "error", err)
	}
	logger.Info("server exited")
}

type metricsBundle struct {
	messaging  *metrics.MessagingMetrics
	campaign   *metrics.CampaignMetrics
	generation *metrics.GenerationMetrics
	workflow   *metrics.WorkflowMetrics
}

func setupMetrics() (http.Handler, metricsBundle) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bundle := metricsBundle{
		messaging:  metrics.NewMessagingMetrics(reg),
		campaign:   metrics.NewCampaignMetrics(reg),
		generation: metrics.NewGenerationMetrics(reg),
		workflow:   metrics.NewWorkflowMetrics(reg),
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), bundle
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set, campaigns will not be persisted")
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres unreachable, continuing without persistence", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func connectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("redis unreachable, snapshots disabled", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// setupLLM picks the copy generation backend. The returned func releases it.
func setupLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config) (generation.LLMClient, func(), error) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := generation.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	case "bedrock", "":
		if cfg.BedrockModelID == "" {
			return nil, nil, errors.New("BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		return generation.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
}

// setupInbound builds the queue between the webhook and the workflow engine.
// Large media is staged in the upload bucket when one is configured.
func setupInbound(cfg *appconfig.Config, awsCfg aws.Config, handler inbound.Handler, blobs *archive.Store, logger *logging.Logger) (*inbound.Publisher, *inbound.Worker) {
	var (
		pubOpts    []inbound.PublisherOption
		workerOpts = []inbound.WorkerOption{inbound.WithWorkerCount(cfg.WorkerCount)}
	)
	if blobs.Enabled() {
		pubOpts = append(pubOpts, inbound.WithBlobStore(blobs, inbound.DefaultInlineLimit))
		workerOpts = append(workerOpts, inbound.WithBlobReader(blobs))
	}

	if cfg.UseMemoryQueue || cfg.InboundQueueURL == "" {
		logger.Info("using in-memory inbound queue", "workers", cfg.WorkerCount)
		queue := inbound.NewMemoryQueue(1024)
		return inbound.NewPublisher(queue, logger, pubOpts...), inbound.NewWorker(handler, queue, logger, workerOpts...)
	}
	logger.Info("using SQS inbound queue", "queue_url", cfg.InboundQueueURL, "workers", cfg.WorkerCount)
	queue := inbound.NewSQSQueue(mainconfig.NewSQSClient(awsCfg, cfg), cfg.InboundQueueURL)
	workerOpts = append(workerOpts, inbound.WithReceiveWaitSeconds(20))
	return inbound.NewPublisher(queue, logger, pubOpts...), inbound.NewWorker(handler, queue, logger, workerOpts...)
}

// setupDeduper prefers Postgres and falls back to Redis. Nil disables dedup.
func setupDeduper(pool *pgxpool.Pool, rdb *redis.Client) events.Deduper {
	switch {
	case pool != nil:
		return events.NewProcessedStore(pool)
	case rdb != nil:
		return events.NewRedisDeduper(rdb, processedEventsRetention)
	}
	return nil
}

func pruneProcessedEvents(ctx context.Context, store *events.ProcessedStore, logger *logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-processedEventsRetention))
			if err != nil {
				logger.Warn("failed to prune processed events", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("pruned processed events", "count", n)
			}
		}
	}
}
