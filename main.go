package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/config"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/flow"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/gateway"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/jobs"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/observability"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/queue"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/ratelimit"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/scheduler"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/storage"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/webhook"
)

func main() {
	ctx := context.Background()
	log := logger.NewLogger("main")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Observability first so everything below is traced.
	otelConfig := observability.DefaultConfig()
	otelConfig.ServiceName = cfg.Observability.ServiceName
	otelConfig.TracingEndpoint = cfg.Observability.TracingURL
	otelConfig.MetricsEndpoint = cfg.Observability.MetricsURL
	otelShutdown, err := observability.Setup(ctx, otelConfig)
	if err != nil {
		log.Error("Failed to setup observability", "error", err)
		os.Exit(1)
	}

	metrics, err := observability.NewHubMetrics()
	if err != nil {
		log.Error("Failed to create metrics", "error", err)
		os.Exit(1)
	}

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	outboxRepo := storage.NewOutboxRepository(dbPool)
	endpointRepo := storage.NewEndpointRepository(dbPool)
	subscriptionRepo := storage.NewSubscriptionRepository(dbPool)
	webhookEventRepo := storage.NewWebhookEventRepository(dbPool)
	runLog := storage.NewRunLog(dbPool)

	limiter, rdb, err := buildLimiter(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	executor := httpexec.NewClient(httpexec.NewTokenCache())

	deliveryScheduler := scheduler.New(outboxRepo, endpointRepo, limiter, executor, scheduler.Config{
		BatchSize: cfg.BatchSize,
		Metrics:   metrics,
	})
	webhookService := webhook.NewService(subscriptionRepo, webhookEventRepo, executor)
	flowRunner := flow.NewRunner(endpointRepo, executor, flow.NewPathMapper(), runLog)
	eventGateway := gateway.New(outboxRepo, subscriptionRepo, webhookEventRepo)

	queueManager, err := queue.NewManager(ctx, dbPool, queue.Deps{
		Scheduler:      deliveryScheduler,
		WebhookService: webhookService,
		FlowRunner:     flowRunner,
		PollInterval:   cfg.PollInterval,
	})
	if err != nil {
		log.Error("Failed to create queue manager", "error", err)
		os.Exit(1)
	}

	// Webhook delivery runs on the queue so a slow consumer never blocks
	// event intake.
	eventGateway.Subscribe(gateway.WildcardEventType, func(ctx context.Context, tenantID string, event hub.DomainEvent) error {
		_, err := queueManager.EnqueueWebhookDispatch(ctx, jobs.DispatchWebhookArgs{
			TenantID:  tenantID,
			EventType: event.EventType,
			Payload:   event.Payload,
		})
		return err
	})

	if err := queueManager.Start(ctx); err != nil {
		log.Error("Failed to start queue manager", "error", err)
		os.Exit(1)
	}

	log.Info("Integration hub running",
		"worker_id", deliveryScheduler.WorkerID(),
		"poll_interval", cfg.PollInterval.String(),
		"batch_size", cfg.BatchSize,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queueManager.Stop(shutdownCtx); err != nil {
		log.Error("Queue shutdown failed", "error", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error("Observability shutdown failed", "error", err)
	}
	log.Info("Shutdown complete")
}

// buildLimiter selects the rate-limit store. With redis the window state is
// shared across instances; without it each instance enforces its own limits.
func buildLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.Limiter, *redis.Client, error) {
	log := logger.NewLogger("main")

	var opts []ratelimit.Option
	if cfg.RateLimitFailOpen {
		opts = append(opts, ratelimit.WithFailOpen())
	}

	if cfg.RedisURL == "" {
		log.Warn("No redis configured, using in-process rate-limit store")
		return ratelimit.New(ratelimit.NewMemoryStore(), opts...), nil, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}

	return ratelimit.New(ratelimit.NewRedisStore(rdb), opts...), rdb, nil
}
