package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/observability"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/ratelimit"
)

// RateLimiter is the slice of the limiter the scheduler needs.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, tenantID, endpointID string, cfg *hub.RateLimitConfig) (ratelimit.Decision, error)
}

// Config tunes a Scheduler.
type Config struct {
	BatchSize int
	// Metrics is optional; nil disables instrument recording.
	Metrics *observability.HubMetrics
}

// Scheduler drains the outbox: it claims due items under a unique worker
// identity and delivers each one over HTTP, driving the per-item state
// machine pending -> claimed -> completed | failed | dead.
type Scheduler struct {
	outbox    hub.OutboxRepository
	endpoints hub.EndpointRepository
	limiter   RateLimiter
	executor  httpexec.Executor
	batchSize int
	workerID  string
	tracer    trace.Tracer
	metrics   *observability.HubMetrics
	now       func() time.Time
}

// New creates a Scheduler. The worker identity is derived from host, pid and
// start time so concurrent pollers are distinguishable in claim records.
func New(outbox hub.OutboxRepository, endpoints hub.EndpointRepository, limiter RateLimiter, executor httpexec.Executor, cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Scheduler{
		outbox:    outbox,
		endpoints: endpoints,
		limiter:   limiter,
		executor:  executor,
		batchSize: batchSize,
		workerID:  fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano()),
		tracer:    otel.Tracer("delivery-scheduler"),
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// WorkerID returns this scheduler's claim identity.
func (s *Scheduler) WorkerID() string { return s.workerID }

// PollAndDeliver claims one batch of due outbox items and processes them
// sequentially in claim order. Per-item failures never abort the remaining
// batch. Returns the number of items attempted.
func (s *Scheduler) PollAndDeliver(ctx context.Context) (int, error) {
	log := logger.NewLogger("delivery-scheduler")

	ctx, span := s.tracer.Start(ctx, "PollAndDeliver", trace.WithAttributes(
		attribute.String("worker.id", s.workerID),
		attribute.Int("batch.size", s.batchSize),
	))
	defer span.End()

	items, err := s.outbox.ClaimPending(ctx, s.batchSize, s.workerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.claimed", len(items)))
	if len(items) == 0 {
		return 0, nil
	}

	log.Info("claimed outbox batch", "worker_id", s.workerID, "count", len(items))

	for _, item := range items {
		s.deliverOne(ctx, item)
	}
	return len(items), nil
}

// deliverOne drives a single claimed item to its next state. Every error is
// absorbed here; secondary bookkeeping failures are logged and swallowed.
func (s *Scheduler) deliverOne(ctx context.Context, item *hub.OutboxItem) {
	log := logger.NewLogger("delivery-scheduler")

	ctx, span := s.tracer.Start(ctx, "DeliverOutboxItem", trace.WithAttributes(
		attribute.String("outbox.id", item.ID),
		attribute.String("outbox.event_type", item.EventType),
		attribute.Int("outbox.retry_count", item.RetryCount),
	))
	defer span.End()

	if s.metrics != nil {
		s.metrics.DeliveriesAttempted.Add(ctx, 1)
	}

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic during delivery: %v", r)
			log.Error("delivery panicked", "outbox_id", item.ID, "reason", reason)
			span.SetStatus(codes.Error, reason)
			s.failItem(ctx, item, hub.RetryPolicy{}, reason)
		}
	}()

	if item.EndpointID == "" {
		s.killItem(ctx, item, "no endpoint configured for outbox item")
		return
	}

	endpoint, err := s.endpoints.GetByID(ctx, item.TenantID, item.EndpointID)
	if err != nil {
		if errors.Is(err, hub.ErrEndpointNotFound) {
			// Permanent misconfiguration: no retry will fix a missing endpoint.
			s.killItem(ctx, item, fmt.Sprintf("endpoint %s not found", item.EndpointID))
			return
		}
		s.failItem(ctx, item, hub.RetryPolicy{}, fmt.Sprintf("endpoint lookup failed: %v", err))
		return
	}
	if !endpoint.Active {
		s.killItem(ctx, item, fmt.Sprintf("endpoint %s is disabled", endpoint.Code))
		return
	}

	if endpoint.RateLimit != nil {
		decision, err := s.limiter.CheckAndConsume(ctx, item.TenantID, endpoint.ID, endpoint.RateLimit)
		if err != nil {
			s.failItem(ctx, item, endpoint.Retry, fmt.Sprintf("rate limit check failed: %v", err))
			return
		}
		if !decision.Allowed {
			// Not a delivery failure: reschedule without touching the retry
			// budget.
			retryAt := s.now().Add(decision.RetryAfter)
			span.SetAttributes(attribute.Bool("outbox.rate_limited", true))
			if s.metrics != nil {
				s.metrics.RateLimitDeferrals.Add(ctx, 1)
			}
			if err := s.outbox.Reschedule(ctx, item.TenantID, item.ID, "rate limited", retryAt); err != nil {
				log.Error("failed to reschedule rate-limited item", "outbox_id", item.ID, "error", err)
			}
			log.Info("delivery deferred by rate limit",
				"outbox_id", item.ID,
				"endpoint_code", endpoint.Code,
				"retry_after_ms", decision.RetryAfter.Milliseconds(),
			)
			return
		}
	}

	resp, err := s.executor.Execute(ctx, endpoint, httpexec.Request{Body: item.Payload}, item.ID)
	if err != nil {
		span.RecordError(err)
		s.failItem(ctx, item, endpoint.Retry, fmt.Sprintf("delivery failed: %v", err))
		return
	}

	if s.metrics != nil {
		s.metrics.DeliveryDuration.Record(ctx, float64(resp.DurationMs)/1000.0)
	}

	if resp.Success() {
		if s.metrics != nil {
			s.metrics.DeliveriesCompleted.Add(ctx, 1)
		}
		if err := s.outbox.MarkCompleted(ctx, item.TenantID, item.ID); err != nil {
			log.Error("failed to mark item completed", "outbox_id", item.ID, "error", err)
		}
		log.Info("outbox item delivered",
			"outbox_id", item.ID,
			"endpoint_code", endpoint.Code,
			"status_code", resp.Status,
			"duration_ms", resp.DurationMs,
		)
		return
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	s.failItem(ctx, item, endpoint.Retry, fmt.Sprintf("HTTP %d after %dms", resp.Status, resp.DurationMs))
}

// failItem consumes one retry attempt and either schedules the next attempt
// with exponential backoff or routes the item to dead once the budget is
// exhausted.
func (s *Scheduler) failItem(ctx context.Context, item *hub.OutboxItem, policy hub.RetryPolicy, reason string) {
	log := logger.NewLogger("delivery-scheduler")

	if item.RetryCount+1 >= maxRetries(policy) {
		s.killItem(ctx, item, fmt.Sprintf("retries exhausted: %s", reason))
		return
	}

	nextRetryAt := s.now().Add(backoffDelay(policy, item.RetryCount))
	if err := s.outbox.MarkFailed(ctx, item.TenantID, item.ID, reason, &nextRetryAt); err != nil {
		log.Error("failed to record delivery failure", "outbox_id", item.ID, "error", err)
		return
	}
	log.Warn("outbox item delivery failed",
		"outbox_id", item.ID,
		"reason", reason,
		"retry_count", item.RetryCount+1,
		"next_retry_at", nextRetryAt,
	)
}

func (s *Scheduler) killItem(ctx context.Context, item *hub.OutboxItem, reason string) {
	log := logger.NewLogger("delivery-scheduler")
	if s.metrics != nil {
		s.metrics.DeliveriesDead.Add(ctx, 1)
	}
	if err := s.outbox.MarkDead(ctx, item.TenantID, item.ID, reason); err != nil {
		log.Error("failed to mark item dead", "outbox_id", item.ID, "error", err)
		return
	}
	log.Warn("outbox item dead-lettered", "outbox_id", item.ID, "reason", reason)
}
