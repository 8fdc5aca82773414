package workers

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/jobs"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/webhook"
)

// WebhookWorker dispatches one event to all matching webhook subscriptions.
type WebhookWorker struct {
	river.WorkerDefaults[jobs.DispatchWebhookArgs]
	service *webhook.Service
}

// NewWebhookWorker creates a new webhook dispatch worker
func NewWebhookWorker(service *webhook.Service) *WebhookWorker {
	return &WebhookWorker{service: service}
}

// Work processes the webhook dispatch job
func (w *WebhookWorker) Work(ctx context.Context, job *river.Job[jobs.DispatchWebhookArgs]) error {
	log := logger.NewLogger("webhook-worker")
	args := job.Args

	result, err := w.service.DispatchEvent(ctx, args.TenantID, args.EventType, args.Payload)
	if err != nil {
		log.Error("Webhook dispatch failed",
			"job_id", job.ID,
			"tenant_id", args.TenantID,
			"event_type", args.EventType,
			"error", err,
		)
		return err
	}

	log.Info("Webhook dispatch completed",
		"job_id", job.ID,
		"tenant_id", args.TenantID,
		"event_type", args.EventType,
		"matched", result.Matched,
		"delivered", result.Delivered,
		"failed", result.Failed,
	)

	// Failed deliveries were recorded on their webhook-event rows; returning
	// an error would re-dispatch to subscriptions that already succeeded.
	if result.Failed > 0 {
		log.Warn("Some webhook deliveries failed",
			"job_id", job.ID,
			"failed", result.Failed,
			"event_type", args.EventType,
		)
	}
	return nil
}
