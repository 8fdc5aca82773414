package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

// WebhookEventRepository stores per-subscription delivery records in Postgres
type WebhookEventRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create stores a new webhook event record
func (r *WebhookEventRepository) Create(ctx context.Context, ev *hub.WebhookEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if ev.Status == "" {
		ev.Status = hub.WebhookEventPending
	}

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO webhook_events (
			id, subscription_id, event_type, payload, status, status_detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		ev.ID,
		ev.SubscriptionID,
		ev.EventType,
		payloadJSON,
		ev.Status,
		ev.StatusDetail,
		ev.CreatedAt,
	)
	return err
}

// MarkProcessed records a successful delivery
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE webhook_events
		SET status = 'processed', status_detail = '', triggered_at = $2
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, at)
	return err
}

// UpdateStatus records a delivery outcome with detail
func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, id string, status hub.WebhookEventStatus, detail string) error {
	query := `
		UPDATE webhook_events
		SET status = $2, status_detail = $3
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, status, detail)
	return err
}
