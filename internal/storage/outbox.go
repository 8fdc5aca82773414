package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

// OutboxRepository is the Postgres-backed outbox store
type OutboxRepository struct {
	db *pgxpool.Pool
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `id, tenant_id, entity_type, entity_id, event_type, payload, status,
		endpoint_id, retry_count, next_retry_at, claimed_by, last_error, created_at, updated_at`

// Create stores a new pending outbox item
func (r *OutboxRepository) Create(ctx context.Context, in hub.OutboxCreate) (*hub.OutboxItem, error) {
	item := &hub.OutboxItem{
		ID:         uuid.New().String(),
		TenantID:   in.TenantID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		EventType:  in.EventType,
		Payload:    in.Payload,
		Status:     hub.OutboxPending,
		EndpointID: in.EndpointID,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO outbox_items (
			id, tenant_id, entity_type, entity_id, event_type, payload, status,
			endpoint_id, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.Exec(ctx, query,
		item.ID,
		item.TenantID,
		item.EntityType,
		item.EntityID,
		item.EventType,
		payloadJSON,
		item.Status,
		nullableString(item.EndpointID),
		item.RetryCount,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ClaimPending atomically claims up to batchSize due items for one worker.
// SKIP LOCKED keeps concurrent pollers from claiming the same rows.
func (r *OutboxRepository) ClaimPending(ctx context.Context, batchSize int, workerID string) ([]*hub.OutboxItem, error) {
	query := `
		UPDATE outbox_items
		SET status = 'claimed', claimed_by = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM outbox_items
			WHERE (status = 'pending' OR status = 'failed')
			  AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := r.db.Query(ctx, query, workerID, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*hub.OutboxItem
	for rows.Next() {
		item, err := scanOutboxItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkCompleted transitions a claimed item to completed
func (r *OutboxRepository) MarkCompleted(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE outbox_items
		SET status = 'completed', last_error = '', updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, query, id, tenantID)
}

// MarkFailed records a delivery failure and consumes one retry attempt
func (r *OutboxRepository) MarkFailed(ctx context.Context, tenantID, id, reason string, nextRetryAt *time.Time) error {
	query := `
		UPDATE outbox_items
		SET status = 'failed', claimed_by = '', last_error = $3, next_retry_at = $4,
		    retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, query, id, tenantID, reason, nextRetryAt)
}

// Reschedule returns an item to pending without consuming a retry attempt
func (r *OutboxRepository) Reschedule(ctx context.Context, tenantID, id, reason string, nextRetryAt time.Time) error {
	query := `
		UPDATE outbox_items
		SET status = 'pending', claimed_by = '', last_error = $3, next_retry_at = $4,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, query, id, tenantID, reason, nextRetryAt)
}

// MarkDead transitions an item to the terminal dead status
func (r *OutboxRepository) MarkDead(ctx context.Context, tenantID, id, reason string) error {
	query := `
		UPDATE outbox_items
		SET status = 'dead', claimed_by = '', last_error = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, query, id, tenantID, reason)
}

func (r *OutboxRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hub.ErrOutboxItemNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxItem(row rowScanner) (*hub.OutboxItem, error) {
	var item hub.OutboxItem
	var payloadJSON []byte
	var endpointID *string

	err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.EntityType,
		&item.EntityID,
		&item.EventType,
		&payloadJSON,
		&item.Status,
		&endpointID,
		&item.RetryCount,
		&item.NextRetryAt,
		&item.ClaimedBy,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hub.ErrOutboxItemNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if endpointID != nil {
		item.EndpointID = *endpointID
	}
	return &item, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
