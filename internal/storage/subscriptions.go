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

// SubscriptionRepository stores webhook subscriptions in Postgres
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, tenant_id, code, event_types, endpoint_url, secret_hash,
		active, last_triggered_at, created_at, updated_at`

// Create stores a new webhook subscription
func (r *SubscriptionRepository) Create(ctx context.Context, in hub.SubscriptionCreate) (*hub.WebhookSubscription, error) {
	sub := &hub.WebhookSubscription{
		ID:          uuid.New().String(),
		TenantID:    in.TenantID,
		Code:        in.Code,
		EventTypes:  in.EventTypes,
		EndpointURL: in.EndpointURL,
		SecretHash:  in.SecretHash,
		Active:      in.Active,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	eventTypesJSON, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event types: %w", err)
	}

	query := `
		INSERT INTO webhook_subscriptions (
			id, tenant_id, code, event_types, endpoint_url, secret_hash,
			active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.Exec(ctx, query,
		sub.ID,
		sub.TenantID,
		sub.Code,
		eventTypesJSON,
		sub.EndpointURL,
		sub.SecretHash,
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetByID returns the subscription with the given id
func (r *SubscriptionRepository) GetByID(ctx context.Context, tenantID, id string) (*hub.WebhookSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE id = $1 AND tenant_id = $2
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// List returns subscriptions for a tenant
func (r *SubscriptionRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*hub.WebhookSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE tenant_id = $1
	`
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY created_at DESC`

	return r.getMany(ctx, query, tenantID)
}

// FindByEventType returns active subscriptions listening for the event type,
// including wildcard subscriptions.
func (r *SubscriptionRepository) FindByEventType(ctx context.Context, tenantID, eventType string) ([]*hub.WebhookSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE tenant_id = $1 AND active = true
		  AND (event_types::jsonb ? $2 OR event_types::jsonb ? '*')
		ORDER BY created_at
	`
	return r.getMany(ctx, query, tenantID, eventType)
}

// Update applies a partial update; nil fields are left unchanged
func (r *SubscriptionRepository) Update(ctx context.Context, tenantID, id string, in hub.SubscriptionUpdate) (*hub.WebhookSubscription, error) {
	sub, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if in.EventTypes != nil {
		sub.EventTypes = in.EventTypes
	}
	if in.EndpointURL != nil {
		sub.EndpointURL = *in.EndpointURL
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	sub.UpdatedAt = time.Now()

	eventTypesJSON, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event types: %w", err)
	}

	query := `
		UPDATE webhook_subscriptions
		SET event_types = $3, endpoint_url = $4, active = $5, updated_at = $6
		WHERE id = $1 AND tenant_id = $2
	`
	if err := r.exec(ctx, query, id, tenantID, eventTypesJSON, sub.EndpointURL, sub.Active, sub.UpdatedAt); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete removes a subscription
func (r *SubscriptionRepository) Delete(ctx context.Context, tenantID, id string) error {
	query := `DELETE FROM webhook_subscriptions WHERE id = $1 AND tenant_id = $2`
	return r.exec(ctx, query, id, tenantID)
}

// UpdateSecretHash replaces the stored secret hash after rotation
func (r *SubscriptionRepository) UpdateSecretHash(ctx context.Context, tenantID, id, secretHash string) error {
	query := `
		UPDATE webhook_subscriptions
		SET secret_hash = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, query, id, tenantID, secretHash)
}

// TouchLastTriggered records the most recent fan-out to the subscription
func (r *SubscriptionRepository) TouchLastTriggered(ctx context.Context, tenantID, id string, at time.Time) error {
	query := `
		UPDATE webhook_subscriptions
		SET last_triggered_at = $3
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, query, id, tenantID, at)
}

func (r *SubscriptionRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hub.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepository) getMany(ctx context.Context, query string, args ...any) ([]*hub.WebhookSubscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*hub.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row rowScanner) (*hub.WebhookSubscription, error) {
	var sub hub.WebhookSubscription
	var eventTypesJSON []byte

	err := row.Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.Code,
		&eventTypesJSON,
		&sub.EndpointURL,
		&sub.SecretHash,
		&sub.Active,
		&sub.LastTriggeredAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hub.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventTypesJSON, &sub.EventTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event types: %w", err)
	}
	return &sub, nil
}
