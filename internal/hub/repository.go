package hub

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEndpointNotFound is returned when an endpoint id or code does not
	// resolve to a configured endpoint for the tenant.
	ErrEndpointNotFound = errors.New("integration endpoint not found")

	// ErrSubscriptionNotFound is returned for unknown webhook subscriptions.
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")

	// ErrOutboxItemNotFound is returned when a status transition targets an
	// item that does not exist or is not owned by the tenant.
	ErrOutboxItemNotFound = errors.New("outbox item not found")
)

// OutboxCreate is the input for writing a new outbox row.
type OutboxCreate struct {
	TenantID   string
	EntityType string
	EntityID   string
	EventType  string
	Payload    map[string]any
	EndpointID string
}

// OutboxRepository is the durable store behind the delivery scheduler.
// ClaimPending must atomically tag up to batchSize due pending items with the
// worker id so that no two concurrent pollers receive the same item.
type OutboxRepository interface {
	Create(ctx context.Context, in OutboxCreate) (*OutboxItem, error)
	ClaimPending(ctx context.Context, batchSize int, workerID string) ([]*OutboxItem, error)
	MarkCompleted(ctx context.Context, tenantID, id string) error
	// MarkFailed records a delivery failure and consumes one retry attempt.
	MarkFailed(ctx context.Context, tenantID, id, reason string, nextRetryAt *time.Time) error
	// Reschedule returns an item to pending with a new due time without
	// consuming a retry attempt. Used for rate-limit deferrals.
	Reschedule(ctx context.Context, tenantID, id, reason string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, tenantID, id, reason string) error
}

// EndpointRepository resolves integration endpoints.
type EndpointRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*IntegrationEndpoint, error)
	GetByCode(ctx context.Context, tenantID, code string) (*IntegrationEndpoint, error)
}

// SubscriptionCreate is the input for registering a webhook subscription.
type SubscriptionCreate struct {
	TenantID    string
	Code        string
	EventTypes  []string
	EndpointURL string
	SecretHash  string
	Active      bool
}

// SubscriptionUpdate carries partial updates; nil fields are left unchanged.
type SubscriptionUpdate struct {
	EventTypes  []string
	EndpointURL *string
	Active      *bool
}

// SubscriptionRepository stores webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, in SubscriptionCreate) (*WebhookSubscription, error)
	GetByID(ctx context.Context, tenantID, id string) (*WebhookSubscription, error)
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*WebhookSubscription, error)
	FindByEventType(ctx context.Context, tenantID, eventType string) ([]*WebhookSubscription, error)
	Update(ctx context.Context, tenantID, id string, in SubscriptionUpdate) (*WebhookSubscription, error)
	Delete(ctx context.Context, tenantID, id string) error
	UpdateSecretHash(ctx context.Context, tenantID, id, secretHash string) error
	TouchLastTriggered(ctx context.Context, tenantID, id string, at time.Time) error
}

// WebhookEventRepository stores per-subscription delivery records.
type WebhookEventRepository interface {
	Create(ctx context.Context, ev *WebhookEvent) error
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status WebhookEventStatus, detail string) error
}
