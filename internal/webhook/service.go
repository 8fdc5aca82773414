package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// Outbound webhook headers.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature-256"
	HeaderEventID   = "X-Webhook-Id"
)

// CreateInput describes a new webhook subscription.
type CreateInput struct {
	Code        string
	EventTypes  []string
	EndpointURL string
	Active      bool
}

// Created pairs a stored subscription with the plaintext secret. The secret
// is not retrievable afterwards.
type Created struct {
	Subscription *hub.WebhookSubscription
	Secret       string
}

// DispatchResult summarizes one dispatch fan-out.
type DispatchResult struct {
	Matched   int
	Delivered int
	Failed    int
}

// Service manages webhook subscriptions and dispatches events to them.
type Service struct {
	subs     hub.SubscriptionRepository
	events   hub.WebhookEventRepository
	executor httpexec.Executor
	now      func() time.Time
}

// NewService creates a webhook Service.
func NewService(subs hub.SubscriptionRepository, events hub.WebhookEventRepository, executor httpexec.Executor) *Service {
	return &Service{subs: subs, events: events, executor: executor, now: time.Now}
}

// Create registers a subscription, generating its signing secret. Only the
// secret hash is persisted; the plaintext is returned exactly once.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*Created, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.Create(ctx, hub.SubscriptionCreate{
		TenantID:    tenantID,
		Code:        in.Code,
		EventTypes:  in.EventTypes,
		EndpointURL: in.EndpointURL,
		SecretHash:  HashSecret(secret),
		Active:      in.Active,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return &Created{Subscription: sub, Secret: secret}, nil
}

// Get returns a subscription scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*hub.WebhookSubscription, error) {
	return s.subs.GetByID(ctx, tenantID, id)
}

// List returns the tenant's subscriptions.
func (s *Service) List(ctx context.Context, tenantID string, activeOnly bool) ([]*hub.WebhookSubscription, error) {
	return s.subs.List(ctx, tenantID, activeOnly)
}

// Update applies a partial update to a subscription.
func (s *Service) Update(ctx context.Context, tenantID, id string, in hub.SubscriptionUpdate) (*hub.WebhookSubscription, error) {
	return s.subs.Update(ctx, tenantID, id, in)
}

// Delete removes a subscription.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	return s.subs.Delete(ctx, tenantID, id)
}

// RotateSecret replaces the subscription's signing secret and returns the new
// plaintext once. Deliveries signed with the previous secret stop verifying.
func (s *Service) RotateSecret(ctx context.Context, tenantID, id string) (string, error) {
	if _, err := s.subs.GetByID(ctx, tenantID, id); err != nil {
		return "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := s.subs.UpdateSecretHash(ctx, tenantID, id, HashSecret(secret)); err != nil {
		return "", fmt.Errorf("failed to rotate secret: %w", err)
	}
	return secret, nil
}

// DispatchEvent delivers the event to every matching active subscription.
// Each delivery is isolated: a failure records the webhook event as failed
// and moves on to the next subscription.
func (s *Service) DispatchEvent(ctx context.Context, tenantID, eventType string, payload map[string]any) (*DispatchResult, error) {
	log := logger.NewLogger("webhook-dispatch")

	subs, err := s.subs.FindByEventType(ctx, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscriptions for %s: %w", eventType, err)
	}

	result := &DispatchResult{Matched: len(subs)}
	for _, sub := range subs {
		if err := s.deliver(ctx, sub, eventType, payload); err != nil {
			result.Failed++
			log.Warn("webhook delivery failed",
				"subscription_id", sub.ID,
				"event_type", eventType,
				"error", err,
			)
			continue
		}
		result.Delivered++
	}
	return result, nil
}

func (s *Service) deliver(ctx context.Context, sub *hub.WebhookSubscription, eventType string, payload map[string]any) error {
	now := s.now()
	ev := &hub.WebhookEvent{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Payload:        payload,
		Status:         hub.WebhookEventPending,
		CreatedAt:      now,
	}
	if err := s.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		_ = s.events.UpdateStatus(ctx, ev.ID, hub.WebhookEventFailed, fmt.Sprintf("payload not serializable: %v", err))
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	endpoint := VirtualEndpoint(sub)
	resp, err := s.executor.Execute(ctx, endpoint, httpexec.Request{
		Body: payload,
		Headers: map[string]string{
			HeaderEvent:     eventType,
			HeaderSignature: Sign(body, sub.SecretHash),
			HeaderEventID:   ev.ID,
		},
	}, ev.ID)

	triggered := s.now()
	if touchErr := s.subs.TouchLastTriggered(ctx, sub.TenantID, sub.ID, triggered); touchErr != nil {
		logger.NewLogger("webhook-dispatch").Warn("failed to touch last triggered",
			"subscription_id", sub.ID, "error", touchErr)
	}

	if err != nil {
		_ = s.events.UpdateStatus(ctx, ev.ID, hub.WebhookEventFailed, err.Error())
		return err
	}
	if !resp.Success() {
		detail := fmt.Sprintf("HTTP %d", resp.Status)
		_ = s.events.UpdateStatus(ctx, ev.ID, hub.WebhookEventFailed, detail)
		return fmt.Errorf("webhook delivery returned %s", detail)
	}

	if err := s.events.MarkProcessed(ctx, ev.ID, triggered); err != nil {
		logger.NewLogger("webhook-dispatch").Warn("failed to mark webhook event processed",
			"event_id", ev.ID, "error", err)
	}
	return nil
}

// VirtualEndpoint builds the transient endpoint value used to deliver to a
// subscription. It is deliberately not a persisted IntegrationEndpoint.
func VirtualEndpoint(sub *hub.WebhookSubscription) *hub.IntegrationEndpoint {
	return &hub.IntegrationEndpoint{
		ID:       "webhook:" + sub.ID,
		TenantID: sub.TenantID,
		Code:     "webhook:" + sub.Code,
		URL:      sub.EndpointURL,
		Method:   http.MethodPost,
		AuthType: hub.AuthNone,
		Timeout:  30 * time.Second,
		Active:   true,
	}
}
