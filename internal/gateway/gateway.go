package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// WildcardEventType subscribes a handler to every event type.
const WildcardEventType = "*"

// Handler is an in-process subscriber invoked synchronously during fan-out.
type Handler func(ctx context.Context, tenantID string, event hub.DomainEvent) error

// Gateway fans domain events out to the outbox, to webhook-event rows and to
// in-process handlers. Each sink is best-effort: one sink failing never
// blocks the others.
type Gateway struct {
	outbox hub.OutboxRepository
	subs   hub.SubscriptionRepository
	events hub.WebhookEventRepository

	mu       sync.RWMutex
	handlers map[string]map[string]Handler // event type -> registration id -> handler

	now func() time.Time
}

// New creates a Gateway.
func New(outbox hub.OutboxRepository, subs hub.SubscriptionRepository, events hub.WebhookEventRepository) *Gateway {
	return &Gateway{
		outbox:   outbox,
		subs:     subs,
		events:   events,
		handlers: make(map[string]map[string]Handler),
		now:      time.Now,
	}
}

// Subscribe registers an in-process handler for the exact event type, or for
// every type via WildcardEventType. Returns a registration id for Unsubscribe.
func (g *Gateway) Subscribe(eventType string, handler Handler) string {
	id := uuid.New().String()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handlers[eventType] == nil {
		g.handlers[eventType] = make(map[string]Handler)
	}
	g.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a previously registered handler.
func (g *Gateway) Unsubscribe(eventType, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers[eventType], id)
	if len(g.handlers[eventType]) == 0 {
		delete(g.handlers, eventType)
	}
}

// HandleDomainEvent performs the three-way fan-out. Sink failures are
// collected and returned joined for the caller to log; all sinks always run.
func (g *Gateway) HandleDomainEvent(ctx context.Context, tenantID string, event hub.DomainEvent) error {
	log := logger.NewLogger("event-gateway")

	var errs []error

	if err := g.writeOutbox(ctx, tenantID, event); err != nil {
		log.Error("failed to write outbox item",
			"tenant_id", tenantID, "event_type", event.EventType, "error", err)
		errs = append(errs, fmt.Errorf("outbox: %w", err))
	}

	if err := g.fanOutWebhooks(ctx, tenantID, event); err != nil {
		log.Error("failed to fan out webhook events",
			"tenant_id", tenantID, "event_type", event.EventType, "error", err)
		errs = append(errs, fmt.Errorf("webhooks: %w", err))
	}

	if err := g.invokeHandlers(ctx, tenantID, event); err != nil {
		log.Warn("in-process handler errors",
			"tenant_id", tenantID, "event_type", event.EventType, "error", err)
		errs = append(errs, fmt.Errorf("handlers: %w", err))
	}

	return errors.Join(errs...)
}

func (g *Gateway) writeOutbox(ctx context.Context, tenantID string, event hub.DomainEvent) error {
	_, err := g.outbox.Create(ctx, hub.OutboxCreate{
		TenantID:   tenantID,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		EventType:  event.EventType,
		Payload:    event.Payload,
		EndpointID: event.EndpointID,
	})
	return err
}

func (g *Gateway) fanOutWebhooks(ctx context.Context, tenantID string, event hub.DomainEvent) error {
	subs, err := g.subs.FindByEventType(ctx, tenantID, event.EventType)
	if err != nil {
		return err
	}

	log := logger.NewLogger("event-gateway")
	var errs []error
	for _, sub := range subs {
		ev := &hub.WebhookEvent{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			EventType:      event.EventType,
			Payload:        event.Payload,
			Status:         hub.WebhookEventPending,
			CreatedAt:      g.now(),
		}
		if err := g.events.Create(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if err := g.subs.TouchLastTriggered(ctx, tenantID, sub.ID, g.now()); err != nil {
			log.Warn("failed to touch last triggered", "subscription_id", sub.ID, "error", err)
		}
	}
	return errors.Join(errs...)
}

// invokeHandlers runs exact-type handlers then wildcard handlers, each in
// isolation: a panicking or failing handler does not stop the rest.
func (g *Gateway) invokeHandlers(ctx context.Context, tenantID string, event hub.DomainEvent) error {
	g.mu.RLock()
	var handlers []Handler
	for _, h := range g.handlers[event.EventType] {
		handlers = append(handlers, h)
	}
	if event.EventType != WildcardEventType {
		for _, h := range g.handlers[WildcardEventType] {
			handlers = append(handlers, h)
		}
	}
	g.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := g.invokeOne(ctx, tenantID, event, handler); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) invokeOne(ctx context.Context, tenantID string, event hub.DomainEvent, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked on %s: %v", event.EventType, r)
		}
	}()
	return handler(ctx, tenantID, event)
}
