package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub/hubtest"
)

func newFixture() (*Gateway, *hubtest.MemoryOutboxRepository, *hubtest.MemorySubscriptionRepository, *hubtest.MemoryWebhookEventRepository) {
	outbox := hubtest.NewMemoryOutboxRepository()
	subs := hubtest.NewMemorySubscriptionRepository()
	events := hubtest.NewMemoryWebhookEventRepository()
	return New(outbox, subs, events), outbox, subs, events
}

func addSubscription(t *testing.T, subs *hubtest.MemorySubscriptionRepository, code string, eventTypes []string, active bool) *hub.WebhookSubscription {
	t.Helper()
	sub, err := subs.Create(context.Background(), hub.SubscriptionCreate{
		TenantID:    "t1",
		Code:        code,
		EventTypes:  eventTypes,
		EndpointURL: "https://hooks.example.com/" + code,
		SecretHash:  "hash",
		Active:      active,
	})
	require.NoError(t, err)
	return sub
}

func TestFanOutCounts(t *testing.T) {
	gw, outbox, subs, events := newFixture()
	ctx := context.Background()

	addSubscription(t, subs, "s1", []string{"order.created"}, true)
	addSubscription(t, subs, "s2", []string{"order.created", "order.updated"}, true)
	addSubscription(t, subs, "inactive", []string{"order.created"}, false)

	var wildcardCalls atomic.Int32
	gw.Subscribe(WildcardEventType, func(ctx context.Context, tenantID string, event hub.DomainEvent) error {
		wildcardCalls.Add(1)
		panic("handler exploded")
	})

	err := gw.HandleDomainEvent(ctx, "t1", hub.DomainEvent{
		EventType:  "order.created",
		EntityType: "order",
		EntityID:   "o-1",
		Payload:    map[string]any{"order_id": "o-1"},
	})
	// The panicking handler surfaces as an error but every sink still ran.
	require.Error(t, err)

	assert.Len(t, outbox.All(), 1, "exactly one outbox item")
	assert.Len(t, events.All(), 2, "one webhook event per matching active subscription")
	assert.Equal(t, int32(1), wildcardCalls.Load(), "wildcard handler invoked once")
}

func TestSinkIsolation(t *testing.T) {
	gw, _, subs, events := newFixture()
	ctx := context.Background()

	addSubscription(t, subs, "s1", []string{"user.created"}, true)

	// Break the outbox sink; webhook fan-out and handlers still run.
	gw.outbox = failingOutbox{}

	var handlerCalls atomic.Int32
	gw.Subscribe("user.created", func(ctx context.Context, tenantID string, event hub.DomainEvent) error {
		handlerCalls.Add(1)
		return nil
	})

	err := gw.HandleDomainEvent(ctx, "t1", hub.DomainEvent{EventType: "user.created", Payload: map[string]any{}})
	require.Error(t, err)

	assert.Len(t, events.All(), 1)
	assert.Equal(t, int32(1), handlerCalls.Load())
}

func TestHandlerIsolation(t *testing.T) {
	gw, _, _, _ := newFixture()
	ctx := context.Background()

	var calls atomic.Int32
	gw.Subscribe("x", func(ctx context.Context, tenantID string, event hub.DomainEvent) error {
		calls.Add(1)
		return errors.New("first handler failed")
	})
	gw.Subscribe("x", func(ctx context.Context, tenantID string, event hub.DomainEvent) error {
		calls.Add(1)
		return nil
	})

	err := gw.HandleDomainEvent(ctx, "t1", hub.DomainEvent{EventType: "x", Payload: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "second handler runs despite first failing")
}

func TestUnsubscribe(t *testing.T) {
	gw, _, _, _ := newFixture()
	ctx := context.Background()

	var calls atomic.Int32
	id := gw.Subscribe("y", func(ctx context.Context, tenantID string, event hub.DomainEvent) error {
		calls.Add(1)
		return nil
	})
	gw.Unsubscribe("y", id)

	require.NoError(t, gw.HandleDomainEvent(ctx, "t1", hub.DomainEvent{EventType: "y", Payload: map[string]any{}}))
	assert.Equal(t, int32(0), calls.Load())
}

func TestLastTriggeredTouched(t *testing.T) {
	gw, _, subs, _ := newFixture()
	ctx := context.Background()

	sub := addSubscription(t, subs, "s1", []string{"z"}, true)
	require.NoError(t, gw.HandleDomainEvent(ctx, "t1", hub.DomainEvent{EventType: "z", Payload: map[string]any{}}))

	stored, err := subs.GetByID(ctx, "t1", sub.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastTriggeredAt)
}

type failingOutbox struct{}

func (failingOutbox) Create(context.Context, hub.OutboxCreate) (*hub.OutboxItem, error) {
	return nil, errors.New("outbox down")
}
func (failingOutbox) ClaimPending(context.Context, int, string) ([]*hub.OutboxItem, error) {
	return nil, errors.New("outbox down")
}
func (failingOutbox) MarkCompleted(context.Context, string, string) error { return errors.New("outbox down") }
func (failingOutbox) MarkFailed(context.Context, string, string, string, *time.Time) error {
	return errors.New("outbox down")
}
func (failingOutbox) Reschedule(context.Context, string, string, string, time.Time) error {
	return errors.New("outbox down")
}
func (failingOutbox) MarkDead(context.Context, string, string, string) error {
	return errors.New("outbox down")
}
