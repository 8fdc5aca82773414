// Package hubtest provides in-memory repository implementations for tests.
package hubtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

// MemoryOutboxRepository is a mutex-guarded hub.OutboxRepository.
type MemoryOutboxRepository struct {
	mu    sync.Mutex
	items map[string]*hub.OutboxItem
	now   func() time.Time
}

// NewMemoryOutboxRepository creates an empty repository.
func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{items: make(map[string]*hub.OutboxItem), now: time.Now}
}

// Create implements hub.OutboxRepository.
func (r *MemoryOutboxRepository) Create(_ context.Context, in hub.OutboxCreate) (*hub.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := &hub.OutboxItem{
		ID:         uuid.New().String(),
		TenantID:   in.TenantID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		EventType:  in.EventType,
		Payload:    in.Payload,
		Status:     hub.OutboxPending,
		EndpointID: in.EndpointID,
		CreatedAt:  r.now(),
		UpdatedAt:  r.now(),
	}
	r.items[item.ID] = item
	return cloneItem(item), nil
}

// ClaimPending implements hub.OutboxRepository. Items are claimed in creation
// order and an item already claimed by another worker is never handed out.
func (r *MemoryOutboxRepository) ClaimPending(_ context.Context, batchSize int, workerID string) ([]*hub.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	due := make([]*hub.OutboxItem, 0)
	for _, item := range r.items {
		ready := item.Status == hub.OutboxPending ||
			(item.Status == hub.OutboxFailed && (item.NextRetryAt == nil || !item.NextRetryAt.After(now)))
		if ready {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	if len(due) > batchSize {
		due = due[:batchSize]
	}

	claimed := make([]*hub.OutboxItem, 0, len(due))
	for _, item := range due {
		item.Status = hub.OutboxClaimed
		item.ClaimedBy = workerID
		item.UpdatedAt = now
		claimed = append(claimed, cloneItem(item))
	}
	return claimed, nil
}

// MarkCompleted implements hub.OutboxRepository.
func (r *MemoryOutboxRepository) MarkCompleted(_ context.Context, tenantID, id string) error {
	return r.transition(tenantID, id, func(item *hub.OutboxItem) {
		item.Status = hub.OutboxCompleted
		item.ClaimedBy = ""
	})
}

// MarkFailed implements hub.OutboxRepository. Consumes one retry attempt.
func (r *MemoryOutboxRepository) MarkFailed(_ context.Context, tenantID, id, reason string, nextRetryAt *time.Time) error {
	return r.transition(tenantID, id, func(item *hub.OutboxItem) {
		item.Status = hub.OutboxFailed
		item.RetryCount++
		item.LastError = reason
		item.NextRetryAt = nextRetryAt
		item.ClaimedBy = ""
	})
}

// Reschedule implements hub.OutboxRepository. Does not consume a retry.
func (r *MemoryOutboxRepository) Reschedule(_ context.Context, tenantID, id, reason string, nextRetryAt time.Time) error {
	return r.transition(tenantID, id, func(item *hub.OutboxItem) {
		item.Status = hub.OutboxFailed
		item.LastError = reason
		item.NextRetryAt = &nextRetryAt
		item.ClaimedBy = ""
	})
}

// MarkDead implements hub.OutboxRepository.
func (r *MemoryOutboxRepository) MarkDead(_ context.Context, tenantID, id, reason string) error {
	return r.transition(tenantID, id, func(item *hub.OutboxItem) {
		item.Status = hub.OutboxDead
		item.LastError = reason
		item.ClaimedBy = ""
	})
}

// Get returns a copy of the stored item for assertions.
func (r *MemoryOutboxRepository) Get(id string) (*hub.OutboxItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return cloneItem(item), true
}

// All returns copies of every stored item.
func (r *MemoryOutboxRepository) All() []*hub.OutboxItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*hub.OutboxItem, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, cloneItem(item))
	}
	return out
}

func (r *MemoryOutboxRepository) transition(tenantID, id string, apply func(*hub.OutboxItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.TenantID != tenantID {
		return hub.ErrOutboxItemNotFound
	}
	apply(item)
	item.UpdatedAt = r.now()
	return nil
}

func cloneItem(item *hub.OutboxItem) *hub.OutboxItem {
	c := *item
	return &c
}

// MemoryEndpointRepository is a fixed-map hub.EndpointRepository.
type MemoryEndpointRepository struct {
	mu        sync.Mutex
	endpoints map[string]*hub.IntegrationEndpoint
}

// NewMemoryEndpointRepository creates a repository holding the given endpoints.
func NewMemoryEndpointRepository(endpoints ...*hub.IntegrationEndpoint) *MemoryEndpointRepository {
	r := &MemoryEndpointRepository{endpoints: make(map[string]*hub.IntegrationEndpoint)}
	for _, ep := range endpoints {
		r.endpoints[ep.ID] = ep
	}
	return r
}

// Add registers another endpoint.
func (r *MemoryEndpointRepository) Add(ep *hub.IntegrationEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = ep
}

// GetByID implements hub.EndpointRepository.
func (r *MemoryEndpointRepository) GetByID(_ context.Context, tenantID, id string) (*hub.IntegrationEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok || ep.TenantID != tenantID {
		return nil, hub.ErrEndpointNotFound
	}
	return ep, nil
}

// GetByCode implements hub.EndpointRepository.
func (r *MemoryEndpointRepository) GetByCode(_ context.Context, tenantID, code string) (*hub.IntegrationEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range r.endpoints {
		if ep.TenantID == tenantID && ep.Code == code {
			return ep, nil
		}
	}
	return nil, hub.ErrEndpointNotFound
}

// MemorySubscriptionRepository is a mutex-guarded hub.SubscriptionRepository.
type MemorySubscriptionRepository struct {
	mu   sync.Mutex
	subs map[string]*hub.WebhookSubscription
	now  func() time.Time
}

// NewMemorySubscriptionRepository creates an empty repository.
func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subs: make(map[string]*hub.WebhookSubscription), now: time.Now}
}

// Create implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) Create(_ context.Context, in hub.SubscriptionCreate) (*hub.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.subs {
		if s.TenantID == in.TenantID && s.Code == in.Code {
			return nil, fmt.Errorf("subscription code %q already exists", in.Code)
		}
	}
	sub := &hub.WebhookSubscription{
		ID:          uuid.New().String(),
		TenantID:    in.TenantID,
		Code:        in.Code,
		EventTypes:  in.EventTypes,
		EndpointURL: in.EndpointURL,
		SecretHash:  in.SecretHash,
		Active:      in.Active,
		CreatedAt:   r.now(),
		UpdatedAt:   r.now(),
	}
	r.subs[sub.ID] = sub
	return cloneSub(sub), nil
}

// GetByID implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) GetByID(_ context.Context, tenantID, id string) (*hub.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.TenantID != tenantID {
		return nil, hub.ErrSubscriptionNotFound
	}
	return cloneSub(sub), nil
}

// List implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) List(_ context.Context, tenantID string, activeOnly bool) ([]*hub.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*hub.WebhookSubscription, 0)
	for _, sub := range r.subs {
		if sub.TenantID != tenantID || (activeOnly && !sub.Active) {
			continue
		}
		out = append(out, cloneSub(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindByEventType implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) FindByEventType(_ context.Context, tenantID, eventType string) ([]*hub.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*hub.WebhookSubscription, 0)
	for _, sub := range r.subs {
		if sub.TenantID == tenantID && sub.Active && sub.Matches(eventType) {
			out = append(out, cloneSub(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) Update(_ context.Context, tenantID, id string, in hub.SubscriptionUpdate) (*hub.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.TenantID != tenantID {
		return nil, hub.ErrSubscriptionNotFound
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
	sub.UpdatedAt = r.now()
	return cloneSub(sub), nil
}

// Delete implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.TenantID != tenantID {
		return hub.ErrSubscriptionNotFound
	}
	delete(r.subs, id)
	return nil
}

// UpdateSecretHash implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) UpdateSecretHash(_ context.Context, tenantID, id, secretHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.TenantID != tenantID {
		return hub.ErrSubscriptionNotFound
	}
	sub.SecretHash = secretHash
	sub.UpdatedAt = r.now()
	return nil
}

// TouchLastTriggered implements hub.SubscriptionRepository.
func (r *MemorySubscriptionRepository) TouchLastTriggered(_ context.Context, tenantID, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.TenantID != tenantID {
		return hub.ErrSubscriptionNotFound
	}
	sub.LastTriggeredAt = &at
	return nil
}

func cloneSub(sub *hub.WebhookSubscription) *hub.WebhookSubscription {
	c := *sub
	return &c
}

// MemoryWebhookEventRepository is a mutex-guarded hub.WebhookEventRepository.
type MemoryWebhookEventRepository struct {
	mu     sync.Mutex
	events map[string]*hub.WebhookEvent
	order  []string
}

// NewMemoryWebhookEventRepository creates an empty repository.
func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{events: make(map[string]*hub.WebhookEvent)}
}

// Create implements hub.WebhookEventRepository.
func (r *MemoryWebhookEventRepository) Create(_ context.Context, ev *hub.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	c := *ev
	r.events[ev.ID] = &c
	r.order = append(r.order, ev.ID)
	return nil
}

// MarkProcessed implements hub.WebhookEventRepository.
func (r *MemoryWebhookEventRepository) MarkProcessed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return fmt.Errorf("webhook event %s not found", id)
	}
	ev.Status = hub.WebhookEventProcessed
	ev.TriggeredAt = &at
	return nil
}

// UpdateStatus implements hub.WebhookEventRepository.
func (r *MemoryWebhookEventRepository) UpdateStatus(_ context.Context, id string, status hub.WebhookEventStatus, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return fmt.Errorf("webhook event %s not found", id)
	}
	ev.Status = status
	ev.StatusDetail = detail
	return nil
}

// All returns copies of stored events in creation order.
func (r *MemoryWebhookEventRepository) All() []*hub.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*hub.WebhookEvent, 0, len(r.order))
	for _, id := range r.order {
		c := *r.events[id]
		out = append(out, &c)
	}
	return out
}
