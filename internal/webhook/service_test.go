package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub/hubtest"
)

type receivedRequest struct {
	body      []byte
	signature string
	event     string
	eventID   string
}

func newDispatchFixture(t *testing.T, status int) (*Service, *hubtest.MemorySubscriptionRepository, *hubtest.MemoryWebhookEventRepository, *[]receivedRequest, string) {
	t.Helper()

	var mu sync.Mutex
	received := &[]receivedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		*received = append(*received, receivedRequest{
			body:      body,
			signature: r.Header.Get(HeaderSignature),
			event:     r.Header.Get(HeaderEvent),
			eventID:   r.Header.Get(HeaderEventID),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	subs := hubtest.NewMemorySubscriptionRepository()
	events := hubtest.NewMemoryWebhookEventRepository()
	svc := NewService(subs, events, httpexec.NewClient(httpexec.NewTokenCache()))
	return svc, subs, events, received, srv.URL
}

func TestCreateReturnsSecretOnce(t *testing.T) {
	svc, subs, _, _, url := newDispatchFixture(t, http.StatusOK)

	created, err := svc.Create(context.Background(), "t1", CreateInput{
		Code:        "billing-hook",
		EventTypes:  []string{"invoice.created"},
		EndpointURL: url,
		Active:      true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.Secret)
	assert.Equal(t, HashSecret(created.Secret), created.Subscription.SecretHash)

	// The stored record never carries the plaintext.
	stored, err := subs.GetByID(context.Background(), "t1", created.Subscription.ID)
	require.NoError(t, err)
	assert.NotEqual(t, created.Secret, stored.SecretHash)
}

func TestRotateSecretInvalidatesOldOne(t *testing.T) {
	svc, subs, _, _, url := newDispatchFixture(t, http.StatusOK)
	ctx := context.Background()

	created, err := svc.Create(ctx, "t1", CreateInput{Code: "c1", EventTypes: []string{"x"}, EndpointURL: url, Active: true})
	require.NoError(t, err)

	rotated, err := svc.RotateSecret(ctx, "t1", created.Subscription.ID)
	require.NoError(t, err)
	assert.NotEqual(t, created.Secret, rotated)

	stored, err := subs.GetByID(ctx, "t1", created.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, HashSecret(rotated), stored.SecretHash)

	// Rotating an unknown subscription is an error.
	_, err = svc.RotateSecret(ctx, "t1", "missing")
	assert.ErrorIs(t, err, hub.ErrSubscriptionNotFound)
}

func TestDispatchEventSignsAndMarksProcessed(t *testing.T) {
	svc, subs, events, received, url := newDispatchFixture(t, http.StatusOK)
	ctx := context.Background()

	created, err := svc.Create(ctx, "t1", CreateInput{
		Code:        "orders",
		EventTypes:  []string{"order.created"},
		EndpointURL: url,
		Active:      true,
	})
	require.NoError(t, err)

	payload := map[string]any{"order_id": "o-1"}
	result, err := svc.DispatchEvent(ctx, "t1", "order.created", payload)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, *received, 1)
	got := (*received)[0]
	assert.Equal(t, "order.created", got.event)
	assert.NotEmpty(t, got.eventID)

	// The signature verifies against the stored hash over the exact bytes sent.
	canonical, _ := json.Marshal(payload)
	assert.True(t, VerifySignature(canonical, got.signature, created.Subscription.SecretHash))

	stored := events.All()
	require.Len(t, stored, 1)
	assert.Equal(t, hub.WebhookEventProcessed, stored[0].Status)
	assert.NotNil(t, stored[0].TriggeredAt)

	sub, err := subs.GetByID(ctx, "t1", created.Subscription.ID)
	require.NoError(t, err)
	assert.NotNil(t, sub.LastTriggeredAt)
}

func TestDispatchEventMarksFailedOnNon2xx(t *testing.T) {
	svc, _, events, _, url := newDispatchFixture(t, http.StatusServiceUnavailable)
	ctx := context.Background()

	_, err := svc.Create(ctx, "t1", CreateInput{Code: "c1", EventTypes: []string{"x.y"}, EndpointURL: url, Active: true})
	require.NoError(t, err)

	result, err := svc.DispatchEvent(ctx, "t1", "x.y", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Failed)

	stored := events.All()
	require.Len(t, stored, 1)
	assert.Equal(t, hub.WebhookEventFailed, stored[0].Status)
	assert.Contains(t, stored[0].StatusDetail, "503")
}

func TestDispatchEventSkipsInactiveAndNonMatching(t *testing.T) {
	svc, _, _, received, url := newDispatchFixture(t, http.StatusOK)
	ctx := context.Background()

	_, err := svc.Create(ctx, "t1", CreateInput{Code: "inactive", EventTypes: []string{"a.b"}, EndpointURL: url, Active: false})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "t1", CreateInput{Code: "other", EventTypes: []string{"c.d"}, EndpointURL: url, Active: true})
	require.NoError(t, err)

	result, err := svc.DispatchEvent(ctx, "t1", "a.b", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Matched)
	assert.Empty(t, *received)
}

func TestCRUDIsTenantScoped(t *testing.T) {
	svc, _, _, _, url := newDispatchFixture(t, http.StatusOK)
	ctx := context.Background()

	created, err := svc.Create(ctx, "t1", CreateInput{Code: "c1", EventTypes: []string{"x"}, EndpointURL: url, Active: true})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "t2", created.Subscription.ID)
	assert.ErrorIs(t, err, hub.ErrSubscriptionNotFound)

	err = svc.Delete(ctx, "t2", created.Subscription.ID)
	assert.ErrorIs(t, err, hub.ErrSubscriptionNotFound)

	list, err := svc.List(ctx, "t1", false)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
