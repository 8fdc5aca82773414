package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub/hubtest"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/ratelimit"
)

func okEndpoint(t *testing.T, id string, rl *hub.RateLimitConfig) (*hub.IntegrationEndpoint, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return &hub.IntegrationEndpoint{
		ID:        id,
		TenantID:  "t1",
		Code:      "ep-" + id,
		URL:       srv.URL,
		Method:    http.MethodPost,
		Active:    true,
		RateLimit: rl,
		Retry:     hub.RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2},
	}, &hits
}

func createItem(t *testing.T, outbox *hubtest.MemoryOutboxRepository, endpointID string) *hub.OutboxItem {
	t.Helper()
	item, err := outbox.Create(context.Background(), hub.OutboxCreate{
		TenantID:   "t1",
		EntityType: "order",
		EntityID:   "o-1",
		EventType:  "order.created",
		Payload:    map[string]any{"order_id": "o-1"},
		EndpointID: endpointID,
	})
	require.NoError(t, err)
	return item
}

func newScheduler(outbox *hubtest.MemoryOutboxRepository, endpoints *hubtest.MemoryEndpointRepository, batchSize int) *Scheduler {
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	executor := httpexec.NewClient(httpexec.NewTokenCache())
	return New(outbox, endpoints, limiter, executor, Config{BatchSize: batchSize})
}

func TestDeliverySuccess(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	ep, hits := okEndpoint(t, "ep1", nil)
	endpoints := hubtest.NewMemoryEndpointRepository(ep)
	item := createItem(t, outbox, ep.ID)

	s := newScheduler(outbox, endpoints, 10)
	n, err := s.PollAndDeliver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), hits.Load())

	stored, ok := outbox.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, hub.OutboxCompleted, stored.Status)
}

func TestMissingEndpointGoesDead(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	endpoints := hubtest.NewMemoryEndpointRepository()
	item := createItem(t, outbox, "ghost")

	s := newScheduler(outbox, endpoints, 10)
	n, err := s.PollAndDeliver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := outbox.Get(item.ID)
	assert.Equal(t, hub.OutboxDead, stored.Status)
	assert.Zero(t, stored.RetryCount, "misconfiguration does not consume retries")
	assert.Contains(t, stored.LastError, "not found")
}

func TestNon2xxSchedulesRetryWithBackoff(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ep := &hub.IntegrationEndpoint{
		ID: "ep1", TenantID: "t1", Code: "flaky", URL: srv.URL, Method: http.MethodPost, Active: true,
		Retry: hub.RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second, Multiplier: 2},
	}
	endpoints := hubtest.NewMemoryEndpointRepository(ep)
	item := createItem(t, outbox, ep.ID)

	s := newScheduler(outbox, endpoints, 10)
	_, err := s.PollAndDeliver(context.Background())
	require.NoError(t, err)

	stored, _ := outbox.Get(item.ID)
	assert.Equal(t, hub.OutboxFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(time.Now()), "next retry is in the future")
	assert.Contains(t, stored.LastError, "HTTP 500")
}

func TestRetryExhaustionGoesDead(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	ep := &hub.IntegrationEndpoint{
		ID: "ep1", TenantID: "t1", Code: "dead-end", URL: srv.URL, Method: http.MethodPost, Active: true,
		Retry: hub.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 1},
	}
	endpoints := hubtest.NewMemoryEndpointRepository(ep)
	item := createItem(t, outbox, ep.ID)

	s := newScheduler(outbox, endpoints, 10)
	for i := 0; i < 3; i++ {
		_, err := s.PollAndDeliver(context.Background())
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond) // let the retry come due
	}

	stored, _ := outbox.Get(item.ID)
	assert.Equal(t, hub.OutboxDead, stored.Status)
	assert.Contains(t, stored.LastError, "retries exhausted")
}

func TestRateLimitDeferralDoesNotConsumeRetries(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	ep, hits := okEndpoint(t, "ep1", &hub.RateLimitConfig{MaxPerMinute: 2})
	endpoints := hubtest.NewMemoryEndpointRepository(ep)

	items := make([]*hub.OutboxItem, 3)
	for i := range items {
		items[i] = createItem(t, outbox, ep.ID)
		time.Sleep(time.Millisecond) // keep claim order stable
	}

	s := newScheduler(outbox, endpoints, 10)
	n, err := s.PollAndDeliver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n, "all claimed items are attempted")
	assert.Equal(t, int32(2), hits.Load(), "only two deliveries pass the per-minute limit")

	completed, deferred := 0, 0
	for _, item := range items {
		stored, _ := outbox.Get(item.ID)
		switch stored.Status {
		case hub.OutboxCompleted:
			completed++
		case hub.OutboxFailed:
			deferred++
			assert.Zero(t, stored.RetryCount, "rate-limit deferral is free")
			require.NotNil(t, stored.NextRetryAt)
			assert.True(t, stored.NextRetryAt.After(time.Now()))
			assert.Equal(t, "rate limited", stored.LastError)
		default:
			t.Fatalf("unexpected status %s", stored.Status)
		}
	}
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, deferred)
}

func TestBatchIsolation(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	ep, hits := okEndpoint(t, "good", nil)
	endpoints := hubtest.NewMemoryEndpointRepository(ep)

	broken := createItem(t, outbox, "ghost")
	time.Sleep(time.Millisecond)
	healthy := createItem(t, outbox, ep.ID)

	s := newScheduler(outbox, endpoints, 10)
	n, err := s.PollAndDeliver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	brokenStored, _ := outbox.Get(broken.ID)
	assert.Equal(t, hub.OutboxDead, brokenStored.Status)
	healthyStored, _ := outbox.Get(healthy.ID)
	assert.Equal(t, hub.OutboxCompleted, healthyStored.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestConcurrentClaimersNeverShareItems(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	ep, hits := okEndpoint(t, "ep1", nil)
	endpoints := hubtest.NewMemoryEndpointRepository(ep)

	const itemCount = 40
	for i := 0; i < itemCount; i++ {
		createItem(t, outbox, ep.ID)
	}

	const claimers = 8
	var wg sync.WaitGroup
	var attempted atomic.Int32
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newScheduler(outbox, endpoints, 10)
			for {
				n, err := s.PollAndDeliver(context.Background())
				if err != nil || n == 0 {
					return
				}
				attempted.Add(int32(n))
			}
		}()
	}
	wg.Wait()

	// Every item processed exactly once across all claimers.
	assert.Equal(t, int32(itemCount), attempted.Load())
	assert.Equal(t, int32(itemCount), hits.Load())
	for _, item := range outbox.All() {
		assert.Equal(t, hub.OutboxCompleted, item.Status)
	}
}

func TestWorkerIDIsUnique(t *testing.T) {
	outbox := hubtest.NewMemoryOutboxRepository()
	endpoints := hubtest.NewMemoryEndpointRepository()
	a := newScheduler(outbox, endpoints, 10)
	b := newScheduler(outbox, endpoints, 10)
	assert.NotEqual(t, a.WorkerID(), b.WorkerID())
}
