package httpexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

func TestExecuteAppliesHeadersAndBody(t *testing.T) {
	var got struct {
		contentType   string
		apiKey        string
		correlationID string
		body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.contentType = r.Header.Get("Content-Type")
		got.apiKey = r.Header.Get("X-Api-Key")
		got.correlationID = r.Header.Get("X-Correlation-Id")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("X-Server", "test")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	endpoint := &hub.IntegrationEndpoint{
		Code:     "crm",
		URL:      srv.URL,
		Method:   http.MethodPost,
		AuthType: hub.AuthAPIKey,
		Auth:     hub.AuthConfig{HeaderName: "X-Api-Key", APIKey: "sekret"},
		Timeout:  5 * time.Second,
	}

	client := NewClient(NewTokenCache())
	resp, err := client.Execute(context.Background(), endpoint, Request{
		Body: map[string]any{"order_id": "o-1"},
	}, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, resp.Success())
	assert.JSONEq(t, `{"ok":true}`, resp.Body)
	assert.Equal(t, "test", resp.Headers["X-Server"])
	assert.GreaterOrEqual(t, resp.DurationMs, int64(0))

	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "sekret", got.apiKey)
	assert.Equal(t, "corr-1", got.correlationID)
	assert.Equal(t, "o-1", got.body["order_id"])
}

func TestExecuteQueryParamsAndAPIKeyQueryAuth(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := &hub.IntegrationEndpoint{
		Code:     "search",
		URL:      srv.URL,
		Method:   http.MethodGet,
		AuthType: hub.AuthAPIKey,
		Auth:     hub.AuthConfig{QueryParam: "api_key", APIKey: "k1"},
	}

	client := NewClient(NewTokenCache())
	resp, err := client.Execute(context.Background(), endpoint, Request{
		QueryParams: map[string]string{"q": "invoices"},
	}, "")
	require.NoError(t, err)
	require.True(t, resp.Success())

	assert.Contains(t, rawQuery, "q=invoices")
	assert.Contains(t, rawQuery, "api_key=k1")
}

func TestExecuteNon2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	endpoint := &hub.IntegrationEndpoint{Code: "flaky", URL: srv.URL, Method: http.MethodPost}

	client := NewClient(NewTokenCache())
	resp, err := client.Execute(context.Background(), endpoint, Request{Body: map[string]any{}}, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.False(t, resp.Success())
}

func TestExecuteNetworkErrorReturnsError(t *testing.T) {
	endpoint := &hub.IntegrationEndpoint{
		Code:    "gone",
		URL:     "http://127.0.0.1:1", // nothing listens here
		Method:  http.MethodPost,
		Timeout: time.Second,
	}

	client := NewClient(NewTokenCache())
	_, err := client.Execute(context.Background(), endpoint, Request{}, "")
	assert.Error(t, err)
}
