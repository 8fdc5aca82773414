package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// maxResponseBytes caps how much of a response body is retained.
const maxResponseBytes = 64 * 1024

// Request is the virtual outbound request executed against an endpoint.
type Request struct {
	Body        any
	Headers     map[string]string
	QueryParams map[string]string
}

// Response is the normalized result of an outbound call.
type Response struct {
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	DurationMs int64             `json:"duration_ms"`
}

// Success reports whether the response status is 2xx.
func (r *Response) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// Executor performs HTTP delivery against integration endpoints, applying
// the endpoint's auth config before sending.
type Executor interface {
	Execute(ctx context.Context, endpoint *hub.IntegrationEndpoint, req Request, correlationID string) (*Response, error)
}

// Client is the default Executor backed by net/http.
type Client struct {
	tokens *TokenCache
}

// NewClient creates a Client. The token cache is injected so OAuth2 bearer
// tokens stay scoped to this instance rather than process-global state.
func NewClient(tokens *TokenCache) *Client {
	return &Client{tokens: tokens}
}

// Execute serializes the request body as JSON, applies endpoint auth and
// default headers, and performs the call with the endpoint's timeout.
func (c *Client) Execute(ctx context.Context, endpoint *hub.IntegrationEndpoint, req Request, correlationID string) (*Response, error) {
	log := logger.NewLogger("http-executor")

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	target := endpoint.URL
	if len(req.QueryParams) > 0 {
		parsed, err := url.Parse(endpoint.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint url %q: %w", endpoint.URL, err)
		}
		q := parsed.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		parsed.RawQuery = q.Encode()
		target = parsed.String()
	}

	method := endpoint.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range endpoint.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if correlationID != "" {
		httpReq.Header.Set("X-Correlation-Id", correlationID)
	}

	if err := c.applyAuth(ctx, endpoint, httpReq); err != nil {
		return nil, fmt.Errorf("failed to apply endpoint auth: %w", err)
	}

	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		log.Warn("outbound request failed",
			"endpoint_code", endpoint.Code,
			"url", endpoint.URL,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("request to %s failed: %w", endpoint.Code, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Warn("failed to read response body", "endpoint_code", endpoint.Code, "error", err)
		respBody = nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	log.Info("outbound request completed",
		"endpoint_code", endpoint.Code,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	return &Response{
		Status:     resp.StatusCode,
		Headers:    headers,
		Body:       string(respBody),
		DurationMs: duration.Milliseconds(),
	}, nil
}

func (c *Client) applyAuth(ctx context.Context, endpoint *hub.IntegrationEndpoint, req *http.Request) error {
	switch endpoint.AuthType {
	case "", hub.AuthNone:
		return nil
	case hub.AuthAPIKey:
		auth := endpoint.Auth
		switch {
		case auth.HeaderName != "":
			req.Header.Set(auth.HeaderName, auth.APIKey)
		case auth.QueryParam != "":
			q := req.URL.Query()
			q.Set(auth.QueryParam, auth.APIKey)
			req.URL.RawQuery = q.Encode()
		default:
			return fmt.Errorf("api_key auth on %s declares neither header nor query param", endpoint.Code)
		}
		return nil
	case hub.AuthOAuth2:
		token, err := c.tokens.Token(ctx, endpoint.TenantID, endpoint.Auth)
		if err != nil {
			return fmt.Errorf("oauth2 token for %s: %w", endpoint.Code, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	default:
		return fmt.Errorf("unsupported auth type %q on endpoint %s", endpoint.AuthType, endpoint.Code)
	}
}
