package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

// EndpointRepository resolves integration endpoints from Postgres
type EndpointRepository struct {
	db *pgxpool.Pool
}

// NewEndpointRepository creates a new endpoint repository
func NewEndpointRepository(db *pgxpool.Pool) *EndpointRepository {
	return &EndpointRepository{db: db}
}

const endpointColumns = `id, tenant_id, code, url, method, auth_type, auth, headers,
		timeout_ms, retry, rate_limit, active, created_at, updated_at`

// GetByID returns the endpoint with the given id
func (r *EndpointRepository) GetByID(ctx context.Context, tenantID, id string) (*hub.IntegrationEndpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM integration_endpoints
		WHERE id = $1 AND tenant_id = $2
	`
	return r.getOne(ctx, query, id, tenantID)
}

// GetByCode returns the endpoint with the given code
func (r *EndpointRepository) GetByCode(ctx context.Context, tenantID, code string) (*hub.IntegrationEndpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM integration_endpoints
		WHERE code = $1 AND tenant_id = $2
	`
	return r.getOne(ctx, query, code, tenantID)
}

func (r *EndpointRepository) getOne(ctx context.Context, query string, args ...any) (*hub.IntegrationEndpoint, error) {
	var ep hub.IntegrationEndpoint
	var authJSON, headersJSON, retryJSON, rateLimitJSON []byte
	var timeoutMs int64

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&ep.ID,
		&ep.TenantID,
		&ep.Code,
		&ep.URL,
		&ep.Method,
		&ep.AuthType,
		&authJSON,
		&headersJSON,
		&timeoutMs,
		&retryJSON,
		&rateLimitJSON,
		&ep.Active,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hub.ErrEndpointNotFound
	}
	if err != nil {
		return nil, err
	}

	ep.Timeout = time.Duration(timeoutMs) * time.Millisecond

	if err := json.Unmarshal(authJSON, &ep.Auth); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth config: %w", err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &ep.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if err := json.Unmarshal(retryJSON, &ep.Retry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
	}
	if len(rateLimitJSON) > 0 {
		if err := json.Unmarshal(rateLimitJSON, &ep.RateLimit); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rate limit: %w", err)
		}
	}
	return &ep, nil
}
