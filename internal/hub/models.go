package hub

import (
	"time"
)

// OutboxStatus represents the delivery status of an outbox item
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxClaimed   OutboxStatus = "claimed"
	OutboxCompleted OutboxStatus = "completed"
	OutboxFailed    OutboxStatus = "failed"
	OutboxDead      OutboxStatus = "dead"
)

// OutboxItem is a durable delivery record written by the event gateway and
// drained by the delivery scheduler. Exactly one worker holds a claim on an
// item at a time; the dead status is terminal.
type OutboxItem struct {
	ID          string         `json:"id" db:"id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	EntityType  string         `json:"entity_type" db:"entity_type"`
	EntityID    string         `json:"entity_id" db:"entity_id"`
	EventType   string         `json:"event_type" db:"event_type"`
	Payload     map[string]any `json:"payload" db:"payload"`
	Status      OutboxStatus   `json:"status" db:"status"`
	EndpointID  string         `json:"endpoint_id,omitempty" db:"endpoint_id"`
	RetryCount  int            `json:"retry_count" db:"retry_count"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ClaimedBy   string         `json:"claimed_by,omitempty" db:"claimed_by"`
	LastError   string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// RetryPolicy controls exponential backoff for failed deliveries. Once
// MaxRetries attempts are exhausted the item transitions to dead.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Multiplier float64       `json:"multiplier"`
	MaxDelay   time.Duration `json:"max_delay"`
	Jitter     bool          `json:"jitter"`
}

// RateLimitConfig bounds outbound throughput for an endpoint. A nil or zero
// value on an axis means unlimited on that axis.
type RateLimitConfig struct {
	MaxPerSecond int `json:"max_per_second,omitempty"`
	MaxPerMinute int `json:"max_per_minute,omitempty"`
}

// AuthType identifies how credentials are applied to an outbound request
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
)

// AuthConfig carries the credential material for an endpoint's auth type.
type AuthConfig struct {
	// api_key
	HeaderName string `json:"header_name,omitempty"`
	QueryParam string `json:"query_param,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	// oauth2 client credentials
	TokenURL     string   `json:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// IntegrationEndpoint is a configured outbound HTTP destination. It is
// read-only to the scheduler and immutable during a delivery attempt.
type IntegrationEndpoint struct {
	ID        string            `json:"id" db:"id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	Code      string            `json:"code" db:"code"`
	URL       string            `json:"url" db:"url"`
	Method    string            `json:"method" db:"method"`
	AuthType  AuthType          `json:"auth_type" db:"auth_type"`
	Auth      AuthConfig        `json:"auth" db:"auth"`
	Headers   map[string]string `json:"headers,omitempty" db:"headers"`
	Timeout   time.Duration     `json:"timeout" db:"timeout"`
	Retry     RetryPolicy       `json:"retry" db:"retry"`
	RateLimit *RateLimitConfig  `json:"rate_limit,omitempty" db:"rate_limit"`
	Active    bool              `json:"active" db:"active"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// WebhookSubscription is a registered webhook consumer. Only the SHA-256 hash
// of the signing secret is stored; the plaintext is returned exactly once at
// creation or rotation time.
type WebhookSubscription struct {
	ID              string     `json:"id" db:"id"`
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	Code            string     `json:"code" db:"code"`
	EventTypes      []string   `json:"event_types" db:"event_types"`
	EndpointURL     string     `json:"endpoint_url" db:"endpoint_url"`
	SecretHash      string     `json:"-" db:"secret_hash"`
	Active          bool       `json:"active" db:"active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Matches reports whether the subscription listens for the given event type.
func (s *WebhookSubscription) Matches(eventType string) bool {
	for _, et := range s.EventTypes {
		if et == eventType || et == "*" {
			return true
		}
	}
	return false
}

// WebhookEventStatus represents the delivery status of a webhook event
type WebhookEventStatus string

const (
	WebhookEventPending   WebhookEventStatus = "pending"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// WebhookEvent records one event queued for (or delivered to) a subscription.
type WebhookEvent struct {
	ID             string             `json:"id" db:"id"`
	SubscriptionID string             `json:"subscription_id" db:"subscription_id"`
	EventType      string             `json:"event_type" db:"event_type"`
	Payload        map[string]any     `json:"payload" db:"payload"`
	Status         WebhookEventStatus `json:"status" db:"status"`
	StatusDetail   string             `json:"status_detail,omitempty" db:"status_detail"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	TriggeredAt    *time.Time         `json:"triggered_at,omitempty" db:"triggered_at"`
}

// DomainEvent is the unit of fan-out accepted by the event gateway.
type DomainEvent struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	EndpointID string         `json:"endpoint_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
