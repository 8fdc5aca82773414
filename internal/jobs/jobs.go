package jobs

import (
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/flow"
)

// DeliverOutboxArgs triggers one outbox poll-and-deliver cycle.
type DeliverOutboxArgs struct{}

// Kind returns the job kind for River queue
func (DeliverOutboxArgs) Kind() string { return "deliver-outbox" }

// DispatchWebhookArgs fans one event out to matching webhook subscriptions.
type DispatchWebhookArgs struct {
	TenantID  string         `json:"tenant_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// Kind returns the job kind for River queue
func (DispatchWebhookArgs) Kind() string { return "process-webhook" }

// FlowRunArgs executes a flow definition asynchronously. The definition is
// carried in the job args since flow definitions are supplied as
// already-validated structures, not persisted by this core.
type FlowRunArgs struct {
	TenantID  string         `json:"tenant_id"`
	CreatedBy string         `json:"created_by,omitempty"`
	Flow      flow.Flow      `json:"flow"`
	Input     map[string]any `json:"input,omitempty"`
}

// Kind returns the job kind for River queue
func (FlowRunArgs) Kind() string { return "flow-run" }
