// Package triggers implements the Trigger Service and its Provider
// Adapters (Schedule, Webhook, Event), spec §4.7-4.8.
package triggers

import (
	"context"

	"agentcore/internal/convtypes"
)

// TriggerResult is returned by a Provider Adapter's ProcessEvent.
type TriggerResult struct {
	Success        bool
	ShouldExecute  bool
	AgentPrompt    string
	ExecutionType  string // "agent" | "workflow"
	WorkflowID     string
	WorkflowInput  map[string]any
	RemoteEventID  string
	RemoteSlug     string
	Error          string
}

// Adapter is the contract every Provider Adapter implements (spec §4.8).
type Adapter interface {
	ValidateConfig(cfg map[string]any) error
	SetupTrigger(ctx context.Context, t *convtypes.Trigger) (bool, error)
	TeardownTrigger(ctx context.Context, t *convtypes.Trigger) error
	ProcessEvent(ctx context.Context, t *convtypes.Trigger, rawData []byte) (TriggerResult, error)
}

// RemoteDeleter is the optional fourth adapter method (spec §4.8
// "optional delete_remote_trigger").
type RemoteDeleter interface {
	DeleteRemoteTrigger(ctx context.Context, t *convtypes.Trigger) error
}

// Store is the persistence contract the Trigger Service depends on.
type Store interface {
	Create(ctx context.Context, t *convtypes.Trigger) error
	Get(ctx context.Context, triggerID string) (*convtypes.Trigger, error)
	ListByAgent(ctx context.Context, agentID string) ([]*convtypes.Trigger, error)
	ListActiveByProvider(ctx context.Context, providerID string) ([]*convtypes.Trigger, error)
	CountActiveByConfigKey(ctx context.Context, providerID, key, value string) (int, error)
	Update(ctx context.Context, t *convtypes.Trigger) error
	Delete(ctx context.Context, triggerID string) error
	LogEvent(ctx context.Context, triggerID string, rawData []byte, result TriggerResult) error
}
