package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"agentcore/internal/convtypes"
)

var eventConfigSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["composio_trigger_id", "execution_route"],
	"properties": {
		"composio_trigger_id": {"type": "string", "minLength": 1},
		"execution_route": {"type": "string", "enum": ["agent", "workflow"]},
		"prompt_template": {"type": "string"}
	}
}`)

const defaultPayloadPreview = 800

// RemoteSubscriber is the upstream (e.g. Composio) subscription API the
// Event adapter reference-counts access to.
type RemoteSubscriber interface {
	Enable(ctx context.Context, remoteTriggerID string) error
	Disable(ctx context.Context, remoteTriggerID string) error
	Delete(ctx context.Context, remoteTriggerID string) error
}

// EventAdapter implements the third-party Event Provider Adapter (spec
// §4.8). Multiple local triggers may reference the same upstream
// subscription; Remote.Enable/Disable/Delete must only fire on the 0↔≥1
// active-reference transition.
type EventAdapter struct {
	Remote RemoteSubscriber
	Store  Store
	// ProviderID is the key this adapter is registered under (e.g.
	// "composio"), used to scope the reference-count query.
	ProviderID string
}

func (EventAdapter) ValidateConfig(cfg map[string]any) error {
	return validateAgainstSchema(eventConfigSchema, cfg)
}

// SetupTrigger enables the remote subscription only if no other active
// local trigger already references the same remote id.
func (a *EventAdapter) SetupTrigger(ctx context.Context, t *convtypes.Trigger) (bool, error) {
	remoteID, _ := t.Config["composio_trigger_id"].(string)
	if remoteID == "" {
		return false, fmt.Errorf("triggers/event: missing composio_trigger_id")
	}
	count, err := a.Store.CountActiveByConfigKey(ctx, a.ProviderID, "composio_trigger_id", remoteID)
	if err != nil {
		return false, fmt.Errorf("triggers/event: reference count: %w", err)
	}
	if count > 0 {
		return true, nil // already enabled upstream by another local trigger
	}
	if err := a.Remote.Enable(ctx, remoteID); err != nil {
		return false, fmt.Errorf("triggers/event: enable: %w", err)
	}
	return true, nil
}

// TeardownTrigger symmetrically disables the remote subscription only
// when this is the last active local reference.
func (a *EventAdapter) TeardownTrigger(ctx context.Context, t *convtypes.Trigger) error {
	remoteID, _ := t.Config["composio_trigger_id"].(string)
	if remoteID == "" {
		return nil
	}
	count, err := a.Store.CountActiveByConfigKey(ctx, a.ProviderID, "composio_trigger_id", remoteID)
	if err != nil {
		return fmt.Errorf("triggers/event: reference count: %w", err)
	}
	// count still includes this trigger's own row at teardown time when
	// called from Update's deactivate or reconfigure path; the delete path
	// calls this after the row is already removed. Discounting the own row
	// when it is still active, any remaining count means another active
	// local trigger remains.
	if self, err := a.Store.Get(ctx, t.TriggerID); err == nil && self != nil && self.IsActive {
		count--
	}
	if count > 0 {
		return nil
	}
	return a.Remote.Disable(ctx, remoteID)
}

// DeleteRemoteTrigger calls the remote DELETE only if no other local
// trigger still references the same remote id.
func (a *EventAdapter) DeleteRemoteTrigger(ctx context.Context, t *convtypes.Trigger) error {
	remoteID, _ := t.Config["composio_trigger_id"].(string)
	if remoteID == "" {
		return nil
	}
	count, err := a.Store.CountActiveByConfigKey(ctx, a.ProviderID, "composio_trigger_id", remoteID)
	if err != nil {
		return fmt.Errorf("triggers/event: reference count: %w", err)
	}
	if count > 0 {
		return nil
	}
	return a.Remote.Delete(ctx, remoteID)
}

// ProcessEvent extracts the remote event id and slug from the payload
// and builds a prompt from either the configured template or a default
// that embeds the first 800 chars of the payload.
func (EventAdapter) ProcessEvent(_ context.Context, t *convtypes.Trigger, rawData []byte) (TriggerResult, error) {
	eventID, slug := extractRemoteEventMeta(rawData)

	template, _ := t.Config["prompt_template"].(string)
	var prompt string
	if template != "" {
		prompt = strings.NewReplacer(
			"{{event_id}}", eventID,
			"{{slug}}", slug,
			"{{payload}}", string(rawData),
		).Replace(template)
	} else {
		preview := rawData
		if len(preview) > defaultPayloadPreview {
			preview = preview[:defaultPayloadPreview]
		}
		prompt = fmt.Sprintf("Event %s (%s) received:\n%s", eventID, slug, preview)
	}

	executionType, _ := t.Config["execution_route"].(string)
	if executionType == "" {
		executionType = "agent"
	}

	return TriggerResult{
		Success:       true,
		ShouldExecute: true,
		ExecutionType: executionType,
		AgentPrompt:   prompt,
		RemoteEventID: eventID,
		RemoteSlug:    slug,
	}, nil
}

// extractRemoteEventMeta tolerates varying upstream payload shapes: the
// exact schema differs per integration, so several known key aliases
// are tried for each field.
func extractRemoteEventMeta(rawData []byte) (eventID, slug string) {
	var payload map[string]any
	if err := json.Unmarshal(rawData, &payload); err != nil {
		return "", ""
	}
	eventID = firstStringField(payload, "id", "trigger_nano_id", "event_id")
	slug = firstStringField(payload, "slug", "triggerSlug", "trigger_slug")
	return eventID, slug
}

func firstStringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
