package triggers

import (
	"context"
	"fmt"

	"agentcore/internal/convtypes"
)

// WebhookAdapter implements the stateless Webhook Provider Adapter (spec
// §4.8): setup/teardown are no-ops, and process_event wraps the raw body
// into an agent prompt and passes it through unchanged.
type WebhookAdapter struct{}

func (WebhookAdapter) ValidateConfig(map[string]any) error { return nil }

func (WebhookAdapter) SetupTrigger(context.Context, *convtypes.Trigger) (bool, error) {
	return true, nil
}

func (WebhookAdapter) TeardownTrigger(context.Context, *convtypes.Trigger) error { return nil }

func (WebhookAdapter) ProcessEvent(_ context.Context, t *convtypes.Trigger, rawData []byte) (TriggerResult, error) {
	prompt, _ := t.Config["agent_prompt"].(string)
	body := string(rawData)
	if prompt != "" {
		body = fmt.Sprintf("%s\n\n%s", prompt, body)
	}
	return TriggerResult{
		Success:       true,
		ShouldExecute: true,
		ExecutionType: "agent",
		AgentPrompt:   body,
	}, nil
}
