package execsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentcore/internal/observability"
	"agentcore/internal/triggers"
	"agentcore/internal/webhook"
)

// WebhookPayload is the subset of an inbound Composio-style webhook body
// the Execution Service needs to match and render a prompt from (spec
// §4.9 steps 2-3).
type WebhookPayload struct {
	TriggerNanoID string `json:"trigger_nano_id"`
	TriggerSlug   string `json:"trigger_slug"`
}

// HandleComposioWebhook implements spec §4.9 end to end for the
// /api/composio/webhook ingress: verify, parse, match, execute.
func (s *Service) HandleComposioWebhook(ctx context.Context, headers webhook.Headers, rawBody []byte, sharedSecret string, store triggers.Store, accountResolver func(agentID string) string) (ExecutionResult, error) {
	if err := webhook.Verify(headers, rawBody, sharedSecret, time.Now()); err != nil {
		return ExecutionResult{}, fmt.Errorf("execsvc: %w", err)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return ExecutionResult{}, fmt.Errorf("execsvc: parse payload: %w", err)
	}

	active, err := store.ListActiveByProvider(ctx, "composio")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("execsvc: list active triggers: %w", err)
	}

	var matches []MatchedTrigger
	for _, t := range active {
		remoteID, _ := t.Config["composio_trigger_id"].(string)
		// No fallback: an id mismatch must not silently execute unrelated
		// triggers (spec §4.9 step 3).
		if remoteID == "" || remoteID != payload.TriggerNanoID {
			continue
		}
		accountID := ""
		if accountResolver != nil {
			accountID = accountResolver(t.AgentID)
		}
		matches = append(matches, MatchedTrigger{
			TriggerID:   t.TriggerID,
			AgentID:     t.AgentID,
			AccountID:   accountID,
			RawData:     rawBody,
			TriggerSlug: payload.TriggerSlug,
			WebhookID:   headers.ID,
		})
	}

	if len(matches) == 0 {
		observability.LoggerWithTrace(ctx).Info().Str("trigger_nano_id", payload.TriggerNanoID).Msg("execsvc: no matching trigger")
		return ExecutionResult{Success: true}, nil
	}

	return s.Execute(ctx, matches)
}
