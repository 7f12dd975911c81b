// Package errproc implements the single ErrorProcessor spec §7 requires:
// the boundary that converts any internal error into a stream-safe status
// chunk and a structured log entry, so the Thread Runner never raises out
// of run_thread and the webhook handler never 500s on a matched-but-
// unexecutable trigger.
package errproc

import (
	"context"
	"errors"

	"agentcore/internal/observability"
)

// Sentinel error kinds recognised by the core (spec §7).
var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrWebhookVerification  = errors.New("webhook verification failed")
	ErrTriggerSetupFailed   = errors.New("trigger setup failed")
	ErrSandboxCreationFailed = errors.New("sandbox creation failed")
	ErrAgentOverloaded      = errors.New("agent overloaded")
	ErrLLM                  = errors.New("llm error")
	ErrCompressionExhausted = errors.New("compression exhausted")
)

// StatusChunk is the wire shape `{type:"status", status:"error", message, context}`.
type StatusChunk struct {
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ToChunk converts any error into the stream-safe status chunk and logs a
// structured entry, matching spec §7's single ErrorProcessor requirement.
// Callers (Thread Runner, webhook handler) never propagate the error past
// this boundary — they yield/return the chunk instead.
func ToChunk(ctx context.Context, err error, context_ map[string]any) StatusChunk {
	if err == nil {
		return StatusChunk{}
	}
	observability.LoggerWithTrace(ctx).Error().Err(err).Interface("context", context_).Msg("errproc: internal error")
	return StatusChunk{
		Type:    "status",
		Status:  "error",
		Message: err.Error(),
		Context: context_,
	}
}

// StoppedChunk builds the `{type:"status", status:"stopped", message}`
// shape used for credit exhaustion and post-failover give-ups — distinct
// from ToChunk's "error" status because these are expected, user-facing
// stop conditions rather than internal failures.
func StoppedChunk(message string) StatusChunk {
	return StatusChunk{Type: "status", Status: "stopped", Message: message}
}

// IsOverloaded recognises the AgentOverloaded condition by substring match
// on the provider error text, per spec §4.6 step 10 / §7.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, needle := range []string{"overloaded", "rate_limit", "rate limit", "529", "capacity"} {
		if containsFold(s, needle) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(toLower(s)), []rune(toLower(substr))
	if len(subl) == 0 || len(subl) > len(sl) {
		return len(subl) == 0
	}
	for i := 0; i+len(subl) <= len(sl); i++ {
		match := true
		for j := range subl {
			if sl[i+j] != subl[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + 32
		}
	}
	return string(out)
}
