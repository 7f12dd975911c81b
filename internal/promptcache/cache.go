// Package promptcache places provider-specific cache-breakpoint markers on
// a small number of prefix message blocks so repeated prompt prefixes hit
// the provider's discounted cache-read billing.
package promptcache

import (
	"strings"

	"agentcore/internal/llm"
)

// maxBreakpoints is the provider-allowed number of cache-control markers
// (Anthropic allows up to 4 per request; validated by validateBlocks).
const maxBreakpoints = 4

// stableUserTurns is the number of oldest stable user turns, beyond the
// system prompt, eligible for a cache breakpoint.
const stableUserTurns = 1

// Layer is the Prompt-Cache Layer contract.
type Layer interface {
	// Apply inserts cache-breakpoint markers into messages for the given
	// model and returns the transformed copy used for token counting /
	// sending to the provider. It never mutates its input.
	Apply(model string, messages []llm.Message) []llm.Message

	// NeedsRebuild reports whether the breakpoints must be recomputed this
	// turn: any message was compressed, thread.metadata.cache_needs_rebuild
	// is set, or the model identity changed since the last turn.
	NeedsRebuild(anyCompressedThisTurn bool, threadFlagSet bool, modelChanged bool) bool
}

// AnthropicLayer places cache_control markers the way Anthropic's prompt
// caching expects: on the system block and on the oldest stable user turn.
// Non-Anthropic models are passed through unchanged (the marker is a no-op
// elsewhere, so the wire format stays canonical rather than model-specific).
type AnthropicLayer struct{}

func (AnthropicLayer) NeedsRebuild(anyCompressedThisTurn, threadFlagSet, modelChanged bool) bool {
	return anyCompressedThisTurn || threadFlagSet || modelChanged
}

func (AnthropicLayer) Apply(model string, messages []llm.Message) []llm.Message {
	if !isAnthropicFamily(model) {
		return messages
	}
	out := make([]llm.Message, len(messages))
	copy(out, messages)

	breakpoints := 0
	for i := range out {
		if out[i].Role != "system" {
			continue
		}
		out[i] = withCacheBreakpoint(out[i])
		breakpoints++
		break
	}

	userTurnsMarked := 0
	for i := range out {
		if breakpoints >= maxBreakpoints || userTurnsMarked >= stableUserTurns {
			break
		}
		if out[i].Role != "user" {
			continue
		}
		out[i] = withCacheBreakpoint(out[i])
		breakpoints++
		userTurnsMarked++
	}

	validateBlocks(out)
	return out
}

// withCacheBreakpoint marks a block as a cache-control prefix point; the
// Anthropic provider adapter reads llm.Message.CacheBreakpoint when
// converting to wire params and attaches the SDK-level cache_control field.
func withCacheBreakpoint(m llm.Message) llm.Message {
	m.CacheBreakpoint = true
	return m
}

// validateBlocks enforces no more than maxBreakpoints markers made it
// through Apply.
func validateBlocks(messages []llm.Message) {
	n := 0
	for i := range messages {
		if messages[i].CacheBreakpoint {
			n++
		}
		if n > maxBreakpoints {
			messages[i].CacheBreakpoint = false
		}
	}
}

func isAnthropicFamily(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "claude")
}
