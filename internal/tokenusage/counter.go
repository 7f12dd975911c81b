// Package tokenusage implements the Token Counter: exact-or-approximate
// token counts per model, degrading silently to a heuristic when a
// provider's first-party tokenizer is unavailable or errors.
package tokenusage

import (
	"context"
	"strings"

	"agentcore/internal/convtypes"
	"agentcore/internal/llm"
	"agentcore/internal/observability"
	"agentcore/internal/promptcache"
)

// anthropicPrefixes identifies the Anthropic model family so the first-party
// tokenizer path (messages.count_tokens) is only attempted for it.
var anthropicPrefixes = []string{"claude-", "anthropic/claude-", "anthropic."}

func isAnthropicFamily(model string) bool {
	m := strings.ToLower(model)
	for _, p := range anthropicPrefixes {
		if strings.HasPrefix(m, p) || strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// stripProviderPrefix removes an "openrouter/", "anthropic/" etc. prefix;
// Count reports the bare model id when the first-party tokenizer fails.
func stripProviderPrefix(model string) string {
	if idx := strings.LastIndex(model, "/"); idx != -1 {
		return model[idx+1:]
	}
	return model
}

// Counter is the Token Counter component
type Counter struct {
	// AnthropicTokenizer, when non-nil, backs first-party counting for the
	// Anthropic model family. Built once at startup from a live credential.
	AnthropicTokenizer llm.Tokenizer
	Cache              promptcache.Layer
}

// Count implements `count(model, messages, system?, apply_caching) -> int`.
//
// Failures of the first-party tokenizer degrade silently to the generic
// heuristic; the returned count is always advisory in that sense.
func (c *Counter) Count(ctx context.Context, model string, messages []convtypes.Message, system string, applyCaching bool) int {
	llmMessages := toLLMMessages(messages, system)

	if applyCaching && c.Cache != nil {
		llmMessages = c.Cache.Apply(model, llmMessages)
	}

	if isAnthropicFamily(model) && c.AnthropicTokenizer != nil {
		bare := stripProviderPrefix(model)
		n, err := c.AnthropicTokenizer.CountMessagesTokens(ctx, llmMessages)
		if err == nil {
			return n
		}
		observability.LoggerWithTrace(ctx).Debug().Err(err).Str("model", bare).
			Msg("tokenusage: first-party tokenizer failed, degrading to heuristic")
	}

	return llm.EstimateTokensForMessages(llmMessages)
}

// toLLMMessages adapts the domain Message slice (plus an optional system
// prompt) into the llm.Message shape the Tokenizer interface speaks.
func toLLMMessages(messages []convtypes.Message, system string) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, llm.Message{Role: "system", Content: system})
	}
	for _, m := range messages {
		role := string(m.Type)
		switch m.Type {
		case convtypes.MessageUser:
			role = "user"
		case convtypes.MessageAssistant:
			role = "assistant"
		case convtypes.MessageTool:
			role = "tool"
		default:
			continue // status/llm_response_end messages are not sent to the LLM
		}
		content := m.Content.Text
		if !m.Content.IsText {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}
