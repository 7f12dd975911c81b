package llm

import "strings"

// Router is the process-wide LLM provider router (spec §9 design note:
// "a process-wide LLM provider router ... initialised at startup and torn
// down on shutdown; no other globals"). It resolves a model id to the
// Provider adapter that should serve it. A model carrying the failover
// prefix the Thread Runner's AgentOverloaded path (spec §4.6 step 10)
// rewrites onto it is routed to OpenAI; the prefix is left on the model id.
type Router struct {
	Anthropic Provider
	OpenAI    Provider
	Google    Provider
	// SecondaryPrefix is the prefix the Thread Runner adds on failover,
	// e.g. "openrouter/". Requests carrying it are routed to OpenAI (the
	// donor's OpenRouter traffic speaks the OpenAI-compatible API).
	SecondaryPrefix string
}

// anthropicPrefixes mirrors tokenusage's family detection so routing and
// token counting agree on which models are "Anthropic family".
var anthropicPrefixes = []string{"claude-", "anthropic/claude-", "anthropic."}

var googlePrefixes = []string{"gemini-", "google/gemini-", "models/gemini-"}

// Provider resolves model to the adapter that should serve it. When the
// resolved family has no adapter configured it falls back to OpenAI, then
// Anthropic; it returns nil only if neither of those is configured.
func (r *Router) Provider(model string) Provider {
	m := strings.ToLower(model)
	if r.SecondaryPrefix != "" && strings.HasPrefix(m, strings.ToLower(r.SecondaryPrefix)) {
		if r.OpenAI != nil {
			return r.OpenAI
		}
	}
	for _, p := range anthropicPrefixes {
		if strings.HasPrefix(m, p) || strings.Contains(m, p) {
			if r.Anthropic != nil {
				return r.Anthropic
			}
		}
	}
	for _, p := range googlePrefixes {
		if strings.HasPrefix(m, p) || strings.Contains(m, p) {
			if r.Google != nil {
				return r.Google
			}
		}
	}
	if r.OpenAI != nil {
		return r.OpenAI
	}
	return r.Anthropic
}
