// Package respproc implements the Response Processor: it turns one LLM
// completion (streamed or not) into persisted messages and tool
// invocations, recognising both native and XML-embedded tool calls.
package respproc

// ChunkType enumerates the stream-chunk `type` field.
type ChunkType string

const (
	ChunkStatus    ChunkType = "status"
	ChunkAssistant ChunkType = "assistant"
	ChunkTool      ChunkType = "tool"
	ChunkContent   ChunkType = "content"
)

// FinishReason enumerates recognised provider finish reasons.
type FinishReason string

const (
	FinishStop                 FinishReason = "stop"
	FinishToolCalls             FinishReason = "tool_calls"
	FinishLength                FinishReason = "length"
	FinishXMLToolLimitReached    FinishReason = "xml_tool_limit_reached"
)

// Chunk is the wire message-format stream chunk
type Chunk struct {
	Type     ChunkType
	Content  any // string or object
	Metadata map[string]any
}

func (c Chunk) finishReason() (FinishReason, bool) {
	if c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata["finish_reason"].(string)
	return FinishReason(v), ok
}

func (c Chunk) toolsExecuted() bool {
	if c.Metadata == nil {
		return false
	}
	v, _ := c.Metadata["tools_executed"].(bool)
	return v
}

func (c Chunk) agentShouldTerminate() bool {
	if c.Metadata == nil {
		return false
	}
	v, _ := c.Metadata["agent_should_terminate"].(bool)
	return v
}

// AutoContinueState is the per-run auto-continue tracking.
type AutoContinueState struct {
	Count              int
	Active             bool
	AccumulatedContent string
	ThreadRunID        string
}

// Observe applies one chunk's auto-continue triggers.
//
// Returns true if this chunk should be dropped from the stream forwarded
// to the caller (a finish_reason=length chunk that only signals an
// internal continuation, not a user-visible end).
func (s *AutoContinueState) Observe(c Chunk) (drop bool) {
	reason, hasReason := c.finishReason()

	switch {
	case hasReason && reason == FinishToolCalls:
		s.Active = true
		s.Count++
	case c.toolsExecuted():
		s.Active = true
		s.Count++
	case hasReason && reason == FinishLength:
		s.Active = true
		s.Count++
		return true
	case hasReason && reason == FinishXMLToolLimitReached:
		s.Active = false
	}
	return false
}

// Terminated reports whether the outer loop must stop regardless of
// finish_reason: the assistant text closed an </ask>, </complete> or
// </present_presentation> tag, or a status chunk carried
// metadata.agent_should_terminate.
func Terminated(assistantText string, statusChunks []Chunk) bool {
	for _, tag := range []string{"</ask>", "</complete>", "</present_presentation>"} {
		if containsTag(assistantText, tag) {
			return true
		}
	}
	for _, c := range statusChunks {
		if c.agentShouldTerminate() {
			return true
		}
	}
	return false
}

func containsTag(s, tag string) bool {
	return len(s) >= len(tag) && indexOf(s, tag) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
