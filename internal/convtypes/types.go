// Package convtypes holds the data model shared by the context manager,
// message store, response processor, thread runner and trigger/execution
// subsystems: threads, messages, agent runs, triggers and credit accounts.
package convtypes

import "time"

// MessageType enumerates the recognised message.type values.
type MessageType string

const (
	MessageUser           MessageType = "user"
	MessageAssistant      MessageType = "assistant"
	MessageTool           MessageType = "tool"
	MessageStatus         MessageType = "status"
	MessageLLMResponseEnd MessageType = "llm_response_end"
)

// Thread is a conversation between an account and the agent.
type Thread struct {
	ThreadID  string
	AccountID string
	ProjectID string
	Metadata  map[string]any
	CreatedAt time.Time
}

// CacheNeedsRebuild reports thread.metadata.cache_needs_rebuild, defaulting to false.
func (t *Thread) CacheNeedsRebuild() bool {
	if t.Metadata == nil {
		return false
	}
	v, _ := t.Metadata["cache_needs_rebuild"].(bool)
	return v
}

// SetCacheNeedsRebuild mutates the single-writer cache_needs_rebuild flag.
func (t *Thread) SetCacheNeedsRebuild(v bool) {
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata["cache_needs_rebuild"] = v
}

// Usage is the billing payload carried by an llm_response_end message.
type Usage struct {
	PromptTokens           int    `json:"prompt_tokens"`
	CompletionTokens       int    `json:"completion_tokens"`
	TotalTokens            int    `json:"total_tokens"`
	CacheReadInputTokens   int    `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int  `json:"cache_creation_input_tokens"`
	Model                  string `json:"model"`
	Estimated              bool   `json:"estimated,omitempty"`
	Fallback               bool   `json:"fallback,omitempty"`
}

// Content is a tagged variant: messages carry either plain text or a
// structured object.
type Content struct {
	Text   string
	Object map[string]any
	IsText bool
}

// TextContent builds a text-valued Content.
func TextContent(s string) Content { return Content{Text: s, IsText: true} }

// ObjectContent builds an object-valued Content.
func ObjectContent(o map[string]any) Content { return Content{Object: o, IsText: false} }

// String renders the content the way the LLM/UI sees it: the text form
// verbatim, or the object JSON-marshalled by the caller (Message stores
// only the logical value; JSON encoding happens at persistence/wire
// boundaries in msgstore).
func (c Content) String() string {
	if c.IsText {
		return c.Text
	}
	return ""
}

// Message is one entry in a thread's append-only log. Only Content and
// Metadata may be mutated in place after creation, and only by the
// Context Manager (compression).
type Message struct {
	MessageID     string
	ThreadID      string
	Type          MessageType
	IsLLMMessage  bool
	Content       Content
	Metadata      map[string]any
	CreatedAt     time.Time
	AgentID       string
	AgentVersionID string
}

// Compressed reports metadata.compressed.
func (m *Message) Compressed() bool {
	if m.Metadata == nil {
		return false
	}
	v, _ := m.Metadata["compressed"].(bool)
	return v
}

// CompressedContent reports metadata.compressed_content.
func (m *Message) CompressedContent() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	v, ok := m.Metadata["compressed_content"].(string)
	return v, ok
}

// SetCompressed persists a compression sentinel onto the message in place,
// preserving all other metadata fields (e.g. assistant_message_id pairing).
func (m *Message) SetCompressed(sentinel string) {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata["compressed"] = true
	m.Metadata["compressed_content"] = sentinel
}

// AssistantMessageID reports the tool-result-to-assistant pairing used to
// survive compression.
func (m *Message) AssistantMessageID() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	v, ok := m.Metadata["assistant_message_id"].(string)
	return v, ok
}

// RunStatus enumerates AgentRun.status values.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AgentRun is one execution of the Thread Runner against a thread.
type AgentRun struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	StartedAt time.Time
	EndedAt   *time.Time
	ModelName string
}

// TriggerType enumerates Trigger.trigger_type values.
type TriggerType string

const (
	TriggerSchedule TriggerType = "SCHEDULE"
	TriggerWebhook  TriggerType = "WEBHOOK"
	TriggerEvent    TriggerType = "EVENT"
)

// Trigger is a registered ingress that can spawn or resume conversations.
type Trigger struct {
	TriggerID   string
	AgentID     string
	ProviderID  string
	TriggerType TriggerType
	Name        string
	Description string
	IsActive    bool
	Config      map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreditAccount is the metered-billing counterpart of an account.
type CreditAccount struct {
	UserID             string
	Balance            float64 // invariant: >= 0 except during in-flight reservations
	Tier                string
	BillingCycleAnchor time.Time
	NextCreditGrant    time.Time
	LastGrantDate      time.Time
}
