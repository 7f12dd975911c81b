// Package contextmgr implements the Context Manager: the deterministic
// tiered compression pipeline that keeps a thread's message list under its
// model's effective token budget while preserving full content in the
// store and the tool/assistant pairing compression must never lose.
package contextmgr

import (
	"context"
	"fmt"

	"agentcore/internal/convtypes"
)

const (
	// KTool is the number of most-recent tool-result messages kept
	// uncompressed by Tier 1.
	KTool = 5
	// KUser is the number of most-recent user messages kept uncompressed
	// by Tier 2.
	KUser = 10
	// KAssistant is the number of most-recent assistant messages kept
	// uncompressed by Tier 3.
	KAssistant = 10

	tier2LongTruncate    = 1500
	tier2MediumTruncate  = 500
	tier2MediumLenCutoff = 3000

	secondaryThresholdChars = 500

	middleOutCap  = 320
	middleOutHalf = 160

	defaultMaxIterations = 3
	omissionBatch         = 10
	minKeep               = 10
)

// TokenCounter is the subset of the Token Counter contract the Context
// Manager depends on.
type TokenCounter interface {
	Count(ctx context.Context, model string, messages []convtypes.Message, system string, applyCaching bool) int
}

// MessageUpdater is the subset of the Message Store contract the Context
// Manager depends on to persist compression in place.
type MessageUpdater interface {
	UpdateMessage(ctx context.Context, messageID string, content *convtypes.Content, metadata map[string]any) error
}

// Manager is the Context Manager component.
type Manager struct {
	Counter TokenCounter
	Store   MessageUpdater
}

// Input bundles the compression pipeline's parameters.
type Input struct {
	Messages          []convtypes.Message
	Model             string
	ActualTotalTokens *int
	SystemPrompt      string
	Thread            *convtypes.Thread
	ContextWindow     int
}

// Output is the pipeline result.
type Output struct {
	Messages  []convtypes.Message
	WroteToDB bool
}

// Compress runs the full tiered pipeline. It is a pure function of Messages
// given a fixed token measurement: identical input messages always produce
// identical output bytes, which is essential for prompt-cache hit stability
// (§4.3). DB writes (Tier 1-3 persistence) are a side effect reported via
// Output.WroteToDB, not part of the pure transform itself.
func (m *Manager) Compress(ctx context.Context, in Input) (Output, error) {
	budget := Budget(in.ContextWindow)
	target := Target(budget)

	messages := stripMeta(in.Messages)
	wrote := false

	tokens := m.measure(ctx, messages, in)
	if tokens <= budget {
		return Output{Messages: middleOut(messages), WroteToDB: false}, nil
	}

	messages, w, err := m.tier1(ctx, messages)
	if err != nil {
		return Output{}, err
	}
	wrote = wrote || w
	tokens = m.measure(ctx, messages, in)

	if tokens > target {
		messages, w, err = m.tier2(ctx, messages)
		if err != nil {
			return Output{}, err
		}
		wrote = wrote || w
		tokens = m.measure(ctx, messages, in)
	}

	if tokens > target {
		messages, w, err = m.tier3(ctx, messages)
		if err != nil {
			return Output{}, err
		}
		wrote = wrote || w
		tokens = m.measure(ctx, messages, in)
	}

	if tokens > target {
		messages = secondaryCompress(messages, secondaryThresholdChars, target)
		tokens = m.measure(ctx, messages, in)
	}

	messages = middleOut(messages)
	tokens = m.measure(ctx, messages, in)

	if tokens > budget {
		messages, tokens = m.recompress(ctx, messages, in, secondaryThresholdChars, defaultMaxIterations)
	}

	if in.Thread != nil && wrote {
		in.Thread.SetCacheNeedsRebuild(true)
	}

	return Output{Messages: messages, WroteToDB: wrote}, nil
}

func (m *Manager) measure(ctx context.Context, messages []convtypes.Message, in Input) int {
	if in.ActualTotalTokens != nil {
		return *in.ActualTotalTokens
	}
	return m.Counter.Count(ctx, in.Model, messages, in.SystemPrompt, true)
}

// recompress implements step 9: recurse with threshold/2 and
// max_iterations-1; when iterations are exhausted, fall back to message
// omission.
func (m *Manager) recompress(ctx context.Context, messages []convtypes.Message, in Input, threshold, iterationsLeft int) ([]convtypes.Message, int) {
	tokens := m.measure(ctx, messages, in)
	if tokens <= Budget(in.ContextWindow) {
		return messages, tokens
	}
	if iterationsLeft <= 0 {
		out := omitMessages(messages)
		for {
			t := m.measure(ctx, out, in)
			if t <= Budget(in.ContextWindow) || len(out) <= minKeep {
				return out, t
			}
			out = omitMessages(out)
		}
	}
	threshold = threshold / 2
	if threshold < 1 {
		threshold = 1
	}
	messages = secondaryCompress(messages, threshold, Target(Budget(in.ContextWindow)))
	return m.recompress(ctx, messages, in, threshold, iterationsLeft-1)
}

// stripMeta implements step 1: for every message whose object content
// carries a tool_execution object, remove its arguments subfield.
func stripMeta(in []convtypes.Message) []convtypes.Message {
	out := make([]convtypes.Message, len(in))
	copy(out, in)
	for i, msg := range out {
		if msg.Content.IsText || msg.Content.Object == nil {
			continue
		}
		te, ok := msg.Content.Object["tool_execution"].(map[string]any)
		if !ok {
			continue
		}
		if _, hasArgs := te["arguments"]; !hasArgs {
			continue
		}
		obj := cloneObject(msg.Content.Object)
		teClone := cloneObject(te)
		delete(teClone, "arguments")
		obj["tool_execution"] = teClone
		out[i].Content = convtypes.ObjectContent(obj)
	}
	return out
}

func cloneObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sentinel(kind, messageID string) string {
	return fmt.Sprintf("[%s removed for token management — see message_id %q. Use the expand-message tool to view the original content.]", kind, messageID)
}

// tier1 compresses tool-result messages older than the last KTool kept.
func (m *Manager) tier1(ctx context.Context, in []convtypes.Message) ([]convtypes.Message, bool, error) {
	return m.compressTier(ctx, in, convtypes.MessageTool, KTool, func(msg convtypes.Message) string {
		return sentinel("Tool output", msg.MessageID)
	})
}

// tier2 compresses user messages older than the last KUser kept, truncating
// rather than replacing wholesale.
func (m *Manager) tier2(ctx context.Context, in []convtypes.Message) ([]convtypes.Message, bool, error) {
	return m.compressTruncateTier(ctx, in, convtypes.MessageUser, KUser)
}

// tier3 is symmetric to tier2 for assistant messages.
func (m *Manager) tier3(ctx context.Context, in []convtypes.Message) ([]convtypes.Message, bool, error) {
	return m.compressTruncateTier(ctx, in, convtypes.MessageAssistant, KAssistant)
}

// compressTier replaces every message of the given type, older than the
// last keep of them, with a full sentinel (used by Tier 1).
func (m *Manager) compressTier(ctx context.Context, in []convtypes.Message, typ convtypes.MessageType, keep int, sentinelFn func(convtypes.Message) string) ([]convtypes.Message, bool, error) {
	out := make([]convtypes.Message, len(in))
	copy(out, in)

	idx := indicesOfType(out, typ)
	if len(idx) <= keep {
		return out, false, nil
	}
	cutoff := idx[len(idx)-keep]
	wrote := false
	for _, i := range idx {
		if i >= cutoff {
			continue
		}
		if out[i].Compressed() {
			continue
		}
		s := sentinelFn(out[i])
		if err := m.persistCompression(ctx, &out[i], s); err != nil {
			return nil, wrote, err
		}
		wrote = true
	}
	return out, wrote, nil
}

// compressTruncateTier truncates (rather than fully replaces) older
// messages of the given type with string content (Tiers 2 and 3).
func (m *Manager) compressTruncateTier(ctx context.Context, in []convtypes.Message, typ convtypes.MessageType, keep int) ([]convtypes.Message, bool, error) {
	out := make([]convtypes.Message, len(in))
	copy(out, in)

	idx := indicesOfType(out, typ)
	if len(idx) <= keep {
		return out, false, nil
	}
	cutoff := idx[len(idx)-keep]
	wrote := false
	for _, i := range idx {
		if i >= cutoff {
			continue
		}
		if out[i].Compressed() || !out[i].Content.IsText {
			continue
		}
		text := out[i].Content.Text
		limit := tier2LongTruncate
		if len(text) <= tier2MediumLenCutoff {
			limit = tier2MediumTruncate
		}
		if len(text) <= limit {
			continue
		}
		truncated := text[:limit] + " " + sentinel("Message content", out[i].MessageID)
		if err := m.persistCompression(ctx, &out[i], truncated); err != nil {
			return nil, wrote, err
		}
		wrote = true
	}
	return out, wrote, nil
}

func (m *Manager) persistCompression(ctx context.Context, msg *convtypes.Message, summary string) error {
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.SetCompressed(summary)
	if m.Store != nil {
		if err := m.Store.UpdateMessage(ctx, msg.MessageID, nil, msg.Metadata); err != nil {
			return fmt.Errorf("contextmgr: persist compression: %w", err)
		}
	}
	return nil
}

func indicesOfType(messages []convtypes.Message, typ convtypes.MessageType) []int {
	var idx []int
	for i, m := range messages {
		if m.Type == typ {
			idx = append(idx, i)
		}
	}
	return idx
}

// secondaryCompress implements step 7: per-message compression against a
// target budget using a per-message char threshold. Messages older than
// the tier keep-windows that still individually exceed threshold are
// truncated to 3x threshold chars; messages within the keep windows (still
// over threshold) are safe-truncated to 2x threshold chars, removing the
// middle rather than the tail, so content from both ends of a long message
// survives.
func secondaryCompress(in []convtypes.Message, threshold, _ int) []convtypes.Message {
	out := make([]convtypes.Message, len(in))
	copy(out, in)

	toolIdx := indicesOfType(out, convtypes.MessageTool)
	userIdx := indicesOfType(out, convtypes.MessageUser)
	asstIdx := indicesOfType(out, convtypes.MessageAssistant)
	recent := recentSet(toolIdx, KTool)
	for k, v := range recentSet(userIdx, KUser) {
		recent[k] = v
	}
	for k, v := range recentSet(asstIdx, KAssistant) {
		recent[k] = v
	}

	for _, i := range append(append(append([]int{}, toolIdx...), userIdx...), asstIdx...) {
		if out[i].Compressed() || !out[i].Content.IsText {
			continue
		}
		text := out[i].Content.Text
		if len(text) <= threshold {
			continue
		}
		var truncated string
		if recent[i] {
			truncated = safeTruncate(text, threshold*2)
		} else {
			truncated = text
			if len(truncated) > threshold*3 {
				truncated = truncated[:threshold*3]
			}
			truncated += " " + sentinel("Message content", out[i].MessageID)
		}
		out[i].SetCompressed(truncated)
	}
	return out
}

func recentSet(idx []int, keep int) map[int]bool {
	set := make(map[int]bool)
	start := len(idx) - keep
	if start < 0 {
		start = 0
	}
	for _, i := range idx[start:] {
		set[i] = true
	}
	return set
}

// safeTruncate removes the middle of a string, keeping the first and last
// half (minus the marker) so a single oversized message still fits within
// maxChars.
func safeTruncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	const marker = " ...[content truncated]... "
	avail := maxChars - len(marker)
	if avail < 2 {
		if maxChars < 0 {
			maxChars = 0
		}
		if maxChars > len(s) {
			maxChars = len(s)
		}
		return s[:maxChars]
	}
	half := avail / 2
	return s[:half] + marker + s[len(s)-half:]
}

// middleOut implements step 8: independently of token budget, if the list
// has more than middleOutCap messages, keep the first and last
// middleOutHalf, dropping the middle.
func middleOut(in []convtypes.Message) []convtypes.Message {
	if len(in) <= middleOutCap {
		return in
	}
	out := make([]convtypes.Message, 0, middleOutHalf*2)
	out = append(out, in[:middleOutHalf]...)
	out = append(out, in[len(in)-middleOutHalf:]...)
	return out
}

// omitMessages implements the message-omission fallback: remove a batch of
// omissionBatch messages from the middle, or from the front when the list
// is short (fewer than 2*omissionBatch+minKeep messages, where there may
// be no usable "middle" distinct from the keep-recent tail).
func omitMessages(in []convtypes.Message) []convtypes.Message {
	if len(in) <= minKeep {
		return in
	}
	n := omissionBatch
	if n > len(in)-minKeep {
		n = len(in) - minKeep
	}
	if n <= 0 {
		return in
	}
	if len(in) < 2*omissionBatch+minKeep {
		// Short list: drop from the front instead of carving a middle.
		return append([]convtypes.Message{}, in[n:]...)
	}
	mid := len(in) / 2
	start := mid - n/2
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(in) {
		end = len(in)
	}
	out := make([]convtypes.Message, 0, len(in)-n)
	out = append(out, in[:start]...)
	out = append(out, in[end:]...)
	return out
}
