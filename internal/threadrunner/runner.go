// Package threadrunner implements the Thread Runner: the per-turn state
// machine driving LLM calls, streaming responses, auto-continue, provider
// failover, and credit reservation (spec §4.6).
package threadrunner

import (
	"context"
	"fmt"
	"strings"

	"agentcore/internal/contextmgr"
	"agentcore/internal/convtypes"
	"agentcore/internal/errproc"
	"agentcore/internal/llm"
	"agentcore/internal/observability"
	"agentcore/internal/promptcache"
	"agentcore/internal/respproc"
)

// NativeMaxAutoContinues is the default auto-continue ceiling (spec §4.6
// step 9b).
const NativeMaxAutoContinues = 25

// MessageStore is the subset of the Message Store contract the runner
// depends on.
type MessageStore interface {
	ListLLMMessages(ctx context.Context, threadID string) ([]convtypes.Message, error)
	Append(ctx context.Context, msg convtypes.Message) (string, error)
	LatestOfType(ctx context.Context, threadID string, typ convtypes.MessageType) (*convtypes.Message, error)
}

// Compressor is the Context Manager contract.
type Compressor interface {
	Compress(ctx context.Context, in contextmgr.Input) (contextmgr.Output, error)
}

// TokenCounter is the Token Counter contract, used for the fast budget
// check (spec §4.6 step 1).
type TokenCounter interface {
	Count(ctx context.Context, model string, messages []convtypes.Message, system string, applyCaching bool) int
}

// CreditChecker is the billing reservation contract (spec §4.6 "Credit
// reservation").
type CreditChecker interface {
	CheckAndReserve(ctx context.Context, accountID string) (canRun bool, reservationID string, err error)
}

// RunStatusChecker lets the runner observe external cancellation
// (agent_runs.status = 'stopped') between iterations (spec §5).
type RunStatusChecker interface {
	Status(ctx context.Context, runID string) (convtypes.RunStatus, error)
}

// StreamProcessor is the Response Processor contract the runner drives.
type StreamProcessor interface {
	ProcessStreaming(ctx context.Context, provider llm.Provider, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string, threadID string, cfg respproc.ProcessorConfig) (respproc.Result, error)
}

// Runner is the Thread Runner component.
type Runner struct {
	Store        MessageStore
	Compressor   Compressor
	Cache        promptcache.Layer
	Counter      TokenCounter
	Credits      CreditChecker
	RunStatus    RunStatusChecker
	Processor    StreamProcessor
	ToolSchemas  func() []llm.ToolSchema
	Provider     func(model string) llm.Provider
	ContextWindow func(model string) int

	// SecondaryPrefix is prepended to the model id on AgentOverloaded
	// failover (spec §4.6 step 10), e.g. "openrouter/".
	SecondaryPrefix string
	// MaxAutoContinues overrides NativeMaxAutoContinues when non-zero.
	MaxAutoContinues int
}

// RunInput bundles one run_thread invocation's parameters.
type RunInput struct {
	ThreadID     string
	RunID        string
	AccountID    string
	Model        string
	SystemPrompt string
	Config       respproc.ProcessorConfig
	Thread       *convtypes.Thread
}

// Run executes run_thread to completion, returning every chunk yielded
// across all auto-continue iterations in order. The Thread Runner never
// raises out of this call (spec §9 design note): failures are represented
// as status/error or status/stopped chunks appended to the returned slice,
// with a nil error.
func (r *Runner) Run(ctx context.Context, in RunInput) ([]respproc.Chunk, error) {
	var allChunks []respproc.Chunk
	state := &respproc.AutoContinueState{}
	model := in.Model
	lastModel := ""
	maxContinues := r.MaxAutoContinues
	if maxContinues <= 0 {
		maxContinues = NativeMaxAutoContinues
	}

	for {
		if r.RunStatus != nil && in.RunID != "" {
			status, err := r.RunStatus.Status(ctx, in.RunID)
			if err == nil && status == convtypes.RunStopped {
				return allChunks, nil
			}
		}

		canRun, _, err := r.reserveCredits(ctx, in.AccountID)
		if err != nil {
			chunk := statusChunk(errproc.ToChunk(ctx, fmt.Errorf("credit reservation: %w", err), nil))
			return append(allChunks, chunk), nil
		}
		if !canRun {
			allChunks = append(allChunks, statusChunk(errproc.StoppedChunk("Insufficient credits: insufficient")))
			return allChunks, nil
		}

		messages, err := r.Store.ListLLMMessages(ctx, in.ThreadID)
		if err != nil {
			return append(allChunks, statusChunk(errproc.ToChunk(ctx, err, nil))), nil
		}

		skipCompression := r.fastBudgetCheck(ctx, in.ThreadID, model, messages)

		if state.Count > 0 && state.AccumulatedContent != "" {
			messages = append(messages, convtypes.Message{
				ThreadID:     in.ThreadID,
				Type:         convtypes.MessageAssistant,
				IsLLMMessage: true,
				Content:      convtypes.TextContent(state.AccumulatedContent),
			})
		}

		if !skipCompression && r.Compressor != nil {
			out, err := r.Compressor.Compress(ctx, contextmgr.Input{
				Messages:      messages,
				Model:         model,
				SystemPrompt:  in.SystemPrompt,
				Thread:        in.Thread,
				ContextWindow: r.contextWindow(model),
			})
			if err != nil {
				return append(allChunks, statusChunk(errproc.ToChunk(ctx, err, nil))), nil
			}
			messages = out.Messages
		}

		modelChanged := lastModel != "" && lastModel != model
		lastModel = model
		llmMessages := r.applyCache(in.Thread, model, modelChanged, messages, in.SystemPrompt)

		provider := r.Provider(model)
		if provider == nil {
			err := fmt.Errorf("threadrunner: no provider configured for model %q", model)
			return append(allChunks, statusChunk(errproc.ToChunk(ctx, err, nil))), nil
		}

		var schemas []llm.ToolSchema
		if r.ToolSchemas != nil {
			schemas = r.ToolSchemas()
		}

		result, err := r.Processor.ProcessStreaming(ctx, provider, llmMessages, schemas, model, in.ThreadID, in.Config)
		if err != nil {
			if errproc.IsOverloaded(err) && !strings.Contains(model, r.SecondaryPrefix) && r.SecondaryPrefix != "" {
				model = r.SecondaryPrefix + model
				state.Active = true
				observability.LoggerWithTrace(ctx).Warn().Str("thread_id", in.ThreadID).Str("failover_model", model).Msg("threadrunner: provider overloaded, failing over")
				continue
			}
			return append(allChunks, statusChunk(errproc.ToChunk(ctx, err, nil))), nil
		}

		// The outer auto-continue state persists across iterations (unlike
		// respproc's own transient tracking, which only decides whether to
		// drop a finish_reason=length chunk from this turn's forwarding).
		for _, c := range result.Chunks {
			if state.Observe(c) {
				continue // finish_reason=length: internal continuation signal, not user-visible
			}
			allChunks = append(allChunks, c)
		}

		if result.FinishReason == respproc.FinishLength {
			state.AccumulatedContent += result.AssistantText
		} else {
			state.AccumulatedContent = ""
		}

		if result.Terminated {
			return allChunks, nil
		}
		if !state.Active {
			return allChunks, nil
		}
		if state.Count >= maxContinues {
			return allChunks, nil
		}
	}
}

func (r *Runner) reserveCredits(ctx context.Context, accountID string) (bool, string, error) {
	if r.Credits == nil {
		return true, "", nil
	}
	return r.Credits.CheckAndReserve(ctx, accountID)
}

// fastBudgetCheck implements spec §4.6 step 1: if the last llm_response_end
// usage for this thread (at the same model identity) plus the latest user
// message's estimated tokens is comfortably under budget, skip compression
// this turn.
func (r *Runner) fastBudgetCheck(ctx context.Context, threadID, model string, messages []convtypes.Message) bool {
	latest, err := r.Store.LatestOfType(ctx, threadID, convtypes.MessageLLMResponseEnd)
	if err != nil || latest == nil || latest.Content.IsText || latest.Content.Object == nil {
		return false
	}
	usageRaw, ok := latest.Content.Object["usage"].(map[string]any)
	if !ok {
		return false
	}
	storedModel, _ := latest.Content.Object["model"].(string)
	if stripProviderPrefix(storedModel) != stripProviderPrefix(model) {
		return false
	}
	lastTotal, _ := usageRaw["total_tokens"].(float64)

	var lastUserTokens int
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		if last.Type == convtypes.MessageUser && last.Content.IsText && r.Counter != nil {
			lastUserTokens = r.Counter.Count(ctx, model, []convtypes.Message{last}, "", false)
		}
	}
	estimated := int(lastTotal) + lastUserTokens
	return estimated < r.budget(model)
}

func (r *Runner) budget(model string) int {
	return contextmgr.Budget(r.contextWindow(model))
}

func (r *Runner) contextWindow(model string) int {
	if r.ContextWindow != nil {
		if w := r.ContextWindow(model); w > 0 {
			return w
		}
	}
	w, _ := llm.ContextSize(model)
	return w
}

func (r *Runner) applyCache(thread *convtypes.Thread, model string, modelChanged bool, messages []convtypes.Message, systemPrompt string) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		if !m.Content.IsText {
			continue
		}
		role := "user"
		switch m.Type {
		case convtypes.MessageAssistant:
			role = "assistant"
		case convtypes.MessageTool:
			role = "tool"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content.Text})
	}

	if r.Cache == nil {
		return out
	}

	rebuild := r.Cache.NeedsRebuild(false, thread != nil && thread.CacheNeedsRebuild(), modelChanged)
	if rebuild {
		out = r.Cache.Apply(model, out)
		if thread != nil {
			thread.SetCacheNeedsRebuild(false)
		}
	}
	return out
}

func stripProviderPrefix(model string) string {
	if idx := strings.LastIndex(model, "/"); idx != -1 {
		return model[idx+1:]
	}
	return model
}

func statusChunk(s errproc.StatusChunk) respproc.Chunk {
	return respproc.Chunk{
		Type:    respproc.ChunkStatus,
		Content: s.Message,
		Metadata: map[string]any{
			"status":  s.Status,
			"context": s.Context,
		},
	}
}
