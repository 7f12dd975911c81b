package respproc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentcore/internal/convtypes"
	"agentcore/internal/llm"
	"agentcore/internal/observability"
)

// MessageAppender is the subset of the Message Store contract the processor
// needs to persist assistant/tool/llm_response_end messages.
type MessageAppender interface {
	Append(ctx context.Context, msg convtypes.Message) (string, error)
}

// Dispatcher is the subset of the Tool Registry contract the processor
// dispatches tool calls through.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error)
}

// BillingHook is invoked once per llm_response_end insertion to deduct
// metered credits. Implementations must be idempotent per llm_response_id
// (spec §8 invariant 7).
type BillingHook interface {
	OnUsage(ctx context.Context, accountID, llmResponseID string, usage convtypes.Usage) error
}

// ToolExecutionStrategy selects how a turn's tool calls are dispatched.
// Only "parallel" is specified; it is the only strategy implemented.
type ToolExecutionStrategy string

const ToolExecutionParallel ToolExecutionStrategy = "parallel"

// defaultToolTimeout bounds a single tool invocation; on expiry the tool
// message records the failure and the turn continues (spec §5).
const defaultToolTimeout = 90 * time.Second

// ProcessorConfig is the immutable per-run configuration the Thread Runner
// hands to the Response Processor.
type ProcessorConfig struct {
	NativeToolCalling bool
	XMLToolCalling    bool
	Strategy          ToolExecutionStrategy
	ToolTimeout       time.Duration
}

// Processor is the Response Processor component.
type Processor struct {
	Store      MessageAppender
	Tools      Dispatcher
	Billing    BillingHook
	AccountID  func(threadID string) string
}

// Result is the outcome of processing one LLM completion.
type Result struct {
	Chunks             []Chunk
	AssistantMessageID string
	AssistantText      string
	ToolCalls          []llm.ToolCall
	Terminated         bool
	FinishReason       FinishReason
	Usage              *convtypes.Usage
}

// ProcessNonStreaming turns one complete LLM response into persisted
// messages and dispatched tool calls.
func (p *Processor) ProcessNonStreaming(ctx context.Context, threadID string, resp llm.Message, model string, finish FinishReason, usage *convtypes.Usage, cfg ProcessorConfig) (Result, error) {
	return p.process(ctx, threadID, resp, model, finish, usage, cfg)
}

// ProcessStreaming adapts a provider stream into the same pipeline: it
// implements llm.StreamHandler to accumulate deltas and native tool calls,
// invokes provider.ChatStream, then runs the same persistence/dispatch
// pipeline process_non_streaming uses once the stream completes. This is
// the Go expression of spec §9's "lazy finite sequence of chunks" design
// note — the provider's push-based callback is collected into one Result
// rather than threaded through as a pull-based generator, since our
// provider adapters are callback-driven (internal/llm.StreamHandler).
func (p *Processor) ProcessStreaming(ctx context.Context, provider llm.Provider, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string, threadID string, cfg ProcessorConfig) (Result, error) {
	acc := &streamAccumulator{}
	err := provider.ChatStream(ctx, msgs, toolSchemas, model, acc)
	if err != nil {
		return Result{}, fmt.Errorf("respproc: stream: %w", err)
	}
	resp := llm.Message{Role: "assistant", Content: acc.content.String(), ToolCalls: acc.toolCalls}
	finish := acc.finishReason
	if finish == "" {
		finish = FinishStop
	}
	var usage *convtypes.Usage
	if acc.gotUsage {
		usage = &convtypes.Usage{
			PromptTokens:             acc.usage.PromptTokens,
			CompletionTokens:         acc.usage.CompletionTokens,
			TotalTokens:              acc.usage.TotalTokens,
			CacheReadInputTokens:     acc.usage.CacheReadInputTokens,
			CacheCreationInputTokens: acc.usage.CacheCreationInputTokens,
			Model:                    model,
		}
	}
	return p.process(ctx, threadID, resp, model, finish, usage, cfg)
}

func (p *Processor) process(ctx context.Context, threadID string, resp llm.Message, model string, finish FinishReason, usage *convtypes.Usage, cfg ProcessorConfig) (Result, error) {
	var chunks []Chunk

	var calls []llm.ToolCall
	if cfg.NativeToolCalling {
		calls = append(calls, NativeToolCalls(resp)...)
	}
	if cfg.XMLToolCalling {
		calls = append(calls, ParseXMLToolCalls(resp.Content)...)
	}

	assistantMsg := convtypes.Message{
		ThreadID:     threadID,
		Type:         convtypes.MessageAssistant,
		IsLLMMessage: true,
		Content:      convtypes.TextContent(resp.Content),
		Metadata:     map[string]any{},
	}
	assistantID, err := p.Store.Append(ctx, assistantMsg)
	if err != nil {
		return Result{}, fmt.Errorf("respproc: append assistant message: %w", err)
	}
	chunks = append(chunks, Chunk{Type: ChunkAssistant, Content: resp.Content, Metadata: map[string]any{"finish_reason": string(finish)}})

	toolsExecuted := false
	if len(calls) > 0 {
		strategy := cfg.Strategy
		if strategy == "" {
			strategy = ToolExecutionParallel
		}
		results := p.dispatchParallel(ctx, calls, cfg)
		toolsExecuted = true
		for i, res := range results {
			meta := map[string]any{"assistant_message_id": assistantID, "function_name": calls[i].Name}
			toolContent := convtypes.ObjectContent(map[string]any{
				"tool_execution": map[string]any{
					"name":      calls[i].Name,
					"arguments": json.RawMessage(calls[i].Args),
					"result":    string(res.payload),
					"error":     errString(res.err),
				},
			})
			toolMsg := convtypes.Message{
				ThreadID:     threadID,
				Type:         convtypes.MessageTool,
				IsLLMMessage: true,
				Content:      toolContent,
				Metadata:     meta,
			}
			if _, err := p.Store.Append(ctx, toolMsg); err != nil {
				return Result{}, fmt.Errorf("respproc: append tool message: %w", err)
			}
			chunks = append(chunks, Chunk{
				Type:     ChunkTool,
				Content:  string(res.payload),
				Metadata: map[string]any{"function_name": calls[i].Name, "assistant_message_id": assistantID},
			})
		}
	}

	if usage != nil {
		llmResponseID := uuid.NewString()
		endMsg := convtypes.Message{
			ThreadID:     threadID,
			Type:         convtypes.MessageLLMResponseEnd,
			IsLLMMessage: false,
			Content: convtypes.ObjectContent(map[string]any{
				"usage":           usage,
				"model":           model,
				"llm_response_id": llmResponseID,
			}),
			Metadata: map[string]any{},
		}
		if _, err := p.Store.Append(ctx, endMsg); err != nil {
			return Result{}, fmt.Errorf("respproc: append llm_response_end: %w", err)
		}
		if p.Billing != nil {
			accountID := ""
			if p.AccountID != nil {
				accountID = p.AccountID(threadID)
			}
			if err := p.Billing.OnUsage(ctx, accountID, llmResponseID, *usage); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("thread_id", threadID).Msg("respproc: billing deduction failed")
			}
		}
	}

	autoState := &AutoContinueState{}
	observedChunk := Chunk{Metadata: map[string]any{"finish_reason": string(finish), "tools_executed": toolsExecuted}}
	drop := autoState.Observe(observedChunk)
	if !drop {
		chunks = append(chunks, observedChunk)
	}

	terminated := Terminated(resp.Content, nil)

	return Result{
		Chunks:             chunks,
		AssistantMessageID: assistantID,
		AssistantText:      resp.Content,
		ToolCalls:          calls,
		Terminated:         terminated,
		FinishReason:       finish,
		Usage:              usage,
	}, nil
}

type toolResult struct {
	payload []byte
	err     error
}

// dispatchParallel runs every tool call concurrently (tool_execution_strategy
// = parallel) but returns results indexed by invocation order so the caller
// appends tool messages after the assistant message in invocation order,
// regardless of completion order (spec §5).
func (p *Processor) dispatchParallel(ctx context.Context, calls []llm.ToolCall, cfg ProcessorConfig) []toolResult {
	results := make([]toolResult, len(calls))
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			payload, err := p.Tools.Dispatch(tctx, call.Name, call.Args)
			if err != nil {
				results[i] = toolResult{err: err}
				return
			}
			results[i] = toolResult{payload: payload}
		}(i, call)
	}
	wg.Wait()
	return results
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// streamAccumulator implements llm.StreamHandler, buffering deltas and
// native tool calls emitted during ChatStream into one completed message.
type streamAccumulator struct {
	content      stringsBuilder
	toolCalls    []llm.ToolCall
	finishReason FinishReason
	usage        llm.Usage
	gotUsage     bool
}

func (a *streamAccumulator) OnDelta(content string)        { a.content.WriteString(content) }
func (a *streamAccumulator) OnToolCall(tc llm.ToolCall)     { a.toolCalls = append(a.toolCalls, tc) }
func (a *streamAccumulator) OnImage(img llm.GeneratedImage) {}
func (a *streamAccumulator) OnThoughtSummary(summary string) {}

// OnUsage captures the provider's token accounting so ProcessStreaming can
// persist the same llm_response_end / billing path ProcessNonStreaming uses.
func (a *streamAccumulator) OnUsage(u llm.Usage) {
	a.usage = u
	a.gotUsage = true
}

// stringsBuilder is a tiny indirection so accumulator fields stay zero-value
// constructible without importing strings.Builder's non-comparable state
// into the exported type.
type stringsBuilder struct {
	b []byte
}

func (s *stringsBuilder) WriteString(v string) { s.b = append(s.b, v...) }
func (s *stringsBuilder) String() string       { return string(s.b) }
