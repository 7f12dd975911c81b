package respproc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
	"agentcore/internal/llm"
)

type fakeStore struct {
	messages []convtypes.Message
}

func (f *fakeStore) Append(_ context.Context, msg convtypes.Message) (string, error) {
	msg.MessageID = "msg-" + string(rune('a'+len(f.messages)))
	f.messages = append(f.messages, msg)
	return msg.MessageID, nil
}

type fakeDispatcher struct {
	calls []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, name string, raw json.RawMessage) ([]byte, error) {
	f.calls = append(f.calls, name)
	return []byte(`{"ok":true}`), nil
}

type fakeBilling struct {
	calledWith []convtypes.Usage
}

func (f *fakeBilling) OnUsage(_ context.Context, accountID, llmResponseID string, usage convtypes.Usage) error {
	f.calledWith = append(f.calledWith, usage)
	return nil
}

func TestProcessNonStreaming_XMLToolCall(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	billing := &fakeBilling{}
	p := &Processor{Store: store, Tools: dispatcher, Billing: billing, AccountID: func(string) string { return "acct-1" }}

	resp := llm.Message{
		Role: "assistant",
		Content: `<function_calls><invoke name="web_search"><parameter name="query">foo</parameter></invoke></function_calls>`,
	}
	usage := &convtypes.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Model: "claude-sonnet"}

	result, err := p.ProcessNonStreaming(context.Background(), "thread-1", resp, "claude-sonnet", FinishToolCalls, usage, ProcessorConfig{XMLToolCalling: true})
	require.NoError(t, err)
	require.Len(t, dispatcher.calls, 1)
	require.Equal(t, "web_search", dispatcher.calls[0])

	// Assistant message appended before the tool message (invocation order).
	require.Len(t, store.messages, 3) // assistant, tool, llm_response_end
	require.Equal(t, convtypes.MessageAssistant, store.messages[0].Type)
	require.Equal(t, convtypes.MessageTool, store.messages[1].Type)
	assistantID, ok := store.messages[1].Metadata["assistant_message_id"].(string)
	require.True(t, ok)
	require.Equal(t, result.AssistantMessageID, assistantID)
	require.Equal(t, convtypes.MessageLLMResponseEnd, store.messages[2].Type)

	require.Len(t, billing.calledWith, 1)
	require.Equal(t, 15, billing.calledWith[0].TotalTokens)
}

func TestProcessNonStreaming_NoToolCalls(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	p := &Processor{Store: store, Tools: dispatcher}

	resp := llm.Message{Role: "assistant", Content: "plain answer, no tools"}
	result, err := p.ProcessNonStreaming(context.Background(), "thread-1", resp, "claude-sonnet", FinishStop, nil, ProcessorConfig{NativeToolCalling: true, XMLToolCalling: true})
	require.NoError(t, err)
	require.Empty(t, dispatcher.calls)
	require.Len(t, store.messages, 1)
	require.False(t, result.Terminated)
}

func TestProcessNonStreaming_TerminatingTag(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	p := &Processor{Store: store, Tools: dispatcher}

	resp := llm.Message{Role: "assistant", Content: "all done <complete>summary</complete>"}
	result, err := p.ProcessNonStreaming(context.Background(), "thread-1", resp, "claude-sonnet", FinishStop, nil, ProcessorConfig{})
	require.NoError(t, err)
	require.True(t, result.Terminated)
}

func TestProcessNonStreaming_ParallelDispatchPreservesInvocationOrder(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	p := &Processor{Store: store, Tools: dispatcher}

	resp := llm.Message{
		Role: "assistant",
		Content: `<function_calls>
<invoke name="first"><parameter name="x">1</parameter></invoke>
<invoke name="second"><parameter name="x">2</parameter></invoke>
<invoke name="third"><parameter name="x">3</parameter></invoke>
</function_calls>`,
	}
	_, err := p.ProcessNonStreaming(context.Background(), "thread-1", resp, "claude-sonnet", FinishToolCalls, nil, ProcessorConfig{XMLToolCalling: true})
	require.NoError(t, err)

	// tool messages (indices 1..3, after the assistant message at 0) must be
	// appended in invocation order regardless of goroutine completion order.
	require.Len(t, store.messages, 4)
	for i, name := range []string{"first", "second", "third"} {
		content, ok := store.messages[i+1].Content.Object["tool_execution"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, name, content["name"])
	}
}
