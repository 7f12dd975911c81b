package threadrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
	"agentcore/internal/llm"
	"agentcore/internal/respproc"
)

type fakeStore struct {
	appended []convtypes.Message
	latest   map[convtypes.MessageType]*convtypes.Message
	messages []convtypes.Message
}

func (f *fakeStore) ListLLMMessages(context.Context, string) ([]convtypes.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) Append(_ context.Context, msg convtypes.Message) (string, error) {
	f.appended = append(f.appended, msg)
	return "m-id", nil
}

func (f *fakeStore) LatestOfType(_ context.Context, _ string, typ convtypes.MessageType) (*convtypes.Message, error) {
	if f.latest == nil {
		return nil, nil
	}
	return f.latest[typ], nil
}

type fakeCredits struct {
	can bool
}

func (f *fakeCredits) CheckAndReserve(context.Context, string) (bool, string, error) {
	return f.can, "res-1", nil
}

type fakeProcessor struct {
	results []respproc.Result
	calls   int
}

func (f *fakeProcessor) ProcessStreaming(context.Context, llm.Provider, []llm.Message, []llm.ToolSchema, string, string, respproc.ProcessorConfig) (respproc.Result, error) {
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

type fakeProvider struct{}

func (fakeProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{}, nil
}
func (fakeProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func TestRun_CreditDenialStopsImmediately(t *testing.T) {
	r := &Runner{
		Store:   &fakeStore{},
		Credits: &fakeCredits{can: false},
		Provider: func(string) llm.Provider { return fakeProvider{} },
	}
	chunks, err := r.Run(context.Background(), RunInput{ThreadID: "t1", Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, respproc.ChunkStatus, chunks[0].Type)
	require.Equal(t, "stopped", chunks[0].Metadata["status"])
}

func TestRun_SingleIterationNoAutoContinue(t *testing.T) {
	proc := &fakeProcessor{results: []respproc.Result{
		{
			Chunks:       []respproc.Chunk{{Type: respproc.ChunkAssistant, Content: "done"}},
			Terminated:   false,
			FinishReason: respproc.FinishStop,
		},
	}}
	r := &Runner{
		Store:     &fakeStore{},
		Credits:   &fakeCredits{can: true},
		Processor: proc,
		Provider:  func(string) llm.Provider { return fakeProvider{} },
	}
	chunks, err := r.Run(context.Background(), RunInput{ThreadID: "t1", Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, 1, proc.calls)
	require.Len(t, chunks, 1)
}

func TestRun_AutoContinueOnToolCallsThenStops(t *testing.T) {
	proc := &fakeProcessor{results: []respproc.Result{
		{
			Chunks: []respproc.Chunk{
				{Type: respproc.ChunkTool, Content: "result"},
				{Metadata: map[string]any{"finish_reason": "tool_calls"}},
			},
			FinishReason: respproc.FinishToolCalls,
		},
		{
			Chunks:       []respproc.Chunk{{Type: respproc.ChunkAssistant, Content: "final"}},
			Terminated:   true,
			FinishReason: respproc.FinishStop,
		},
	}}
	r := &Runner{
		Store:     &fakeStore{},
		Credits:   &fakeCredits{can: true},
		Processor: proc,
		Provider:  func(string) llm.Provider { return fakeProvider{} },
	}
	chunks, err := r.Run(context.Background(), RunInput{ThreadID: "t1", Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, 2, proc.calls)
	require.Len(t, chunks, 3)
}

func TestRun_MaxAutoContinuesCeiling(t *testing.T) {
	results := make([]respproc.Result, 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, respproc.Result{
			Chunks:       []respproc.Chunk{{Metadata: map[string]any{"finish_reason": "tool_calls"}}},
			FinishReason: respproc.FinishToolCalls,
		})
	}
	proc := &fakeProcessor{results: results}
	r := &Runner{
		Store:            &fakeStore{},
		Credits:          &fakeCredits{can: true},
		Processor:        proc,
		Provider:         func(string) llm.Provider { return fakeProvider{} },
		MaxAutoContinues: 3,
	}
	_, err := r.Run(context.Background(), RunInput{ThreadID: "t1", Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, 3, proc.calls)
}
