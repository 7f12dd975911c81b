package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
	"agentcore/internal/execsvc"
	"agentcore/internal/respproc"
	"agentcore/internal/threadrunner"
)

type fakeExecutor struct {
	gotInput threadrunner.RunInput
	err      error
}

func (f *fakeExecutor) Run(_ context.Context, in threadrunner.RunInput) ([]respproc.Chunk, error) {
	f.gotInput = in
	return nil, f.err
}

type fakeThreadLoader struct {
	thread *convtypes.Thread
}

func (f *fakeThreadLoader) GetThread(context.Context, string) (*convtypes.Thread, error) {
	return f.thread, nil
}

type fakeRunStatus struct {
	failedCalls    int
	completedCalls int
}

func (f *fakeRunStatus) MarkFailed(context.Context, string, error) error {
	f.failedCalls++
	return nil
}
func (f *fakeRunStatus) MarkCompleted(context.Context, string) error {
	f.completedCalls++
	return nil
}

func TestThreadRunnerAdapter_RunAgentSuccess(t *testing.T) {
	exec := &fakeExecutor{}
	loader := &fakeThreadLoader{thread: &convtypes.Thread{ThreadID: "t1", AccountID: "acct-1"}}
	status := &fakeRunStatus{}
	adapter := &ThreadRunnerAdapter{Executor: exec, Threads: loader, Runs: status}

	err := adapter.RunAgent(context.Background(), execsvc.RunAgentBackgroundJob{
		AgentRunID:  "run-1",
		ThreadID:    "t1",
		Model:       "claude-sonnet-4-5",
		AgentConfig: map[string]any{"system_prompt": "be helpful"},
	})
	require.NoError(t, err)
	require.Equal(t, "acct-1", exec.gotInput.AccountID)
	require.Equal(t, "be helpful", exec.gotInput.SystemPrompt)
	require.Equal(t, 1, status.completedCalls)
	require.Equal(t, 0, status.failedCalls)
}

func TestThreadRunnerAdapter_RunAgentFailureMarksFailed(t *testing.T) {
	exec := &fakeExecutor{err: errBoom("llm exploded")}
	loader := &fakeThreadLoader{thread: &convtypes.Thread{ThreadID: "t1", AccountID: "acct-1"}}
	status := &fakeRunStatus{}
	adapter := &ThreadRunnerAdapter{Executor: exec, Threads: loader, Runs: status}

	err := adapter.RunAgent(context.Background(), execsvc.RunAgentBackgroundJob{AgentRunID: "run-1", ThreadID: "t1"})
	require.Error(t, err)
	require.Equal(t, 1, status.failedCalls)
	require.Equal(t, 0, status.completedCalls)
}

type errBoom string

func (e errBoom) Error() string { return string(e) }
