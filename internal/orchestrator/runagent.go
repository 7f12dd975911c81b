package orchestrator

import (
	"context"
	"fmt"

	"agentcore/internal/convtypes"
	"agentcore/internal/execsvc"
	"agentcore/internal/respproc"
	"agentcore/internal/threadrunner"
)

// ThreadExecutor is the Thread Runner's Run.
type ThreadExecutor interface {
	Run(ctx context.Context, in threadrunner.RunInput) ([]respproc.Chunk, error)
}

// ThreadLoader fetches the thread row a job references, so the adapter
// can populate RunInput.Thread (needed for the cache_needs_rebuild flag).
type ThreadLoader interface {
	GetThread(ctx context.Context, threadID string) (*convtypes.Thread, error)
}

// RunStatusSetter marks a run failed when the Thread Runner call itself
// errors out (distinct from a status/error chunk, which the Runner
// already handles internally without returning an error).
type RunStatusSetter interface {
	MarkFailed(ctx context.Context, agentRunID string, err error) error
	MarkCompleted(ctx context.Context, agentRunID string) error
}

// ThreadRunnerAdapter implements orchestrator.Runner by driving the
// Thread Runner for one run_agent_background job (spec §4.9 step 4 /
// §4.6).
type ThreadRunnerAdapter struct {
	Executor ThreadExecutor
	Threads  ThreadLoader
	Runs     RunStatusSetter
}

func (a *ThreadRunnerAdapter) RunAgent(ctx context.Context, job execsvc.RunAgentBackgroundJob) error {
	thread, err := a.Threads.GetThread(ctx, job.ThreadID)
	if err != nil {
		return fmt.Errorf("orchestrator: load thread %s: %w", job.ThreadID, err)
	}

	systemPrompt, _ := job.AgentConfig["system_prompt"].(string)
	accountID := ""
	if thread != nil {
		accountID = thread.AccountID
	}

	_, err = a.Executor.Run(ctx, threadrunner.RunInput{
		ThreadID:     job.ThreadID,
		RunID:        job.AgentRunID,
		AccountID:    accountID,
		Model:        job.Model,
		SystemPrompt: systemPrompt,
		Config:       respproc.ProcessorConfig{NativeToolCalling: true, XMLToolCalling: true, Strategy: respproc.ToolExecutionParallel},
		Thread:       thread,
	})
	if err != nil {
		if merr := a.Runs.MarkFailed(ctx, job.AgentRunID, err); merr != nil {
			return fmt.Errorf("orchestrator: run failed and mark_failed also failed: %w", merr)
		}
		return fmt.Errorf("orchestrator: thread runner: %w", err)
	}

	return a.Runs.MarkCompleted(ctx, job.AgentRunID)
}
