// Package execsvc implements the Execution Service: it turns a matched
// webhook trigger into a running agent (spec §4.9).
package execsvc

import (
	"context"
	"time"

	"agentcore/internal/convtypes"
)

// Project is the sandboxed workspace an execution runs inside, grounded
// on the donor's persistence.Project model.
type Project struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// ProjectStore creates and, on rollback, deletes project rows.
type ProjectStore interface {
	Create(ctx context.Context, userID, name string) (Project, error)
	Delete(ctx context.Context, projectID string) error
}

// SandboxProvisioner synchronously provisions (and on failure, tears
// down) the filesystem/compute sandbox backing a project, grounded on
// the donor's internal/sandbox workdir scoping.
type SandboxProvisioner interface {
	Provision(ctx context.Context, projectID string) error
	Destroy(ctx context.Context, projectID string) error
}

// ThreadStore creates threads and appends the initial message.
type ThreadStore interface {
	CreateThread(ctx context.Context, projectID, accountID string) (threadID string, err error)
	AppendMessage(ctx context.Context, msg convtypes.Message) (string, error)
}

// AgentVersion is the resolved model/config for a run (SPEC_FULL.md
// supplemented feature: agent-version fallback chain).
type AgentVersion struct {
	AgentID       string
	VersionID     string
	Model         string
	SystemPrompt  string
	Config        map[string]any
}

// AgentResolver resolves an agent's current version/model and performs
// the unified billing/model-access check.
type AgentResolver interface {
	ResolveCurrentVersion(ctx context.Context, agentID string) (AgentVersion, error)
	CheckModelAccess(ctx context.Context, accountID, model string) (bool, error)
}

// RunStore inserts the agent_runs row for a new execution.
type RunStore interface {
	InsertRun(ctx context.Context, run convtypes.AgentRun) error
}

// ActiveRunRegistry registers the Redis active-run key with TTL (spec
// §5: "A thread may have at most one AgentRun in running status at a
// time").
type ActiveRunRegistry interface {
	Register(ctx context.Context, instanceID, runID string, ttl time.Duration) error
}

// Queue enqueues the background run job.
type Queue interface {
	EnqueueRunAgentBackground(ctx context.Context, job RunAgentBackgroundJob) error
}

// RunAgentBackgroundJob is the payload handed to the Background Runner
// (spec §4.9 step 4, component K).
type RunAgentBackgroundJob struct {
	AgentRunID  string
	ThreadID    string
	ProjectID   string
	Model       string
	AgentConfig map[string]any
	RequestID   string
}

// MatchedTrigger is one trigger matched to an inbound webhook (spec §4.9
// step 3).
type MatchedTrigger struct {
	TriggerID    string
	AgentID      string
	AccountID    string
	RawData      []byte
	TriggerSlug  string
	WebhookID    string
}

// ExecutionResult is returned to the webhook handler (spec §4.9 step 5).
type ExecutionResult struct {
	Success         bool
	MatchedTriggers int
	Executed        int
}
