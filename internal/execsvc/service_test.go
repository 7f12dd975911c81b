package execsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
	"agentcore/internal/triggers"
)

type fakeProjects struct {
	created []string
	deleted []string
}

func (f *fakeProjects) Create(_ context.Context, userID, name string) (Project, error) {
	id := "proj-" + name
	f.created = append(f.created, id)
	return Project{ID: id, UserID: userID, Name: name}, nil
}

func (f *fakeProjects) Delete(_ context.Context, projectID string) error {
	f.deleted = append(f.deleted, projectID)
	return nil
}

type fakeSandbox struct {
	failProvision bool
}

func (f *fakeSandbox) Provision(context.Context, string) error {
	if f.failProvision {
		return errString("provisioning failed")
	}
	return nil
}
func (f *fakeSandbox) Destroy(context.Context, string) error { return nil }

type errString string

func (e errString) Error() string { return string(e) }

type fakeThreads struct {
	appended []convtypes.Message
}

func (f *fakeThreads) CreateThread(context.Context, string, string) (string, error) {
	return "thread-1", nil
}
func (f *fakeThreads) AppendMessage(_ context.Context, msg convtypes.Message) (string, error) {
	f.appended = append(f.appended, msg)
	return "msg-1", nil
}

type fakeAgents struct {
	allowed bool
}

func (f *fakeAgents) ResolveCurrentVersion(context.Context, string) (AgentVersion, error) {
	return AgentVersion{AgentID: "agent-1", Model: "claude-sonnet-4-5"}, nil
}
func (f *fakeAgents) CheckModelAccess(context.Context, string, string) (bool, error) {
	return f.allowed, nil
}

type fakeRuns struct {
	inserted []convtypes.AgentRun
}

func (f *fakeRuns) InsertRun(_ context.Context, run convtypes.AgentRun) error {
	f.inserted = append(f.inserted, run)
	return nil
}

type fakeActiveRuns struct {
	registered bool
}

func (f *fakeActiveRuns) Register(context.Context, string, string, time.Duration) error {
	f.registered = true
	return nil
}

type fakeQueue struct {
	enqueued []RunAgentBackgroundJob
}

func (f *fakeQueue) EnqueueRunAgentBackground(_ context.Context, job RunAgentBackgroundJob) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

type fakeAdapter struct{}

func (fakeAdapter) ValidateConfig(map[string]any) error { return nil }
func (fakeAdapter) SetupTrigger(context.Context, *convtypes.Trigger) (bool, error) {
	return true, nil
}
func (fakeAdapter) TeardownTrigger(context.Context, *convtypes.Trigger) error { return nil }
func (fakeAdapter) ProcessEvent(context.Context, *convtypes.Trigger, []byte) (triggers.TriggerResult, error) {
	return triggers.TriggerResult{Success: true, ShouldExecute: true, AgentPrompt: "hi {{trigger_slug}}"}, nil
}

type fakeTriggerStore struct {
	triggers map[string]*convtypes.Trigger
}

func (s *fakeTriggerStore) Create(context.Context, *convtypes.Trigger) error { return nil }
func (s *fakeTriggerStore) Get(_ context.Context, id string) (*convtypes.Trigger, error) {
	return s.triggers[id], nil
}
func (s *fakeTriggerStore) ListByAgent(context.Context, string) ([]*convtypes.Trigger, error) {
	return nil, nil
}
func (s *fakeTriggerStore) ListActiveByProvider(context.Context, string) ([]*convtypes.Trigger, error) {
	return nil, nil
}
func (s *fakeTriggerStore) CountActiveByConfigKey(context.Context, string, string, string) (int, error) {
	return 0, nil
}
func (s *fakeTriggerStore) Update(context.Context, *convtypes.Trigger) error { return nil }
func (s *fakeTriggerStore) Delete(context.Context, string) error            { return nil }
func (s *fakeTriggerStore) LogEvent(context.Context, string, []byte, triggers.TriggerResult) error {
	return nil
}

func newTestService(t *testing.T, sandboxFails, modelAllowed bool) (*Service, *fakeProjects, *fakeSandbox, *fakeQueue) {
	store := &fakeTriggerStore{triggers: map[string]*convtypes.Trigger{
		"trig-1": {TriggerID: "trig-1", AgentID: "agent-1", Config: map[string]any{"provider_id": "webhook"}},
	}}
	svc := triggers.New(store, map[string]triggers.Adapter{"webhook": fakeAdapter{}})

	projects := &fakeProjects{}
	sandbox := &fakeSandbox{failProvision: sandboxFails}
	queue := &fakeQueue{}

	return &Service{
		Triggers:   svc,
		Projects:   projects,
		Sandbox:    sandbox,
		Threads:    &fakeThreads{},
		Agents:     &fakeAgents{allowed: modelAllowed},
		Runs:       &fakeRuns{},
		ActiveRuns: &fakeActiveRuns{},
		Queue:      queue,
		InstanceID: "instance-1",
	}, projects, sandbox, queue
}

func TestExecute_HappyPath(t *testing.T) {
	svc, _, _, queue := newTestService(t, false, true)

	result, err := svc.Execute(context.Background(), []MatchedTrigger{
		{TriggerID: "trig-1", AgentID: "agent-1", AccountID: "acct-1", RawData: []byte(`{}`), TriggerSlug: "slug-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Executed)
	require.Len(t, queue.enqueued, 1)
}

func TestExecute_RollsBackProjectOnSandboxFailure(t *testing.T) {
	svc, projects, _, queue := newTestService(t, true, true)

	result, err := svc.Execute(context.Background(), []MatchedTrigger{
		{TriggerID: "trig-1", AgentID: "agent-1", AccountID: "acct-1", RawData: []byte(`{}`), TriggerSlug: "slug-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Executed)
	require.Len(t, projects.created, 1)
	require.Equal(t, projects.created, projects.deleted)
	require.Empty(t, queue.enqueued)
}

func TestExecute_DeniedModelAccessSkipsEnqueue(t *testing.T) {
	svc, _, _, queue := newTestService(t, false, false)

	result, err := svc.Execute(context.Background(), []MatchedTrigger{
		{TriggerID: "trig-1", AgentID: "agent-1", AccountID: "acct-1", RawData: []byte(`{}`), TriggerSlug: "slug-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Executed)
	require.Empty(t, queue.enqueued)
}

func TestRenderInitialMessage_SubstitutesAndAppendsContext(t *testing.T) {
	out := renderInitialMessage("Handle {{trigger_slug}} from {{webhook_id}}: {{payload}}", []byte(`{"a":1}`), "gmail.new_email", "wh-1")
	require.Contains(t, out, "gmail.new_email")
	require.Contains(t, out, "wh-1")
	require.Contains(t, out, `{"a":1}`)
	require.Contains(t, out, "```json")
}
