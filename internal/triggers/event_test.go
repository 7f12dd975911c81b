package triggers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
)

type fakeRemote struct {
	enableCalls  int
	disableCalls int
	deleteCalls  int
}

func (f *fakeRemote) Enable(context.Context, string) error  { f.enableCalls++; return nil }
func (f *fakeRemote) Disable(context.Context, string) error { f.disableCalls++; return nil }
func (f *fakeRemote) Delete(context.Context, string) error  { f.deleteCalls++; return nil }

func TestEventAdapter_SetupSkipsEnableWhenAlreadyReferenced(t *testing.T) {
	store := newFakeStore()
	remote := &fakeRemote{}
	adapter := &EventAdapter{Remote: remote, Store: store, ProviderID: "composio"}

	existing := &convtypes.Trigger{
		TriggerID: "existing", ProviderID: "composio", IsActive: true,
		Config: map[string]any{"composio_trigger_id": "remote-1"},
	}
	require.NoError(t, store.Create(context.Background(), existing))

	newTrig := &convtypes.Trigger{
		TriggerID: "new", Config: map[string]any{"composio_trigger_id": "remote-1"},
	}
	ok, err := adapter.SetupTrigger(context.Background(), newTrig)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, remote.enableCalls)
}

func TestEventAdapter_SetupEnablesWhenFirstReference(t *testing.T) {
	store := newFakeStore()
	remote := &fakeRemote{}
	adapter := &EventAdapter{Remote: remote, Store: store, ProviderID: "composio"}

	trig := &convtypes.Trigger{TriggerID: "new", Config: map[string]any{"composio_trigger_id": "remote-2"}}
	ok, err := adapter.SetupTrigger(context.Background(), trig)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, remote.enableCalls)
}

func TestEventAdapter_ProcessEventDefaultTemplate(t *testing.T) {
	adapter := EventAdapter{}
	trig := &convtypes.Trigger{Config: map[string]any{}}
	result, err := adapter.ProcessEvent(context.Background(), trig, []byte(`{"id":"evt-1","slug":"gmail.new_email"}`))
	require.NoError(t, err)
	require.Equal(t, "evt-1", result.RemoteEventID)
	require.Equal(t, "gmail.new_email", result.RemoteSlug)
	require.Contains(t, result.AgentPrompt, "evt-1")
}
