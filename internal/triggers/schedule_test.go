package triggers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
)

func TestShiftFixedTimeToUTC_FixedHourMinute(t *testing.T) {
	// 9:00 America/New_York in January is UTC-5 -> 14:00 UTC.
	shifted, err := shiftFixedTimeToUTC("0 9 * * *", "America/New_York")
	require.NoError(t, err)
	require.Equal(t, "0 14 * * *", shifted)
}

func TestShiftFixedTimeToUTC_AlreadyUTC(t *testing.T) {
	shifted, err := shiftFixedTimeToUTC("30 2 * * *", "UTC")
	require.NoError(t, err)
	require.Equal(t, "30 2 * * *", shifted)
}

func TestShiftFixedTimeToUTC_NonFixedExpressionUnchanged(t *testing.T) {
	shifted, err := shiftFixedTimeToUTC("*/5 * * * *", "America/New_York")
	require.NoError(t, err)
	require.Equal(t, "*/5 * * * *", shifted)
}

func TestShiftFixedTimeToUTC_InvalidExpression(t *testing.T) {
	_, err := shiftFixedTimeToUTC("not a cron", "UTC")
	require.Error(t, err)
}

type fakeJobScheduler struct {
	scheduled map[string]string
}

func (f *fakeJobScheduler) Schedule(_ context.Context, name, cronExpr string, _ []byte) error {
	if f.scheduled == nil {
		f.scheduled = map[string]string{}
	}
	f.scheduled[name] = cronExpr
	return nil
}

func (f *fakeJobScheduler) Unschedule(_ context.Context, name string) error {
	delete(f.scheduled, name)
	return nil
}

func TestScheduleAdapter_SetupRegistersJob(t *testing.T) {
	jobs := &fakeJobScheduler{}
	adapter := &ScheduleAdapter{Jobs: jobs, WebhookBaseURL: "https://example.com", SharedSecret: "s3cr3t"}

	trig := &convtypes.Trigger{
		TriggerID: "t-1",
		Config: map[string]any{
			"cron_expression": "0 9 * * *",
			"execution_type":  "agent",
			"timezone":        "UTC",
			"agent_prompt":    "do the thing",
		},
	}
	ok, err := adapter.SetupTrigger(context.Background(), trig)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0 9 * * *", jobs.scheduled["trigger_t-1"])

	require.NoError(t, adapter.TeardownTrigger(context.Background(), trig))
	_, stillThere := jobs.scheduled["trigger_t-1"]
	require.False(t, stillThere)
}

func TestScheduleAdapter_ValidateConfigRejectsMissingCron(t *testing.T) {
	adapter := &ScheduleAdapter{}
	err := adapter.ValidateConfig(map[string]any{"execution_type": "agent"})
	require.Error(t, err)
}

func TestWebhookAdapter_ProcessEventWrapsBody(t *testing.T) {
	adapter := WebhookAdapter{}
	trig := &convtypes.Trigger{Config: map[string]any{"agent_prompt": "context:"}}
	result, err := adapter.ProcessEvent(context.Background(), trig, []byte(`{"x":1}`))
	require.NoError(t, err)
	require.True(t, result.ShouldExecute)
	require.Contains(t, result.AgentPrompt, "context:")
	require.Contains(t, result.AgentPrompt, `{"x":1}`)
}
