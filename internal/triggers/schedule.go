package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"

	"agentcore/internal/convtypes"
)

var scheduleConfigSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["cron_expression", "execution_type"],
	"properties": {
		"cron_expression": {"type": "string", "minLength": 1},
		"execution_type": {"type": "string", "enum": ["agent", "workflow"]},
		"timezone": {"type": "string"},
		"agent_prompt": {"type": "string"},
		"workflow_id": {"type": "string"}
	}
}`)

// JobScheduler is the cron-job registration side of the Schedule adapter,
// satisfied by cronrunner.Runner.
type JobScheduler interface {
	Schedule(ctx context.Context, name, cronExpr string, payload []byte) error
	Unschedule(ctx context.Context, name string) error
}

// ScheduleAdapter implements the Schedule Provider Adapter (spec §4.8).
type ScheduleAdapter struct {
	Jobs           JobScheduler
	WebhookBaseURL string
	SharedSecret   string
	HTTPClient     *http.Client
}

func (a *ScheduleAdapter) ValidateConfig(cfg map[string]any) error {
	return validateAgainstSchema(scheduleConfigSchema, cfg)
}

// SetupTrigger translates a fixed time-of-day, non-UTC cron expression to
// UTC (spec §4.8: "translate the cron to UTC if a specific-time-of-day
// expression is given in a non-UTC zone"), then registers a DB-side cron
// job named trigger_<trigger_id>.
func (a *ScheduleAdapter) SetupTrigger(ctx context.Context, t *convtypes.Trigger) (bool, error) {
	expr, _ := t.Config["cron_expression"].(string)
	tz, _ := t.Config["timezone"].(string)
	if tz == "" {
		tz = "UTC"
	}
	shifted, err := shiftFixedTimeToUTC(expr, tz)
	if err != nil {
		return false, fmt.Errorf("triggers/schedule: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"trigger_id":     t.TriggerID,
		"agent_id":       t.AgentID,
		"execution_type": t.Config["execution_type"],
		"agent_prompt":   t.Config["agent_prompt"],
		"workflow_id":    t.Config["workflow_id"],
		"workflow_input": t.Config["workflow_input"],
	})
	if err != nil {
		return false, fmt.Errorf("triggers/schedule: marshal payload: %w", err)
	}

	if err := a.Jobs.Schedule(ctx, jobName(t.TriggerID), shifted, payload); err != nil {
		return false, fmt.Errorf("triggers/schedule: schedule: %w", err)
	}
	return true, nil
}

func (a *ScheduleAdapter) TeardownTrigger(ctx context.Context, t *convtypes.Trigger) error {
	return a.Jobs.Unschedule(ctx, jobName(t.TriggerID))
}

// ProcessEvent handles the job-fired webhook delivery: it builds the
// agent prompt from config (or from a prior workflow resolution) and
// always signals execution.
func (a *ScheduleAdapter) ProcessEvent(_ context.Context, t *convtypes.Trigger, rawData []byte) (TriggerResult, error) {
	var fired struct {
		Timestamp     string         `json:"timestamp"`
		ExecutionType string         `json:"execution_type"`
		AgentPrompt   string         `json:"agent_prompt"`
		WorkflowID    string         `json:"workflow_id"`
		WorkflowInput map[string]any `json:"workflow_input"`
	}
	_ = json.Unmarshal(rawData, &fired)

	executionType, _ := t.Config["execution_type"].(string)
	if fired.ExecutionType != "" {
		executionType = fired.ExecutionType
	}
	prompt, _ := t.Config["agent_prompt"].(string)
	if fired.AgentPrompt != "" {
		prompt = fired.AgentPrompt
	}

	return TriggerResult{
		Success:       true,
		ShouldExecute: true,
		ExecutionType: executionType,
		AgentPrompt:   prompt,
		WorkflowID:    fired.WorkflowID,
		WorkflowInput: fired.WorkflowInput,
	}, nil
}

// Deliver POSTs the fired-job payload to the core's own webhook endpoint
// with the shared-secret header, the transport side of SetupTrigger's
// registered job (invoked by cronrunner when the job fires).
func (a *ScheduleAdapter) Deliver(ctx context.Context, triggerID string, payload []byte) error {
	url := fmt.Sprintf("%s/triggers/%s/webhook", a.WebhookBaseURL, triggerID)
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("triggers/schedule: deliver: decode payload: %w", err)
	}
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("triggers/schedule: deliver: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("triggers/schedule: deliver: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-trigger-secret", a.SharedSecret)

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("triggers/schedule: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("triggers/schedule: deliver: upstream returned %d", resp.StatusCode)
	}
	return nil
}

func jobName(triggerID string) string { return "trigger_" + triggerID }

// shiftFixedTimeToUTC rewrites a standard 5-field cron expression whose
// minute and hour fields are fixed numbers (not "*", ranges, steps or
// lists) from tz into the equivalent UTC hour/minute, preserving every
// other field unchanged (SPEC_FULL.md Open Question Resolution: "only
// fixed hour+minute expressions shifted").
func shiftFixedTimeToUTC(expr, tz string) (string, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if tz == "UTC" || tz == "" {
		return expr, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return expr, nil // unknown zone: leave expression untouched rather than fail setup
	}

	fields := splitFields(expr)
	if len(fields) != 5 || !isFixedField(fields[0]) || !isFixedField(fields[1]) {
		return expr, nil // not a fixed time-of-day expression: leave as-is
	}
	minute, hour := fields[0], fields[1]
	rest := fields[2] + " " + fields[3] + " " + fields[4]

	var h, m int
	if _, err := fmt.Sscanf(hour, "%d", &h); err != nil {
		return expr, nil
	}
	if _, err := fmt.Sscanf(minute, "%d", &m); err != nil {
		return expr, nil
	}

	anchor := time.Date(2000, 1, 1, h, m, 0, 0, loc)
	utc := anchor.UTC()
	return fmt.Sprintf("%d %d %s", utc.Minute(), utc.Hour(), rest), nil
}

func splitFields(expr string) []string {
	var fields []string
	cur := ""
	for _, r := range expr {
		if r == ' ' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}

func isFixedField(f string) bool {
	if f == "" {
		return false
	}
	for _, r := range f {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateAgainstSchema(schemaLoader gojsonschema.JSONLoader, cfg map[string]any) error {
	docLoader := gojsonschema.NewGoLoader(cfg)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msgs += "; "
			}
			msgs += e.String()
		}
		return fmt.Errorf("config invalid: %s", msgs)
	}
	return nil
}
