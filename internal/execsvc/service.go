package execsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentcore/internal/convtypes"
	"agentcore/internal/observability"
	"agentcore/internal/triggers"
)

const activeRunTTL = 10 * time.Minute

// Service is the Execution Service component (spec §4.9).
type Service struct {
	Triggers   *triggers.Service
	Projects   ProjectStore
	Sandbox    SandboxProvisioner
	Threads    ThreadStore
	Agents     AgentResolver
	Runs       RunStore
	ActiveRuns ActiveRunRegistry
	Queue      Queue
	InstanceID string
}

// Execute runs spec §4.9 steps 3-5 for one set of matched triggers:
// process_event each one, and for every one whose result says execute,
// run the full project/sandbox/thread/run pipeline.
func (s *Service) Execute(ctx context.Context, matches []MatchedTrigger) (ExecutionResult, error) {
	result := ExecutionResult{Success: true, MatchedTriggers: len(matches)}

	for _, m := range matches {
		trResult, err := s.Triggers.ProcessEvent(ctx, m.TriggerID, m.RawData)
		if err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("trigger_id", m.TriggerID).Msg("execsvc: process_event failed")
			continue
		}
		if !trResult.Success || !trResult.ShouldExecute {
			continue
		}

		if err := s.runOne(ctx, m, trResult); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("trigger_id", m.TriggerID).Msg("execsvc: execution pipeline failed")
			continue
		}
		result.Executed++
	}
	return result, nil
}

func (s *Service) runOne(ctx context.Context, m MatchedTrigger, trResult triggers.TriggerResult) error {
	project, err := s.Projects.Create(ctx, m.AccountID, "trigger:"+m.TriggerSlug)
	if err != nil {
		return fmt.Errorf("execsvc: create project: %w", err)
	}

	// Sandbox creation is synchronous; roll back the project row on
	// failure (SPEC_FULL.md supplemented feature #7).
	if err := s.Sandbox.Provision(ctx, project.ID); err != nil {
		if derr := s.Projects.Delete(ctx, project.ID); derr != nil {
			observability.LoggerWithTrace(ctx).Error().Err(derr).Str("project_id", project.ID).Msg("execsvc: rollback project delete failed")
		}
		return fmt.Errorf("execsvc: provision sandbox: %w", err)
	}

	threadID, err := s.Threads.CreateThread(ctx, project.ID, m.AccountID)
	if err != nil {
		return fmt.Errorf("execsvc: create thread: %w", err)
	}

	prompt := renderInitialMessage(trResult.AgentPrompt, m.RawData, m.TriggerSlug, m.WebhookID)
	if _, err := s.Threads.AppendMessage(ctx, convtypes.Message{
		ThreadID:     threadID,
		Type:         convtypes.MessageUser,
		IsLLMMessage: true,
		Content:      convtypes.TextContent(prompt),
	}); err != nil {
		return fmt.Errorf("execsvc: append initial message: %w", err)
	}

	version, err := s.Agents.ResolveCurrentVersion(ctx, m.AgentID)
	if err != nil {
		return fmt.Errorf("execsvc: resolve agent version: %w", err)
	}
	allowed, err := s.Agents.CheckModelAccess(ctx, m.AccountID, version.Model)
	if err != nil {
		return fmt.Errorf("execsvc: check model access: %w", err)
	}
	if !allowed {
		return fmt.Errorf("execsvc: account %s denied access to model %s", m.AccountID, version.Model)
	}

	runID := uuid.NewString()
	if err := s.Runs.InsertRun(ctx, convtypes.AgentRun{
		ID:        runID,
		ThreadID:  threadID,
		Status:    convtypes.RunRunning,
		StartedAt: time.Now().UTC(),
		ModelName: version.Model,
	}); err != nil {
		return fmt.Errorf("execsvc: insert agent_runs: %w", err)
	}

	if err := s.ActiveRuns.Register(ctx, s.InstanceID, runID, activeRunTTL); err != nil {
		return fmt.Errorf("execsvc: register active run: %w", err)
	}

	agentConfig := make(map[string]any, len(version.Config)+1)
	for k, v := range version.Config {
		agentConfig[k] = v
	}
	agentConfig["system_prompt"] = version.SystemPrompt

	requestID := uuid.NewString()
	if err := s.Queue.EnqueueRunAgentBackground(ctx, RunAgentBackgroundJob{
		AgentRunID:  runID,
		ThreadID:    threadID,
		ProjectID:   project.ID,
		Model:       version.Model,
		AgentConfig: agentConfig,
		RequestID:   requestID,
	}); err != nil {
		return fmt.Errorf("execsvc: enqueue run_agent_background: %w", err)
	}
	return nil
}

// renderInitialMessage substitutes {{payload}}, {{trigger_slug}},
// {{webhook_id}} into the prompt template and appends a fenced Context
// JSON block carrying the raw payload (spec §4.9 step 4c, SPEC_FULL.md
// supplemented feature #9).
func renderInitialMessage(template string, rawData []byte, triggerSlug, webhookID string) string {
	replaced := strings.NewReplacer(
		"{{payload}}", string(rawData),
		"{{trigger_slug}}", triggerSlug,
		"{{webhook_id}}", webhookID,
	).Replace(template)

	var payload any
	if err := json.Unmarshal(rawData, &payload); err != nil {
		payload = string(rawData)
	}
	contextBlock, err := json.MarshalIndent(map[string]any{
		"payload":      payload,
		"trigger_slug": triggerSlug,
		"webhook_id":   webhookID,
	}, "", "  ")
	if err != nil {
		contextBlock = []byte("{}")
	}

	return fmt.Sprintf("%s\n\n```json\n%s\n```", replaced, contextBlock)
}
