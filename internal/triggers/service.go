package triggers

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"agentcore/internal/convtypes"
	"agentcore/internal/observability"
)

// Service is the Trigger Service component (spec §4.7).
type Service struct {
	Store     Store
	Adapters  map[string]Adapter // keyed by provider_id
}

func New(store Store, adapters map[string]Adapter) *Service {
	return &Service{Store: store, Adapters: adapters}
}

func (s *Service) adapterFor(t *convtypes.Trigger) (Adapter, error) {
	providerID, _ := t.Config["provider_id"].(string)
	if providerID == "" {
		providerID = strings.ToLower(string(t.TriggerType))
	}
	a, ok := s.Adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("triggers: no provider adapter registered for %q", providerID)
	}
	return a, nil
}

// Create inserts a trigger row in the inactive state, validating config
// against the selected provider and storing provider_id back into config
// (spec §3 invariant). If t.IsActive is set on input, it is immediately
// transitioned to active (setup then persist).
func (s *Service) Create(ctx context.Context, t *convtypes.Trigger) error {
	if t.Config == nil {
		t.Config = map[string]any{}
	}
	providerID, _ := t.Config["provider_id"].(string)
	if providerID == "" {
		providerID = strings.ToLower(string(t.TriggerType))
		t.Config["provider_id"] = providerID
	}
	adapter, err := s.adapterFor(t)
	if err != nil {
		return err
	}
	if err := adapter.ValidateConfig(t.Config); err != nil {
		return fmt.Errorf("triggers: invalid config: %w", err)
	}

	wantActive := t.IsActive
	t.IsActive = false
	if err := s.Store.Create(ctx, t); err != nil {
		return fmt.Errorf("triggers: create: %w", err)
	}

	// Composio (event) triggers already exist upstream, enabled, at
	// creation time — only local bookkeeping is required, skip setup.
	if wantActive && providerID != "composio" {
		return s.activate(ctx, t, adapter)
	}
	if wantActive {
		t.IsActive = true
		return s.Store.Update(ctx, t)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, triggerID string) (*convtypes.Trigger, error) {
	return s.Store.Get(ctx, triggerID)
}

func (s *Service) ListByAgent(ctx context.Context, agentID string) ([]*convtypes.Trigger, error) {
	return s.Store.ListByAgent(ctx, agentID)
}

// Update applies a config/is_active change, driving the state machine
// transitions described in spec §4.7.
func (s *Service) Update(ctx context.Context, t *convtypes.Trigger) error {
	current, err := s.Store.Get(ctx, t.TriggerID)
	if err != nil {
		return fmt.Errorf("triggers: update: load current: %w", err)
	}
	adapter, err := s.adapterFor(t)
	if err != nil {
		return err
	}
	if err := adapter.ValidateConfig(t.Config); err != nil {
		return fmt.Errorf("triggers: invalid config: %w", err)
	}

	switch {
	case !current.IsActive && t.IsActive:
		return s.activate(ctx, t, adapter)
	case current.IsActive && !t.IsActive:
		if err := adapter.TeardownTrigger(ctx, current); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("trigger_id", t.TriggerID).Msg("triggers: teardown on deactivate failed")
		}
		t.IsActive = false
		return s.Store.Update(ctx, t)
	case current.IsActive && t.IsActive:
		// Config change while active: teardown then setup, rollback on failure.
		if err := adapter.TeardownTrigger(ctx, current); err != nil {
			return fmt.Errorf("triggers: teardown before reconfigure: %w", err)
		}
		ok, err := adapter.SetupTrigger(ctx, t)
		if err != nil || !ok {
			// rollback: restore the old config's setup so the trigger is not
			// left in limbo.
			if _, rerr := adapter.SetupTrigger(ctx, current); rerr != nil {
				observability.LoggerWithTrace(ctx).Error().Err(rerr).Str("trigger_id", t.TriggerID).Msg("triggers: rollback setup failed")
			}
			if err == nil {
				err = fmt.Errorf("triggers: setup_trigger declined")
			}
			return fmt.Errorf("triggers: reconfigure: %w", err)
		}
		return s.Store.Update(ctx, t)
	default:
		return s.Store.Update(ctx, t)
	}
}

func (s *Service) activate(ctx context.Context, t *convtypes.Trigger, adapter Adapter) error {
	ok, err := adapter.SetupTrigger(ctx, t)
	if err != nil {
		return fmt.Errorf("triggers: setup_trigger: %w", err)
	}
	if !ok {
		return fmt.Errorf("triggers: setup_trigger declined activation")
	}
	t.IsActive = true
	if err := s.Store.Update(ctx, t); err != nil {
		// best-effort rollback of the provider-side setup
		if terr := adapter.TeardownTrigger(ctx, t); terr != nil {
			observability.LoggerWithTrace(ctx).Error().Err(terr).Str("trigger_id", t.TriggerID).Msg("triggers: rollback teardown failed")
		}
		return fmt.Errorf("triggers: persist activation: %w", err)
	}
	return nil
}

// Delete removes the DB row first, then best-effort tears down and
// deletes the remote registration — so provider methods always observe
// the already-updated authoritative state (spec §5 ordering guarantee).
func (s *Service) Delete(ctx context.Context, triggerID string) error {
	t, err := s.Store.Get(ctx, triggerID)
	if err != nil {
		return fmt.Errorf("triggers: delete: load: %w", err)
	}
	adapter, err := s.adapterFor(t)
	if err != nil {
		return err
	}

	if err := s.Store.Delete(ctx, triggerID); err != nil {
		return fmt.Errorf("triggers: delete: %w", err)
	}

	if err := adapter.TeardownTrigger(ctx, t); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("trigger_id", triggerID).Msg("triggers: teardown on delete failed")
	}
	if deleter, ok := adapter.(RemoteDeleter); ok {
		if err := deleter.DeleteRemoteTrigger(ctx, t); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("trigger_id", triggerID).Msg("triggers: delete_remote_trigger failed")
		}
	}
	return nil
}

// ProcessEvent dispatches to the trigger's provider adapter and logs the
// outcome, tolerating non-UTF-8 payload bytes (spec §4.7
// "serializability-safe encoding").
func (s *Service) ProcessEvent(ctx context.Context, triggerID string, rawData []byte) (TriggerResult, error) {
	t, err := s.Store.Get(ctx, triggerID)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("triggers: process_event: load: %w", err)
	}
	adapter, err := s.adapterFor(t)
	if err != nil {
		return TriggerResult{}, err
	}

	result, err := adapter.ProcessEvent(ctx, t, rawData)
	if err != nil {
		result = TriggerResult{Success: false, Error: err.Error()}
	}

	if logErr := s.Store.LogEvent(ctx, triggerID, utf8SafeBytes(rawData), result); logErr != nil {
		observability.LoggerWithTrace(ctx).Error().Err(logErr).Str("trigger_id", triggerID).Msg("triggers: log event failed")
	}
	return result, err
}

// utf8SafeBytes replaces invalid UTF-8 sequences with U+FFFD so the raw
// payload can be stored as text without failing encoding (spec §4.7).
func utf8SafeBytes(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	var out bytes.Buffer
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out.WriteRune(r)
		b = b[size:]
	}
	return out.Bytes()
}
