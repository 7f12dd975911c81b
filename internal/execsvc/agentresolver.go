package execsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAgentResolver resolves an agent's runnable version/model and checks
// an account's billing/model-access tier, grounded on the donor's
// agents.go persistence pattern. Implements the fallback chain
// (SPEC_FULL.md supplemented feature #8): a pinned version, else the
// agent's current published version, else a default/legacy config row.
type PGAgentResolver struct {
	pool *pgxpool.Pool
	// AllowedModels gates CheckModelAccess by account tier; nil means
	// every model is allowed (single-tier deployments).
	AllowedModels map[string][]string
}

func NewPGAgentResolver(pool *pgxpool.Pool, allowedModels map[string][]string) *PGAgentResolver {
	return &PGAgentResolver{pool: pool, AllowedModels: allowedModels}
}

// ResolveCurrentVersion implements the fallback chain: pinned version on
// the agent row, else the version flagged is_current, else the agent's
// legacy inline model/system_prompt columns.
func (r *PGAgentResolver) ResolveCurrentVersion(ctx context.Context, agentID string) (AgentVersion, error) {
	var pinnedVersionID *string
	var legacyModel, legacyPrompt *string
	err := r.pool.QueryRow(ctx, `
		SELECT pinned_version_id, legacy_model, legacy_system_prompt
		FROM agents WHERE id = $1`, agentID).Scan(&pinnedVersionID, &legacyModel, &legacyPrompt)
	if err != nil {
		return AgentVersion{}, fmt.Errorf("execsvc: resolve agent %s: %w", agentID, err)
	}

	if pinnedVersionID != nil {
		if v, err := r.loadVersion(ctx, agentID, *pinnedVersionID); err == nil {
			return v, nil
		}
	}

	if v, err := r.loadCurrentVersion(ctx, agentID); err == nil {
		return v, nil
	}

	if legacyModel != nil {
		prompt := ""
		if legacyPrompt != nil {
			prompt = *legacyPrompt
		}
		return AgentVersion{AgentID: agentID, Model: *legacyModel, SystemPrompt: prompt}, nil
	}

	return AgentVersion{}, fmt.Errorf("execsvc: agent %s has no pinned, current, or legacy version", agentID)
}

func (r *PGAgentResolver) loadVersion(ctx context.Context, agentID, versionID string) (AgentVersion, error) {
	var model, prompt string
	var cfgJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT model, system_prompt, config
		FROM agent_versions WHERE agent_id = $1 AND version_id = $2`, agentID, versionID).
		Scan(&model, &prompt, &cfgJSON)
	if err != nil {
		return AgentVersion{}, fmt.Errorf("execsvc: load version %s: %w", versionID, err)
	}
	return r.decodeVersion(agentID, versionID, model, prompt, cfgJSON)
}

func (r *PGAgentResolver) loadCurrentVersion(ctx context.Context, agentID string) (AgentVersion, error) {
	var versionID, model, prompt string
	var cfgJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT version_id, model, system_prompt, config
		FROM agent_versions WHERE agent_id = $1 AND is_current = true
		ORDER BY created_at DESC LIMIT 1`, agentID).
		Scan(&versionID, &model, &prompt, &cfgJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return AgentVersion{}, fmt.Errorf("execsvc: no current version for agent %s", agentID)
		}
		return AgentVersion{}, fmt.Errorf("execsvc: load current version: %w", err)
	}
	return r.decodeVersion(agentID, versionID, model, prompt, cfgJSON)
}

func (r *PGAgentResolver) decodeVersion(agentID, versionID, model, prompt string, cfgJSON []byte) (AgentVersion, error) {
	cfg := map[string]any{}
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
			return AgentVersion{}, fmt.Errorf("execsvc: decode version config: %w", err)
		}
	}
	return AgentVersion{AgentID: agentID, VersionID: versionID, Model: model, SystemPrompt: prompt, Config: cfg}, nil
}

// CheckModelAccess implements the unified billing/model-access check
// (spec §4.9 step 4): the account must have a non-exhausted credit
// balance and its tier must list the requested model (or AllowedModels
// is nil, granting universal access).
func (r *PGAgentResolver) CheckModelAccess(ctx context.Context, accountID, model string) (bool, error) {
	var tier string
	var balance float64
	err := r.pool.QueryRow(ctx, `
		SELECT tier, balance FROM credit_accounts WHERE user_id = $1`, accountID).Scan(&tier, &balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("execsvc: check model access: %w", err)
	}
	if balance <= 0 {
		return false, nil
	}
	if r.AllowedModels == nil {
		return true, nil
	}
	for _, m := range r.AllowedModels[tier] {
		if m == model {
			return true, nil
		}
	}
	return false, nil
}
