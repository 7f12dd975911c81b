package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentcore/internal/convtypes"
)

// PGStore is the Postgres-backed Store implementation, mirroring
// msgstore's pgxpool access pattern.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) Create(ctx context.Context, t *convtypes.Trigger) error {
	if t.TriggerID == "" {
		t.TriggerID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	cfgJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("triggers: encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_triggers
			(trigger_id, agent_id, provider_id, trigger_type, name, description, is_active, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.TriggerID, t.AgentID, t.ProviderID, string(t.TriggerType), t.Name, t.Description,
		t.IsActive, cfgJSON, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("triggers: create: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, triggerID string) (*convtypes.Trigger, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trigger_id, agent_id, provider_id, trigger_type, name, description, is_active, config, created_at, updated_at
		FROM agent_triggers WHERE trigger_id = $1`, triggerID)
	return scanTrigger(row)
}

func (s *PGStore) ListByAgent(ctx context.Context, agentID string) ([]*convtypes.Trigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trigger_id, agent_id, provider_id, trigger_type, name, description, is_active, config, created_at, updated_at
		FROM agent_triggers WHERE agent_id = $1 ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("triggers: list_by_agent: %w", err)
	}
	defer rows.Close()

	var out []*convtypes.Trigger
	for rows.Next() {
		t, err := scanTriggerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) ListActiveByProvider(ctx context.Context, providerID string) ([]*convtypes.Trigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trigger_id, agent_id, provider_id, trigger_type, name, description, is_active, config, created_at, updated_at
		FROM agent_triggers WHERE provider_id = $1 AND is_active = true`, providerID)
	if err != nil {
		return nil, fmt.Errorf("triggers: list_active_by_provider: %w", err)
	}
	defer rows.Close()

	var out []*convtypes.Trigger
	for rows.Next() {
		t, err := scanTriggerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountActiveByConfigKey counts active triggers under a provider whose
// JSONB config has config[key] == value, the reference-counting query
// the Event adapter uses (spec §4.7).
func (s *PGStore) CountActiveByConfigKey(ctx context.Context, providerID, key, value string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM agent_triggers
		WHERE provider_id = $1 AND is_active = true AND config ->> $2 = $3`,
		providerID, key, value).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("triggers: count_active_by_config_key: %w", err)
	}
	return count, nil
}

func (s *PGStore) Update(ctx context.Context, t *convtypes.Trigger) error {
	t.UpdatedAt = time.Now().UTC()
	cfgJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("triggers: encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE agent_triggers SET
			name = $2, description = $3, is_active = $4, config = $5, updated_at = $6
		WHERE trigger_id = $1`,
		t.TriggerID, t.Name, t.Description, t.IsActive, cfgJSON, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("triggers: update: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, triggerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_triggers WHERE trigger_id = $1`, triggerID)
	if err != nil {
		return fmt.Errorf("triggers: delete: %w", err)
	}
	return nil
}

func (s *PGStore) LogEvent(ctx context.Context, triggerID string, rawData []byte, result TriggerResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("triggers: encode result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trigger_event_logs (log_id, trigger_id, raw_data, result, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), triggerID, rawData, resultJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("triggers: log_event: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTrigger(row scannable) (*convtypes.Trigger, error) {
	return scanTriggerRows(row)
}

func scanTriggerRows(row scannable) (*convtypes.Trigger, error) {
	var (
		t        convtypes.Trigger
		typ      string
		cfgJSON  []byte
	)
	if err := row.Scan(&t.TriggerID, &t.AgentID, &t.ProviderID, &typ, &t.Name, &t.Description,
		&t.IsActive, &cfgJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("triggers: scan: %w", err)
	}
	t.TriggerType = convtypes.TriggerType(typ)
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &t.Config); err != nil {
			return nil, fmt.Errorf("triggers: decode config: %w", err)
		}
	}
	return &t, nil
}
