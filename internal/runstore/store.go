// Package runstore persists agent_runs rows and the Redis active-run
// registry (spec §5: "A thread may have at most one AgentRun in running
// status at a time"), grounded on the Message Store's pgx access pattern
// and the orchestrator's Redis client usage.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"agentcore/internal/convtypes"
)

// PGStore is the Postgres-backed agent_runs store. It implements
// execsvc.RunStore, threadrunner.RunStatusChecker, and
// orchestrator.RunStatusSetter.
type PGStore struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

// InsertRun implements execsvc.RunStore.
func (s *PGStore) InsertRun(ctx context.Context, run convtypes.AgentRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_runs (id, thread_id, status, started_at, model_name)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.ThreadID, string(run.Status), run.StartedAt, run.ModelName)
	if err != nil {
		return fmt.Errorf("runstore: insert agent_runs: %w", err)
	}
	return nil
}

// Status implements threadrunner.RunStatusChecker: the runner polls this
// between iterations to observe an external stop (spec §5).
func (s *PGStore) Status(ctx context.Context, runID string) (convtypes.RunStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM agent_runs WHERE id = $1`, runID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return convtypes.RunFailed, fmt.Errorf("runstore: run %s not found", runID)
		}
		return "", fmt.Errorf("runstore: status: %w", err)
	}
	return convtypes.RunStatus(status), nil
}

// MarkCompleted implements orchestrator.RunStatusSetter.
func (s *PGStore) MarkCompleted(ctx context.Context, agentRunID string) error {
	return s.setTerminal(ctx, agentRunID, convtypes.RunCompleted, "")
}

// MarkFailed implements orchestrator.RunStatusSetter. It never overwrites a
// run the Thread Runner or an operator already marked stopped, since a
// stop is a deliberate outcome and should win over a late failure.
func (s *PGStore) MarkFailed(ctx context.Context, agentRunID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.setTerminal(ctx, agentRunID, convtypes.RunFailed, msg)
}

func (s *PGStore) setTerminal(ctx context.Context, agentRunID string, status convtypes.RunStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_runs
		SET status = $2, ended_at = $3, error_message = NULLIF($4, '')
		WHERE id = $1 AND status = $5`,
		agentRunID, string(status), time.Now().UTC(), errMsg, string(convtypes.RunRunning))
	if err != nil {
		return fmt.Errorf("runstore: set terminal status %s: %w", status, err)
	}
	return nil
}

// ActiveRunRegistry is the Redis-backed "active_run:<instance>:<id>" TTL
// key the Execution Service registers on enqueue (spec §4.9 step 4e).
type ActiveRunRegistry struct {
	client *redis.Client
}

func NewActiveRunRegistry(client *redis.Client) *ActiveRunRegistry {
	return &ActiveRunRegistry{client: client}
}

func (r *ActiveRunRegistry) Register(ctx context.Context, instanceID, runID string, ttl time.Duration) error {
	key := fmt.Sprintf("active_run:%s:%s", instanceID, runID)
	if err := r.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("runstore: register active run: %w", err)
	}
	return nil
}
