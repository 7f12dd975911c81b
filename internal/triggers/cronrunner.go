package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"agentcore/internal/observability"
)

// Deliverer sends a fired job's payload onward (the Schedule adapter's
// HTTP delivery to the core's own webhook endpoint).
type Deliverer interface {
	Deliver(ctx context.Context, triggerID string, payload []byte) error
}

// Runner is the in-process cron scheduler backing the Schedule adapter.
// The durable record of what should fire lives in the scheduled_jobs
// Postgres table; Runner polls it on Start and keeps an in-memory
// robfig/cron/v3 engine in sync with Schedule/Unschedule calls
// (SPEC_FULL.md Open Question Resolution: a real Go scheduling library
// standing in for the original's pg_cron RPC substrate).
type Runner struct {
	pool     *pgxpool.Pool
	deliver  Deliverer
	engine   *cron.Cron
	mu       sync.Mutex
	entries  map[string]cron.EntryID
}

func NewRunner(pool *pgxpool.Pool, deliver Deliverer) *Runner {
	return &Runner{
		pool:    pool,
		deliver: deliver,
		engine:  cron.New(),
		entries: map[string]cron.EntryID{},
	}
}

// Start loads every row from scheduled_jobs and registers it with the
// cron engine, then starts the engine.
func (r *Runner) Start(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `SELECT job_name, trigger_id, cron_expression, payload FROM scheduled_jobs`)
	if err != nil {
		return fmt.Errorf("cronrunner: load jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, triggerID, expr string
		var payload []byte
		if err := rows.Scan(&name, &triggerID, &expr, &payload); err != nil {
			return fmt.Errorf("cronrunner: scan: %w", err)
		}
		if err := r.register(name, triggerID, expr, payload); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("job_name", name).Msg("cronrunner: register failed")
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cronrunner: rows: %w", err)
	}

	r.engine.Start()
	return nil
}

// Stop drains the cron engine, waiting for any in-flight job to finish.
func (r *Runner) Stop(ctx context.Context) {
	stopCtx := r.engine.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Schedule upserts the job row and (re)registers it with the cron
// engine, satisfying the Schedule adapter's JobScheduler contract.
func (r *Runner) Schedule(ctx context.Context, name, cronExpr string, payload []byte) error {
	triggerID := triggerIDFromJobName(name)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (job_name, trigger_id, cron_expression, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (job_name) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			payload = EXCLUDED.payload,
			updated_at = now()`,
		name, triggerID, cronExpr, payload)
	if err != nil {
		return fmt.Errorf("cronrunner: schedule: %w", err)
	}
	return r.register(name, triggerID, cronExpr, payload)
}

// Unschedule removes the job row and its cron engine entry.
func (r *Runner) Unschedule(ctx context.Context, name string) error {
	r.mu.Lock()
	if id, ok := r.entries[name]; ok {
		r.engine.Remove(id)
		delete(r.entries, name)
	}
	r.mu.Unlock()

	_, err := r.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE job_name = $1`, name)
	if err != nil {
		return fmt.Errorf("cronrunner: unschedule: %w", err)
	}
	return nil
}

func (r *Runner) register(name, triggerID, cronExpr string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[name]; ok {
		r.engine.Remove(id)
		delete(r.entries, name)
	}

	id, err := r.engine.AddFunc(cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.deliver.Deliver(ctx, triggerID, payload); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("job_name", name).Msg("cronrunner: delivery failed")
		}
	})
	if err != nil {
		return fmt.Errorf("cronrunner: add job %q: %w", name, err)
	}
	r.entries[name] = id
	return nil
}

func triggerIDFromJobName(name string) string {
	const prefix = "trigger_"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}
