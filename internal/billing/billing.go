// Package billing implements the credit reservation/deduction hook: a
// per-account balance guarded by a DB-side lock, reserved before each
// Thread Runner iteration and deducted idempotently when an
// llm_response_end message lands.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentcore/internal/convtypes"
)

// ErrInsufficientCredits mirrors errproc's sentinel so callers that only
// import billing (e.g. unit tests) can match on it directly.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ModelPricing is cost per million tokens, in the account's credit unit.
type ModelPricing struct {
	PromptPerMTok         float64
	CompletionPerMTok     float64
	CacheReadPerMTok      float64
	CacheCreationPerMTok  float64
}

// PricingTable maps a model id (or prefix) to its pricing. Cache reads are
// billed at the provider's discounted rate (spec §4.5).
type PricingTable map[string]ModelPricing

// DefaultPricing is a representative table; real deployments load this from
// configuration (internal/config.BillingConfig).
var DefaultPricing = PricingTable{
	"claude-opus":   {PromptPerMTok: 15, CompletionPerMTok: 75, CacheReadPerMTok: 1.5, CacheCreationPerMTok: 18.75},
	"claude-sonnet": {PromptPerMTok: 3, CompletionPerMTok: 15, CacheReadPerMTok: 0.3, CacheCreationPerMTok: 3.75},
	"claude-haiku":  {PromptPerMTok: 0.8, CompletionPerMTok: 4, CacheReadPerMTok: 0.08, CacheCreationPerMTok: 1},
	"gpt-5":         {PromptPerMTok: 5, CompletionPerMTok: 15, CacheReadPerMTok: 0.5},
	"gpt-4o":        {PromptPerMTok: 2.5, CompletionPerMTok: 10, CacheReadPerMTok: 0.25},
	"gemini":        {PromptPerMTok: 1.25, CompletionPerMTok: 5},
}

// Cost computes cost(prompt, completion, cache_read, cache_creation, model)
// per spec §4.5. Falls back to the full pricing entry of the longest
// matching prefix, or zero if the model is unrecognised (advisory
// billing only — the core never blocks a run because pricing is unknown).
func (t PricingTable) Cost(usage convtypes.Usage) float64 {
	p, ok := t.lookup(usage.Model)
	if !ok {
		return 0
	}
	const mtok = 1_000_000.0
	cost := float64(usage.PromptTokens)/mtok*p.PromptPerMTok +
		float64(usage.CompletionTokens)/mtok*p.CompletionPerMTok +
		float64(usage.CacheReadInputTokens)/mtok*p.CacheReadPerMTok +
		float64(usage.CacheCreationInputTokens)/mtok*p.CacheCreationPerMTok
	return cost
}

func (t PricingTable) lookup(model string) (ModelPricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	best := ""
	for prefix := range t {
		if hasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return t[best], true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Ledger is the Postgres-backed credit account store.
type Ledger struct {
	pool    *pgxpool.Pool
	pricing PricingTable
}

func New(pool *pgxpool.Pool, pricing PricingTable) *Ledger {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Ledger{pool: pool, pricing: pricing}
}

// CheckAndReserve implements check_and_reserve_credits(account_id): it
// serializes against concurrent reservations for the same account via
// SELECT ... FOR UPDATE and returns (false, "") without mutating balance
// when the account is exhausted. Reservation itself does not deduct;
// deduction happens transactionally in OnUsage once real usage is known.
func (l *Ledger) CheckAndReserve(ctx context.Context, accountID string) (canRun bool, reservationID string, err error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, "", fmt.Errorf("billing: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("billing: select balance: %w", err)
	}
	if balance <= 0 {
		return false, "", nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, "", fmt.Errorf("billing: commit: %w", err)
	}
	return true, uuid.NewString(), nil
}

// OnUsage implements the billing hook respproc.BillingHook calls after
// inserting an llm_response_end message. It is idempotent per
// llm_response_id (spec §8 invariant 7): a second call with the same id is
// a no-op because the insert into credit_deductions is the serialization
// point.
func (l *Ledger) OnUsage(ctx context.Context, accountID, llmResponseID string, usage convtypes.Usage) error {
	cost := l.pricing.Cost(usage)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_deductions (llm_response_id, account_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (llm_response_id) DO NOTHING`, llmResponseID, accountID, cost)
	if err != nil {
		return fmt.Errorf("billing: insert deduction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already deducted for this llm_response_id; nothing more to do.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE credit_accounts SET balance = GREATEST(balance - $1, 0) WHERE user_id = $2`,
		cost, accountID); err != nil {
		return fmt.Errorf("billing: update balance: %w", err)
	}
	return tx.Commit(ctx)
}
