// Package threadstore manages thread rows: creation for a new execution
// and lookup for the Background Runner, grounded on msgstore's pgx
// access pattern. Message append itself is delegated to msgstore.Store
// so both packages write through the same append path.
package threadstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentcore/internal/convtypes"
)

// MessageAppender is the subset of msgstore.Store threadstore delegates
// message writes to.
type MessageAppender interface {
	Append(ctx context.Context, msg convtypes.Message) (string, error)
}

type Store struct {
	pool     *pgxpool.Pool
	messages MessageAppender
}

func New(pool *pgxpool.Pool, messages MessageAppender) *Store {
	return &Store{pool: pool, messages: messages}
}

// CreateThread implements execsvc.ThreadStore.
func (s *Store) CreateThread(ctx context.Context, projectID, accountID string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO threads (thread_id, account_id, project_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, accountID, projectID, []byte("{}"), now)
	if err != nil {
		return "", fmt.Errorf("threadstore: create thread: %w", err)
	}
	return id, nil
}

// AppendMessage implements execsvc.ThreadStore by delegating to the
// Message Store.
func (s *Store) AppendMessage(ctx context.Context, msg convtypes.Message) (string, error) {
	return s.messages.Append(ctx, msg)
}

// GetThread implements orchestrator.ThreadLoader.
func (s *Store) GetThread(ctx context.Context, threadID string) (*convtypes.Thread, error) {
	var (
		t        convtypes.Thread
		metaJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT thread_id, account_id, project_id, metadata, created_at
		FROM threads WHERE thread_id = $1`, threadID).
		Scan(&t.ThreadID, &t.AccountID, &t.ProjectID, &metaJSON, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("threadstore: thread %s not found", threadID)
		}
		return nil, fmt.Errorf("threadstore: get thread: %w", err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &t.Metadata)
	}
	return &t, nil
}
