package execsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGProjectStore is a Postgres-backed ProjectStore, grounded on the
// donor's persistence/databases pgProjectsStore (same id/user_id/name/
// created_at column shape, minus the file-index tables this domain
// doesn't need).
type PGProjectStore struct {
	pool *pgxpool.Pool
}

func NewPGProjectStore(pool *pgxpool.Pool) *PGProjectStore {
	return &PGProjectStore{pool: pool}
}

func (s *PGProjectStore) Create(ctx context.Context, userID, name string) (Project, error) {
	if name == "" {
		name = "Untitled"
	}
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, user_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		id, userID, name, now)
	if err != nil {
		return Project{}, fmt.Errorf("execsvc: create project: %w", err)
	}
	return Project{ID: id, UserID: userID, Name: name, CreatedAt: now}, nil
}

func (s *PGProjectStore) Delete(ctx context.Context, projectID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID); err != nil {
		return fmt.Errorf("execsvc: delete project %s: %w", projectID, err)
	}
	return nil
}
