package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LikeStore struct {
	pool *pgxpool.Pool
}

func NewLikeStore(pool *pgxpool.Pool) *LikeStore {
	return &LikeStore{pool: pool}
}

// Like records that a user likes a project. Idempotent: a second like from
// the same user is a no-op and reports false.
func (s *LikeStore) Like(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO project_likes (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("like project: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *LikeStore) Unlike(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM project_likes
		WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("unlike project: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *LikeStore) Count(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM project_likes WHERE project_id = $1`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return count, nil
}
