package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewdeck/crewdeck/internal/models"
)

type ProjectStore struct {
	pool *pgxpool.Pool
}

func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{pool: pool}
}

func (s *ProjectStore) Create(ctx context.Context, title, description string, creatorID uuid.UUID) (*models.Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback(ctx)

	var p models.Project
	err = tx.QueryRow(ctx, `
		INSERT INTO projects (title, description, creator_id)
		VALUES ($1, $2, $3)
		RETURNING id, title, description, creator_id, created_at, updated_at`,
		title, description, creatorID,
	).Scan(&p.ID, &p.Title, &p.Description, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	// Creator membership is seeded in the same transaction: no window
	// where the project exists with an empty member set.
	_, err = tx.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)`,
		p.ID, creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create project: %w", err)
	}

	p.Members = []uuid.UUID{creatorID}
	p.PendingJoinRequests = []uuid.UUID{}
	return &p, nil
}

func (s *ProjectStore) GetByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.title, p.description, p.creator_id, p.created_at, p.updated_at,
		       (SELECT count(*) FROM project_likes l WHERE l.project_id = p.id)
		FROM projects p
		WHERE p.id = $1`,
		projectID,
	).Scan(&p.ID, &p.Title, &p.Description, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt, &p.LikeCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	p.Members, err = s.userSet(ctx, `SELECT user_id FROM project_members WHERE project_id = $1 ORDER BY joined_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	p.PendingJoinRequests, err = s.userSet(ctx, `SELECT user_id FROM project_join_requests WHERE project_id = $1 ORDER BY requested_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load join requests: %w", err)
	}

	return &p, nil
}

func (s *ProjectStore) userSet(ctx context.Context, query string, projectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *ProjectStore) List(ctx context.Context) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.title, p.description, p.creator_id, p.created_at, p.updated_at,
		       (SELECT count(*) FROM project_likes l WHERE l.project_id = p.id)
		FROM projects p
		ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]models.Project, 0)
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt, &p.LikeCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	return projects, nil
}

func (s *ProjectStore) Update(ctx context.Context, projectID uuid.UUID, title, description *string) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx, `
		UPDATE projects
		SET title       = COALESCE($2, title),
		    description = COALESCE($3, description),
		    updated_at  = now()
		WHERE id = $1
		RETURNING id, title, description, creator_id, created_at, updated_at`,
		projectID, title, description,
	).Scan(&p.ID, &p.Title, &p.Description, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update project: %w", err)
	}
	return &p, nil
}

func (s *ProjectStore) Delete(ctx context.Context, projectID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ProjectStore) Exists(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project exists: %w", err)
	}
	return exists, nil
}

func (s *ProjectStore) IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_members
			WHERE project_id = $1 AND user_id = $2
		)`,
		projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *ProjectStore) IsPending(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_join_requests
			WHERE project_id = $1 AND user_id = $2
		)`,
		projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}

// AddJoinRequest is a single conditional insert: the WHERE NOT EXISTS
// refuses current members, and ON CONFLICT DO NOTHING absorbs a duplicate
// pending entry. Two concurrent calls race on the primary key — exactly
// one inserts a row, the other reports false. No read-then-write window.
func (s *ProjectStore) AddJoinRequest(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO project_join_requests (project_id, user_id)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM project_members
			WHERE project_id = $1 AND user_id = $2
		)
		ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("add join request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ProjectStore) RemoveJoinRequest(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM project_join_requests
		WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("remove join request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApproveJoinRequest deletes the pending row and inserts the membership
// row in one transaction. The DELETE's row count is the linearization
// point: of two concurrent approvals, only the one that deleted the row
// proceeds to insert, so the user transitions exactly once and is never
// observable in both sets or neither.
func (s *ProjectStore) ApproveJoinRequest(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin approve: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM project_join_requests
		WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete join request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit approve: %w", err)
	}
	return true, nil
}
