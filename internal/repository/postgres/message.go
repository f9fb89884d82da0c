package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewdeck/crewdeck/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Create(ctx context.Context, projectID uuid.UUID, kind models.MessageKind, authorID *uuid.UUID, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (project_id, kind, author_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, project_id, kind, author_id, content, created_at`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, projectID, kind, authorID, content).Scan(
		&msg.ID,
		&msg.ProjectID,
		&msg.Kind,
		&msg.AuthorID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) ListByProject(ctx context.Context, projectID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	// Cursor pagination on the bigserial id: before=0 is the first page
	// (newest), otherwise "older than id `before`".
	var query string
	var args []any

	if before > 0 {
		query = `
			SELECT id, project_id, kind, author_id, content, created_at
			FROM messages
			WHERE project_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{projectID, before, limit}
	} else {
		query = `
			SELECT id, project_id, kind, author_id, content, created_at
			FROM messages
			WHERE project_id = $1
			ORDER BY id DESC
			LIMIT $2`
		args = []any{projectID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ProjectID,
			&msg.Kind,
			&msg.AuthorID,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
