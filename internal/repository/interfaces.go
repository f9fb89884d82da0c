package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck/internal/models"
)

// ProjectRepository is the sole authority for a project's membership and
// join-request sets. The boolean-returning mutations are atomic at the
// database: concurrent callers race on a single statement (or a single
// transaction) and exactly one observes true. The membership service maps
// false to Conflict; it never does read-then-write on these sets.
type ProjectRepository interface {
	// Create inserts the project and the creator's membership row in one
	// transaction, so the creator is a member from the first instant.
	Create(ctx context.Context, title, description string, creatorID uuid.UUID) (*models.Project, error)

	// GetByID returns the project with its member and pending sets and
	// like count populated. Returns nil, nil if not found.
	GetByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error)

	// List returns all projects, newest first, without set expansion.
	List(ctx context.Context) ([]models.Project, error)

	// Update overwrites the provided fields (nil = leave unchanged) and
	// bumps updated_at. Returns nil, nil if the project does not exist.
	Update(ctx context.Context, projectID uuid.UUID, title, description *string) (*models.Project, error)

	// Delete removes the project and, via cascade, its sets and messages.
	// Returns false if the project did not exist.
	Delete(ctx context.Context, projectID uuid.UUID) (bool, error)

	// Exists reports whether the project exists.
	Exists(ctx context.Context, projectID uuid.UUID) (bool, error)

	// IsMember reports whether the user is in the project's member set.
	// Hot path: checked on every message send.
	IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)

	// IsPending reports whether the user has an outstanding join request.
	IsPending(ctx context.Context, projectID, userID uuid.UUID) (bool, error)

	// AddJoinRequest atomically inserts a pending entry iff the user is
	// neither a member nor already pending. Returns false on no-op.
	AddJoinRequest(ctx context.Context, projectID, userID uuid.UUID) (bool, error)

	// RemoveJoinRequest withdraws a pending entry. Returns false if none
	// was outstanding.
	RemoveJoinRequest(ctx context.Context, projectID, userID uuid.UUID) (bool, error)

	// ApproveJoinRequest moves the user from pending to members in one
	// transaction. Returns false if the user was not pending — including
	// the loser of a double-approval race.
	ApproveJoinRequest(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
}

// UserRepository handles account persistence.
type UserRepository interface {
	Create(ctx context.Context, username, email, firstName, lastName, passwordHash string) (*models.User, error)

	// GetByID returns nil, nil if not found.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail returns nil, nil if not found. Used for login.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// MessageRepository persists chat history. Writes happen only through the
// chathistory consumer; the gateway never calls this directly.
type MessageRepository interface {
	// Create persists a message. authorID is nil for system messages.
	Create(ctx context.Context, projectID uuid.UUID, kind models.MessageKind, authorID *uuid.UUID, content string) (*models.Message, error)

	// ListByProject returns messages newest first with cursor pagination:
	// before=0 starts from the latest, otherwise id < before.
	ListByProject(ctx context.Context, projectID uuid.UUID, before int64, limit int) ([]models.Message, error)
}

// LikeRepository handles project likes. Both mutations are idempotent;
// the boolean reports whether state actually changed.
type LikeRepository interface {
	Like(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	Unlike(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	Count(ctx context.Context, projectID uuid.UUID) (int64, error)
}
