package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account holder. PasswordHash never leaves the server —
// json:"-" keeps it out of every response shape.
type User struct {
	ID           uuid.UUID `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserView is the public slice of a user embedded in realtime payloads
// and message history (author of a chat message).
type UserView struct {
	ID        uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

func (u *User) View() UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// Project is a collaboration space. Members and PendingJoinRequests are
// persisted as rows in project_members / project_join_requests; the slices
// here are populated by the store when a full view is requested.
//
// Invariants the store enforces:
//   - the creator is a member from the moment the project exists
//   - a user id is never in both members and pending at once
type Project struct {
	ID          uuid.UUID `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatorID   uuid.UUID `json:"creator_id"`
	LikeCount   int64     `json:"like_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Members             []uuid.UUID `json:"members,omitempty"`
	PendingJoinRequests []uuid.UUID `json:"pending_join_requests,omitempty"`
}

// MessageKind distinguishes user-authored chat from system notices
// generated off membership events.
type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
)

// Message is one chat or system message. AuthorID is nil for system
// messages. Messages are immutable once written.
//
// ID is bigserial: messages are the highest-volume table and the
// monotonic int64 doubles as the pagination cursor.
type Message struct {
	ID        int64       `json:"id"`
	ProjectID uuid.UUID   `json:"project_id"`
	Kind      MessageKind `json:"kind"`
	AuthorID  *uuid.UUID  `json:"author_id,omitempty"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}
