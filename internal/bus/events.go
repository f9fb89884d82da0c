package bus

import (
	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck/internal/models"
)

// Topic constants and typed payloads for every event the system publishes.
// Subscribers type-assert the payload against the struct for the topic.
const (
	TopicProjectCreated     = "project.created"
	TopicProjectJoinRequest = "project.joinRequest"
	TopicProjectUserJoined  = "project.userJoined"
	TopicProjectLiked       = "project.liked"
	TopicNewMessage         = "message.newMessage"
)

// ProjectCreated is published after a project and its creator membership
// are committed.
type ProjectCreated struct {
	ProjectID uuid.UUID
	CreatorID uuid.UUID
}

// ProjectJoinRequest is published when a join request is recorded.
type ProjectJoinRequest struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
}

// ProjectUserJoined is published when a join request is approved.
type ProjectUserJoined struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
}

// ProjectLiked is published when a like is first recorded (not on
// idempotent repeats).
type ProjectLiked struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
}

// NewMessage carries a chat or system message toward durability.
// AuthorID is nil for system messages.
type NewMessage struct {
	ProjectID uuid.UUID
	Kind      models.MessageKind
	AuthorID  *uuid.UUID
	Content   string
}
