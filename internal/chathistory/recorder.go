// Package chathistory is the durability consumer: it listens on the bus
// and persists chat and system messages. It is deliberately decoupled
// from the gateway — a persistence failure is logged and never reaches
// the publisher or the clients.
package chathistory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/repository"
)

const writeTimeout = 5 * time.Second

// Subscriber is the slice of the bus the recorder attaches to.
type Subscriber interface {
	Subscribe(pattern string, handler bus.Handler) (unsubscribe func())
}

type Recorder struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	logger   *zap.Logger

	unsubs []func()
}

func NewRecorder(messages repository.MessageRepository, users repository.UserRepository, logger *zap.Logger) *Recorder {
	return &Recorder{messages: messages, users: users, logger: logger}
}

// Start subscribes to chat and membership topics. The wildcard pattern
// covers all project lifecycle events; the handler picks the ones that
// produce a system message.
func (r *Recorder) Start(events Subscriber) {
	r.unsubs = append(r.unsubs,
		events.Subscribe(bus.TopicNewMessage, r.onNewMessage),
		events.Subscribe("project.*", r.onProjectEvent),
	)
}

func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) onNewMessage(_ string, payload any) {
	ev, ok := payload.(bus.NewMessage)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.messages.Create(ctx, ev.ProjectID, ev.Kind, ev.AuthorID, ev.Content); err != nil {
		r.logger.Error("persist chat message failed",
			zap.String("project_id", ev.ProjectID.String()),
			zap.String("content", ev.Content),
			zap.Error(err),
		)
	}
}

func (r *Recorder) onProjectEvent(_ string, payload any) {
	// project.joinRequest and project.liked leave no history trace.
	switch ev := payload.(type) {
	case bus.ProjectUserJoined:
		r.recordSystem(ev.ProjectID, fmt.Sprintf("%s joined the project", r.username(ev.UserID)))
	case bus.ProjectCreated:
		r.recordSystem(ev.ProjectID, fmt.Sprintf("project created by %s", r.username(ev.CreatorID)))
	}
}

func (r *Recorder) recordSystem(projectID uuid.UUID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.messages.Create(ctx, projectID, models.MessageKindSystem, nil, content); err != nil {
		r.logger.Error("persist system message failed",
			zap.String("project_id", projectID.String()),
			zap.String("content", content),
			zap.Error(err),
		)
	}
}

func (r *Recorder) username(userID uuid.UUID) string {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	u, err := r.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return "a user"
	}
	return u.Username
}
