// Package membership owns the project join-request state machine. Per
// (user, project) the states are NONE → PENDING → MEMBER, with PENDING →
// NONE as withdrawal; nothing transitions out of MEMBER here. All set
// mutations go through the project repository's atomic operations — the
// service never caches membership and never does read-then-write on the
// sets, so concurrent callers race at the database and lose cleanly.
package membership

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/repository"
)

// Publisher is the slice of the event bus the service needs.
type Publisher interface {
	Publish(topic string, payload any)
}

type Service struct {
	projects repository.ProjectRepository
	events   Publisher
	logger   *zap.Logger
}

func NewService(projects repository.ProjectRepository, events Publisher, logger *zap.Logger) *Service {
	return &Service{projects: projects, events: events, logger: logger}
}

// CreateProject creates a project with the caller as creator and sole
// member, then publishes project.created.
func (s *Service) CreateProject(ctx context.Context, title, description string, creatorID uuid.UUID) (*models.Project, error) {
	if title == "" {
		return nil, errs.Validation("title must not be empty")
	}

	p, err := s.projects.Create(ctx, title, description, creatorID)
	if err != nil {
		return nil, errs.Internal("create project", err)
	}

	s.events.Publish(bus.TopicProjectCreated, bus.ProjectCreated{
		ProjectID: p.ID,
		CreatorID: creatorID,
	})
	return p, nil
}

// RequestJoin records a pending join request (NONE → PENDING) and
// publishes project.joinRequest. Fails with Conflict if the user is
// already a member or already pending: a duplicate request is a
// detectable conflict, never a second pending entry.
func (s *Service) RequestJoin(ctx context.Context, projectID, userID uuid.UUID) error {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return errs.Internal("check project", err)
	}
	if !exists {
		return errs.NotFound("project not found")
	}

	added, err := s.projects.AddJoinRequest(ctx, projectID, userID)
	if err != nil {
		return errs.Internal("add join request", err)
	}
	if !added {
		// The conditional insert was a no-op: the user is either a member
		// or already pending. Distinguish only for the message.
		member, err := s.projects.IsMember(ctx, projectID, userID)
		if err != nil {
			return errs.Internal("check membership", err)
		}
		if member {
			return errs.Conflict("user is already a member of this project")
		}
		return errs.Conflict("join request already pending")
	}

	s.logger.Info("join requested",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID.String()),
	)
	s.events.Publish(bus.TopicProjectJoinRequest, bus.ProjectJoinRequest{
		ProjectID: projectID,
		UserID:    userID,
	})
	return nil
}

// ApproveJoinRequest moves the user from pending to members (PENDING →
// MEMBER) and publishes project.userJoined. The losing side of a
// concurrent double approval gets Conflict, not a double add.
func (s *Service) ApproveJoinRequest(ctx context.Context, projectID, userID uuid.UUID) error {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return errs.Internal("check project", err)
	}
	if !exists {
		return errs.NotFound("project not found")
	}

	approved, err := s.projects.ApproveJoinRequest(ctx, projectID, userID)
	if err != nil {
		return errs.Internal("approve join request", err)
	}
	if !approved {
		return errs.Conflict("no pending join request for this user")
	}

	s.logger.Info("join request approved",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID.String()),
	)
	s.events.Publish(bus.TopicProjectUserJoined, bus.ProjectUserJoined{
		ProjectID: projectID,
		UserID:    userID,
	})
	return nil
}

// WithdrawJoinRequest removes a pending request (PENDING → NONE).
// Idempotent: withdrawing a request that is not there succeeds.
func (s *Service) WithdrawJoinRequest(ctx context.Context, projectID, userID uuid.UUID) error {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return errs.Internal("check project", err)
	}
	if !exists {
		return errs.NotFound("project not found")
	}

	if _, err := s.projects.RemoveJoinRequest(ctx, projectID, userID); err != nil {
		return errs.Internal("withdraw join request", err)
	}
	return nil
}

// UserInProject reports persisted membership. Checked at point of use by
// the gateway on every room join and message send.
func (s *Service) UserInProject(ctx context.Context, userID, projectID uuid.UUID) (bool, error) {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return false, errs.Internal("check project", err)
	}
	if !exists {
		return false, errs.NotFound("project not found")
	}

	member, err := s.projects.IsMember(ctx, projectID, userID)
	if err != nil {
		return false, errs.Internal("check membership", err)
	}
	return member, nil
}

// ProjectExists is a pure existence read.
func (s *Service) ProjectExists(ctx context.Context, projectID uuid.UUID) (bool, error) {
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return false, errs.Internal("check project", err)
	}
	return exists, nil
}

// GetProject returns the full project view with sets expanded.
func (s *Service) GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, errs.Internal("get project", err)
	}
	if p == nil {
		return nil, errs.NotFound("project not found")
	}
	return p, nil
}

// ListProjects returns all projects without set expansion.
func (s *Service) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects, err := s.projects.List(ctx)
	if err != nil {
		return nil, errs.Internal("list projects", err)
	}
	return projects, nil
}

// UpdateProject lets the creator change title/description.
func (s *Service) UpdateProject(ctx context.Context, projectID, callerID uuid.UUID, title, description *string) (*models.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, errs.Internal("get project", err)
	}
	if p == nil {
		return nil, errs.NotFound("project not found")
	}
	if p.CreatorID != callerID {
		return nil, errs.Unauthorized("you are not the creator of this project")
	}

	updated, err := s.projects.Update(ctx, projectID, title, description)
	if err != nil {
		return nil, errs.Internal("update project", err)
	}
	if updated == nil {
		return nil, errs.NotFound("project not found")
	}
	return updated, nil
}

// RemoveProject lets the creator delete the project.
func (s *Service) RemoveProject(ctx context.Context, projectID, callerID uuid.UUID) error {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return errs.Internal("get project", err)
	}
	if p == nil {
		return errs.NotFound("project not found")
	}
	if p.CreatorID != callerID {
		return errs.Unauthorized("you are not the creator of this project")
	}

	if _, err := s.projects.Delete(ctx, projectID); err != nil {
		return errs.Internal("delete project", err)
	}
	return nil
}
