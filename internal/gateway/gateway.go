// Package gateway terminates realtime client connections. It
// authenticates each websocket at handshake time, tracks room
// subscriptions (a presence concept, distinct from persisted project
// membership), routes chat sends, and relays membership events from the
// bus to subscribed clients.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/repository"
)

// opTimeout bounds every store/service call made on behalf of a single
// inbound frame, so a stalled backend surfaces as an error instead of a
// hung connection.
const opTimeout = 5 * time.Second

// MembershipService is the slice of the membership service the gateway
// authorizes against. Checks run at point of use, never cached.
type MembershipService interface {
	UserInProject(ctx context.Context, userID, projectID uuid.UUID) (bool, error)
	ProjectExists(ctx context.Context, projectID uuid.UUID) (bool, error)
}

// EventBus is what the gateway needs from the bus: publishing durability
// events and subscribing to membership notifications.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(pattern string, handler bus.Handler) (unsubscribe func())
}

type Gateway struct {
	verifier   auth.Verifier
	membership MembershipService
	users      repository.UserRepository
	events     EventBus
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	rooms    map[uuid.UUID]map[*Session]struct{}
	joined   map[*Session]map[uuid.UUID]struct{}

	unsubs []func()
}

func New(verifier auth.Verifier, membership MembershipService, users repository.UserRepository, events EventBus, logger *zap.Logger) *Gateway {
	return &Gateway{
		verifier:   verifier,
		membership: membership,
		users:      users,
		events:     events,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*Session]struct{}),
		rooms:    make(map[uuid.UUID]map[*Session]struct{}),
		joined:   make(map[*Session]map[uuid.UUID]struct{}),
	}
}

// Start wires the bus relays: membership events fan out to the affected
// project's room. Fire-and-forget — an empty room drops the event.
func (g *Gateway) Start() {
	g.unsubs = append(g.unsubs,
		g.events.Subscribe(bus.TopicProjectJoinRequest, func(_ string, payload any) {
			if ev, ok := payload.(bus.ProjectJoinRequest); ok {
				g.broadcast(ev.ProjectID, EventUserRequestJoin, membershipNotice{
					ProjectID: ev.ProjectID,
					UserID:    ev.UserID,
				})
			}
		}),
		g.events.Subscribe(bus.TopicProjectUserJoined, func(_ string, payload any) {
			if ev, ok := payload.(bus.ProjectUserJoined); ok {
				g.broadcast(ev.ProjectID, EventUserJoined, membershipNotice{
					ProjectID: ev.ProjectID,
					UserID:    ev.UserID,
				})
			}
		}),
	)
}

// Shutdown detaches from the bus and closes every live session.
func (g *Gateway) Shutdown() {
	for _, unsub := range g.unsubs {
		unsub()
	}
	g.unsubs = nil

	g.mu.Lock()
	sessions := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		g.dropSession(s)
	}
}

// HandleWS upgrades GET /v1/ws. The bearer credential comes from the
// Authorization header, a token header, or a token query parameter; a
// missing or invalid credential rejects the connection before any event
// handling.
func (g *Gateway) HandleWS(c *gin.Context) {
	credential := bearerCredential(c)
	if credential == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
		return
	}

	identity, err := g.verifier.Resolve(credential)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(g, conn, identity)
	g.mu.Lock()
	g.sessions[s] = struct{}{}
	g.joined[s] = make(map[uuid.UUID]struct{})
	g.mu.Unlock()

	g.logger.Info("client connected",
		zap.String("session_id", s.id.String()),
		zap.String("user_id", identity.ID.String()),
	)

	go s.writePump()
	go s.readPump()
}

func bearerCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		header = c.GetHeader("token")
	}
	if header == "" {
		header = c.Query("token")
	}
	if header == "" {
		return ""
	}
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return header
}

func (g *Gateway) dispatch(s *Session, frame Frame) {
	switch frame.Event {
	case EventRoomJoin:
		g.handleRoomJoin(s, frame.Data)
	case EventRoomLeave:
		g.handleRoomLeave(s, frame.Data)
	case EventMessageSend:
		g.handleMessageSend(s, frame.Data)
	default:
		s.sendException(frame.Event, "unknown event", errs.KindValidation.String())
	}
}

func (g *Gateway) handleRoomJoin(s *Session, data json.RawMessage) {
	projectID, err := parseRoomPayload(data)
	if err != nil {
		s.sendException(EventRoomJoin, "invalid project id", errs.KindValidation.String())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Authorization is re-validated on every join attempt against the
	// persisted member set.
	member, err := g.membership.UserInProject(ctx, s.identity.ID, projectID)
	if err != nil {
		s.sendException(EventRoomJoin, errs.Message(err), errs.KindOf(err).String())
		return
	}
	if !member {
		s.sendException(EventRoomJoin, "user not in project", errs.KindUnauthorized.String())
		return
	}

	g.joinRoom(s, projectID)
}

func (g *Gateway) handleRoomLeave(s *Session, data json.RawMessage) {
	projectID, err := parseRoomPayload(data)
	if err != nil {
		s.sendException(EventRoomLeave, "invalid project id", errs.KindValidation.String())
		return
	}
	// Leaving needs no authorization: it cannot leak anything.
	g.leaveRoom(s, projectID)
}

func (g *Gateway) handleMessageSend(s *Session, data json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ProjectID == uuid.Nil {
		s.sendException(EventMessageSend, "invalid message payload", errs.KindValidation.String())
		return
	}
	if p.Content == "" {
		s.sendException(EventMessageSend, "message content must not be empty", errs.KindValidation.String())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Membership can change between room join and send; check again.
	member, err := g.membership.UserInProject(ctx, s.identity.ID, p.ProjectID)
	if err != nil {
		s.sendException(EventMessageSend, errs.Message(err), errs.KindOf(err).String())
		return
	}
	if !member {
		s.sendException(EventMessageSend, "user not in project", errs.KindUnauthorized.String())
		return
	}

	g.broadcast(p.ProjectID, EventMessageNew, newMessageNotice{
		User:      g.authorView(ctx, s),
		Content:   p.Content,
		Timestamp: time.Now().UTC(),
	})

	authorID := s.identity.ID
	g.events.Publish(bus.TopicNewMessage, bus.NewMessage{
		ProjectID: p.ProjectID,
		Kind:      models.MessageKindUser,
		AuthorID:  &authorID,
		Content:   p.Content,
	})
}

// authorView resolves the sender's current profile for the broadcast
// payload. The lookup is cache-backed; on failure the identity bound at
// handshake still attributes the message.
func (g *Gateway) authorView(ctx context.Context, s *Session) models.UserView {
	u, err := g.users.GetByID(ctx, s.identity.ID)
	if err != nil || u == nil {
		return s.identity
	}
	return u.View()
}

func (g *Gateway) joinRoom(s *Session, projectID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sessions[s]; !ok {
		return
	}
	room, ok := g.rooms[projectID]
	if !ok {
		room = make(map[*Session]struct{})
		g.rooms[projectID] = room
	}
	room[s] = struct{}{}
	g.joined[s][projectID] = struct{}{}
}

func (g *Gateway) leaveRoom(s *Session, projectID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeFromRoom(s, projectID)
}

// removeFromRoom requires g.mu held.
func (g *Gateway) removeFromRoom(s *Session, projectID uuid.UUID) {
	if room, ok := g.rooms[projectID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(g.rooms, projectID)
		}
	}
	if rooms, ok := g.joined[s]; ok {
		delete(rooms, projectID)
	}
}

// RoomSize reports how many sessions are subscribed to a room.
func (g *Gateway) RoomSize(projectID uuid.UUID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[projectID])
}

// SessionCount reports the number of live connections.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// broadcast fans one event out to every session subscribed to the room.
// Delivery per session is non-blocking; a slow client drops its copy.
func (g *Gateway) broadcast(projectID uuid.UUID, event string, data any) {
	raw, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		g.logger.Error("marshal broadcast frame", zap.Error(err))
		return
	}

	g.mu.RLock()
	room := g.rooms[projectID]
	targets := make([]*Session, 0, len(room))
	for s := range room {
		targets = append(targets, s)
	}
	g.mu.RUnlock()

	for _, s := range targets {
		if err := s.trySend(raw); err != nil {
			g.logger.Warn("dropping broadcast frame",
				zap.String("event", event),
				zap.String("session_id", s.id.String()),
				zap.Error(err),
			)
		}
	}
}

// dropSession removes a session from the registry and all rooms, then
// closes it. Safe to call more than once.
func (g *Gateway) dropSession(s *Session) {
	g.mu.Lock()
	if _, ok := g.sessions[s]; ok {
		delete(g.sessions, s)
		for projectID := range g.joined[s] {
			g.removeFromRoom(s, projectID)
		}
		delete(g.joined, s)
		g.logger.Info("client disconnected", zap.String("session_id", s.id.String()))
	}
	g.mu.Unlock()

	s.close()
}
