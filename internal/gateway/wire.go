package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck/internal/models"
)

// Client-to-server event names.
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventMessageSend = "message:send"
)

// Server-to-client event names.
const (
	EventUserRequestJoin = "user:request_join"
	EventUserJoined      = "user:joined"
	EventMessageNew      = "message:new"
	EventException       = "exception"
)

// Frame is the wire envelope in both directions:
// {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// sendMessagePayload is the data of a client message:send frame.
type sendMessagePayload struct {
	ProjectID uuid.UUID `json:"projectId"`
	Content   string    `json:"content"`
}

// roomPayload is the data of room:join / room:leave. Clients send the
// project id either as a bare JSON string or as {"projectId": "..."}.
type roomPayload struct {
	ProjectID uuid.UUID `json:"projectId"`
}

func parseRoomPayload(data json.RawMessage) (uuid.UUID, error) {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return uuid.Parse(plain)
	}
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return uuid.Nil, err
	}
	return p.ProjectID, nil
}

// membershipNotice is the data of user:request_join and user:joined.
type membershipNotice struct {
	ProjectID uuid.UUID `json:"projectId"`
	UserID    uuid.UUID `json:"userId"`
}

// newMessageNotice is the data of message:new.
type newMessageNotice struct {
	User      models.UserView `json:"user"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// exceptionNotice is the data of an exception frame, delivered only to
// the connection whose event failed.
type exceptionNotice struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}
