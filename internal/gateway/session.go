package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 32 * 1024
	sendBufferSize = 256
)

var errBackpressure = errors.New("session send buffer full")

// Session is one authenticated websocket connection. Identity is bound at
// handshake time and never changes; the joined-room set lives in the
// gateway's registry and is released on disconnect.
type Session struct {
	id       uuid.UUID
	identity auth.Identity
	conn     *websocket.Conn
	gw       *Gateway

	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newSession(gw *Gateway, conn *websocket.Conn, identity auth.Identity) *Session {
	return &Session{
		id:       uuid.New(),
		identity: identity,
		conn:     conn,
		gw:       gw,
		send:     make(chan []byte, sendBufferSize),
	}
}

// trySend queues a frame without blocking. A full buffer means the client
// is not keeping up; the frame is dropped for this session only so the
// broadcaster never stalls.
func (s *Session) trySend(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Session) sendEvent(event string, data any) {
	raw, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		s.gw.logger.Error("marshal outbound frame", zap.Error(err))
		return
	}
	if err := s.trySend(raw); err != nil {
		s.gw.logger.Warn("dropping frame",
			zap.String("event", event),
			zap.String("session_id", s.id.String()),
			zap.Error(err),
		)
	}
}

// sendException reports a failed client event back to this session only.
func (s *Session) sendException(event, message, kind string) {
	s.sendEvent(EventException, exceptionNotice{
		Event:   event,
		Message: message,
		Data:    kind,
	})
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	_ = s.conn.Close()
}

// readPump processes inbound frames serially for this connection; other
// connections run their own pumps concurrently. A handler error never
// terminates the pump — it becomes an exception frame.
func (s *Session) readPump() {
	defer s.gw.dropSession(s)

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.gw.logger.Debug("websocket read error",
					zap.String("session_id", s.id.String()),
					zap.Error(err),
				)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendException("", "malformed frame", "validation")
			continue
		}
		s.gw.dispatch(s, frame)
	}
}

// writePump is the only goroutine writing to the connection. It drains
// the send buffer and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
