package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/models"
)

const testSecret = "gateway-test-secret"

// fakeMembership is an in-memory stand-in for the membership service.
type fakeMembership struct {
	mu      sync.Mutex
	exists  map[uuid.UUID]bool
	members map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		exists:  make(map[uuid.UUID]bool),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (f *fakeMembership) addProject(projectID uuid.UUID, members ...uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists[projectID] = true
	set := make(map[uuid.UUID]bool)
	for _, m := range members {
		set[m] = true
	}
	f.members[projectID] = set
}

func (f *fakeMembership) UserInProject(_ context.Context, userID, projectID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists[projectID] {
		return false, errs.NotFound("project not found")
	}
	return f.members[projectID][userID], nil
}

func (f *fakeMembership) ProjectExists(_ context.Context, projectID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[projectID], nil
}

// fakeUsers resolves profiles for message attribution.
type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[uuid.UUID]*models.User)}
}

func (f *fakeUsers) add(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeUsers) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeUsers) GetByEmail(context.Context, string) (*models.User, error) { return nil, nil }

func (f *fakeUsers) Create(context.Context, string, string, string, string, string) (*models.User, error) {
	return nil, nil
}

type testEnv struct {
	gw         *Gateway
	server     *httptest.Server
	events     *bus.Bus
	membership *fakeMembership
	users      *fakeUsers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	events := bus.New(zap.NewNop())
	t.Cleanup(events.Close)

	membership := newFakeMembership()
	users := newFakeUsers()

	gw := New(auth.NewJWTVerifier(testSecret), membership, users, events, zap.NewNop())
	gw.Start()
	t.Cleanup(gw.Shutdown)

	router := gin.New()
	router.GET("/v1/ws", gw.HandleWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{gw: gw, server: server, events: events, membership: membership, users: users}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/ws"
}

func newTestUser(name string) *models.User {
	return &models.User{
		ID:        uuid.New(),
		Username:  name,
		FirstName: name,
		LastName:  "tester",
	}
}

func tokenFor(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := auth.GenerateToken(u, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func dial(t *testing.T, e *testEnv, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(outFrame{Event: event, Data: data}))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var frame Frame
	err := conn.ReadJSON(&frame)
	require.Error(t, err, "expected no frame, got %s", frame.Event)
}

func joinRoom(t *testing.T, e *testEnv, conn *websocket.Conn, projectID uuid.UUID, want int) {
	t.Helper()
	writeFrame(t, conn, EventRoomJoin, projectID.String())
	require.Eventually(t, func() bool {
		return e.gw.RoomSize(projectID) >= want
	}, 2*time.Second, 10*time.Millisecond, "session did not join room")
}

func decodeException(t *testing.T, frame Frame) exceptionNotice {
	t.Helper()
	require.Equal(t, EventException, frame.Event)
	var notice exceptionNotice
	require.NoError(t, json.Unmarshal(frame.Data, &notice))
	return notice
}

func TestHandshakeRejectsMissingCredential(t *testing.T) {
	e := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, e.gw.SessionCount())
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	e := newTestEnv(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsTokenQueryParameter(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")

	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+tokenFor(t, u), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return e.gw.SessionCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestRoomJoinDeniedForNonMember(t *testing.T) {
	e := newTestEnv(t)
	member, outsider := newTestUser("ada"), newTestUser("eve")
	projectID := uuid.New()
	e.membership.addProject(projectID, member.ID)

	conn := dial(t, e, tokenFor(t, outsider))
	writeFrame(t, conn, EventRoomJoin, projectID.String())

	notice := decodeException(t, readFrame(t, conn))
	assert.Equal(t, EventRoomJoin, notice.Event)
	assert.Equal(t, "unauthorized", notice.Data)
	assert.Equal(t, 0, e.gw.RoomSize(projectID))
}

func TestRoomJoinUnknownProjectIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")

	conn := dial(t, e, tokenFor(t, u))
	writeFrame(t, conn, EventRoomJoin, uuid.New().String())

	notice := decodeException(t, readFrame(t, conn))
	assert.Equal(t, "not_found", notice.Data)
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")
	projectID := uuid.New()
	e.membership.addProject(projectID, u.ID)

	conn := dial(t, e, tokenFor(t, u))
	joinRoom(t, e, conn, projectID, 1)
	joinRoom(t, e, conn, projectID, 1)

	assert.Equal(t, 1, e.gw.RoomSize(projectID))
}

func TestMessageSendBroadcastsToRoomIncludingSender(t *testing.T) {
	e := newTestEnv(t)
	ada, grace := newTestUser("ada"), newTestUser("grace")
	e.users.add(ada)
	e.users.add(grace)
	projectID := uuid.New()
	e.membership.addProject(projectID, ada.ID, grace.ID)

	durability := make(chan bus.NewMessage, 1)
	e.events.Subscribe(bus.TopicNewMessage, func(_ string, payload any) {
		if ev, ok := payload.(bus.NewMessage); ok {
			durability <- ev
		}
	})

	adaConn := dial(t, e, tokenFor(t, ada))
	graceConn := dial(t, e, tokenFor(t, grace))
	joinRoom(t, e, adaConn, projectID, 1)
	joinRoom(t, e, graceConn, projectID, 2)

	writeFrame(t, adaConn, EventMessageSend, sendMessagePayload{
		ProjectID: projectID,
		Content:   "hello crew",
	})

	for _, conn := range []*websocket.Conn{adaConn, graceConn} {
		frame := readFrame(t, conn)
		require.Equal(t, EventMessageNew, frame.Event)

		var notice newMessageNotice
		require.NoError(t, json.Unmarshal(frame.Data, &notice))
		assert.Equal(t, "hello crew", notice.Content)
		assert.Equal(t, ada.ID, notice.User.ID)
		assert.Equal(t, "ada", notice.User.Username)
		assert.False(t, notice.Timestamp.IsZero())
	}

	select {
	case ev := <-durability:
		assert.Equal(t, projectID, ev.ProjectID)
		assert.Equal(t, models.MessageKindUser, ev.Kind)
		require.NotNil(t, ev.AuthorID)
		assert.Equal(t, ada.ID, *ev.AuthorID)
		assert.Equal(t, "hello crew", ev.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no durability event published")
	}
}

func TestMessageSendFromNonMemberIsRejected(t *testing.T) {
	e := newTestEnv(t)
	member, outsider := newTestUser("ada"), newTestUser("eve")
	projectID := uuid.New()
	e.membership.addProject(projectID, member.ID)

	durability := make(chan bus.NewMessage, 1)
	e.events.Subscribe(bus.TopicNewMessage, func(_ string, payload any) {
		if ev, ok := payload.(bus.NewMessage); ok {
			durability <- ev
		}
	})

	memberConn := dial(t, e, tokenFor(t, member))
	joinRoom(t, e, memberConn, projectID, 1)

	outsiderConn := dial(t, e, tokenFor(t, outsider))
	writeFrame(t, outsiderConn, EventMessageSend, sendMessagePayload{
		ProjectID: projectID,
		Content:   "hi",
	})

	notice := decodeException(t, readFrame(t, outsiderConn))
	assert.Equal(t, EventMessageSend, notice.Event)
	assert.Equal(t, "unauthorized", notice.Data)

	// No broadcast to the room, no durability event.
	expectNoFrame(t, memberConn)
	select {
	case <-durability:
		t.Fatal("unauthorized send must not produce a durability event")
	default:
	}
}

func TestMessageSendEmptyContentIsValidationError(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")
	projectID := uuid.New()
	e.membership.addProject(projectID, u.ID)

	conn := dial(t, e, tokenFor(t, u))
	joinRoom(t, e, conn, projectID, 1)

	writeFrame(t, conn, EventMessageSend, sendMessagePayload{
		ProjectID: projectID,
		Content:   "",
	})

	notice := decodeException(t, readFrame(t, conn))
	assert.Equal(t, "validation", notice.Data)
	expectNoFrame(t, conn)
}

func TestMessageSendUnknownProjectIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")

	conn := dial(t, e, tokenFor(t, u))
	writeFrame(t, conn, EventMessageSend, sendMessagePayload{
		ProjectID: uuid.New(),
		Content:   "hi",
	})

	notice := decodeException(t, readFrame(t, conn))
	assert.Equal(t, "not_found", notice.Data)
}

func TestMembershipEventsRelayToRoom(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")
	projectID := uuid.New()
	joiner := uuid.New()
	e.membership.addProject(projectID, u.ID)

	conn := dial(t, e, tokenFor(t, u))
	joinRoom(t, e, conn, projectID, 1)

	e.events.Publish(bus.TopicProjectJoinRequest, bus.ProjectJoinRequest{
		ProjectID: projectID,
		UserID:    joiner,
	})

	frame := readFrame(t, conn)
	require.Equal(t, EventUserRequestJoin, frame.Event)
	var notice membershipNotice
	require.NoError(t, json.Unmarshal(frame.Data, &notice))
	assert.Equal(t, projectID, notice.ProjectID)
	assert.Equal(t, joiner, notice.UserID)

	e.events.Publish(bus.TopicProjectUserJoined, bus.ProjectUserJoined{
		ProjectID: projectID,
		UserID:    joiner,
	})

	frame = readFrame(t, conn)
	require.Equal(t, EventUserJoined, frame.Event)
}

func TestRoomLeaveStopsDelivery(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")
	projectID := uuid.New()
	e.membership.addProject(projectID, u.ID)

	conn := dial(t, e, tokenFor(t, u))
	joinRoom(t, e, conn, projectID, 1)

	writeFrame(t, conn, EventRoomLeave, projectID.String())
	require.Eventually(t, func() bool { return e.gw.RoomSize(projectID) == 0 },
		2*time.Second, 10*time.Millisecond)

	// Leaving twice is fine.
	writeFrame(t, conn, EventRoomLeave, projectID.String())

	e.events.Publish(bus.TopicProjectUserJoined, bus.ProjectUserJoined{
		ProjectID: projectID,
		UserID:    uuid.New(),
	})
	expectNoFrame(t, conn)
}

func TestDisconnectReleasesRoomSubscriptions(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")
	projectID := uuid.New()
	e.membership.addProject(projectID, u.ID)

	conn := dial(t, e, tokenFor(t, u))
	joinRoom(t, e, conn, projectID, 1)

	conn.Close()
	require.Eventually(t, func() bool {
		return e.gw.RoomSize(projectID) == 0 && e.gw.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameGetsExceptionNotDisconnect(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")
	projectID := uuid.New()
	e.membership.addProject(projectID, u.ID)

	conn := dial(t, e, tokenFor(t, u))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	notice := decodeException(t, readFrame(t, conn))
	assert.Equal(t, "validation", notice.Data)

	// Connection still usable.
	joinRoom(t, e, conn, projectID, 1)
}

func TestUnknownEventGetsException(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUser("ada")

	conn := dial(t, e, tokenFor(t, u))
	writeFrame(t, conn, "room:explode", "boom")

	notice := decodeException(t, readFrame(t, conn))
	assert.Equal(t, "room:explode", notice.Event)
	assert.Equal(t, "validation", notice.Data)
}
