package chathistory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/models"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	created  []models.Message
	failNext bool
	wrote    chan struct{}
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{wrote: make(chan struct{}, 16)}
}

func (f *fakeMessageStore) Create(_ context.Context, projectID uuid.UUID, kind models.MessageKind, authorID *uuid.UUID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.wrote <- struct{}{} }()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("store unavailable")
	}
	msg := models.Message{
		ID:        int64(len(f.created) + 1),
		ProjectID: projectID,
		Kind:      kind,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.created = append(f.created, msg)
	return &msg, nil
}

func (f *fakeMessageStore) ListByProject(context.Context, uuid.UUID, int64, int) ([]models.Message, error) {
	return nil, nil
}

func (f *fakeMessageStore) waitWrite(t *testing.T) {
	t.Helper()
	select {
	case <-f.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message write")
	}
}

func (f *fakeMessageStore) messages() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.created...)
}

type fakeUserStore struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeUserStore) GetByEmail(context.Context, string) (*models.User, error) { return nil, nil }

func (f *fakeUserStore) Create(context.Context, string, string, string, string, string) (*models.User, error) {
	return nil, nil
}

func newTestRecorder(t *testing.T) (*bus.Bus, *fakeMessageStore, uuid.UUID) {
	t.Helper()
	events := bus.New(zap.NewNop())
	t.Cleanup(events.Close)

	store := newFakeMessageStore()
	userID := uuid.New()
	users := &fakeUserStore{users: map[uuid.UUID]*models.User{
		userID: {ID: userID, Username: "ada"},
	}}

	r := NewRecorder(store, users, zap.NewNop())
	r.Start(events)
	t.Cleanup(r.Stop)

	return events, store, userID
}

func TestRecorderPersistsUserMessages(t *testing.T) {
	events, store, userID := newTestRecorder(t)
	projectID := uuid.New()

	events.Publish(bus.TopicNewMessage, bus.NewMessage{
		ProjectID: projectID,
		Kind:      models.MessageKindUser,
		AuthorID:  &userID,
		Content:   "hello",
	})
	store.waitWrite(t)

	msgs := store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageKindUser, msgs[0].Kind)
	assert.Equal(t, "hello", msgs[0].Content)
	require.NotNil(t, msgs[0].AuthorID)
	assert.Equal(t, userID, *msgs[0].AuthorID)
}

func TestRecorderWritesSystemMessageOnUserJoined(t *testing.T) {
	events, store, userID := newTestRecorder(t)
	projectID := uuid.New()

	events.Publish(bus.TopicProjectUserJoined, bus.ProjectUserJoined{
		ProjectID: projectID,
		UserID:    userID,
	})
	store.waitWrite(t)

	msgs := store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageKindSystem, msgs[0].Kind)
	assert.Nil(t, msgs[0].AuthorID)
	assert.Equal(t, "ada joined the project", msgs[0].Content)
}

func TestRecorderWritesSystemMessageOnProjectCreated(t *testing.T) {
	events, store, userID := newTestRecorder(t)

	events.Publish(bus.TopicProjectCreated, bus.ProjectCreated{
		ProjectID: uuid.New(),
		CreatorID: userID,
	})
	store.waitWrite(t)

	msgs := store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "project created by ada", msgs[0].Content)
}

func TestRecorderIgnoresJoinRequests(t *testing.T) {
	events, store, userID := newTestRecorder(t)

	events.Publish(bus.TopicProjectJoinRequest, bus.ProjectJoinRequest{
		ProjectID: uuid.New(),
		UserID:    userID,
	})
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, store.messages())
}

func TestRecorderFailureDoesNotPropagate(t *testing.T) {
	events, store, userID := newTestRecorder(t)
	store.failNext = true
	projectID := uuid.New()

	// The failing write is logged and dropped; the next one lands.
	events.Publish(bus.TopicNewMessage, bus.NewMessage{
		ProjectID: projectID,
		Kind:      models.MessageKindUser,
		AuthorID:  &userID,
		Content:   "lost",
	})
	store.waitWrite(t)

	events.Publish(bus.TopicNewMessage, bus.NewMessage{
		ProjectID: projectID,
		Kind:      models.MessageKindUser,
		AuthorID:  &userID,
		Content:   "kept",
	})
	store.waitWrite(t)

	msgs := store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}
