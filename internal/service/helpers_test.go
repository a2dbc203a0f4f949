package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/repository/memory"
	"github.com/overcastly/parley/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// capturingBroadcaster records every publish; fail makes all publishes
// error to exercise the fire-and-forget path.
type capturingBroadcaster struct {
	mu    sync.Mutex
	calls []publishCall
	fail  error
}

type publishCall struct {
	Channel string
	Event   string
	Payload any
}

func (b *capturingBroadcaster) Publish(_ context.Context, channel, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.calls = append(b.calls, publishCall{Channel: channel, Event: event, Payload: payload})
	return nil
}

func (b *capturingBroadcaster) published() []publishCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishCall, len(b.calls))
	copy(out, b.calls)
	return out
}

type fixture struct {
	store       *memory.Store
	broadcaster *capturingBroadcaster
	chats       *service.ChatService
	messages    *service.MessageService

	alice, bob, carol *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	broadcaster := &capturingBroadcaster{}
	logger := zap.NewNop()

	f := &fixture{
		store:       store,
		broadcaster: broadcaster,
		chats:       service.NewChatService(store.Chats, store.Memberships, store.Messages, store.Users, logger),
		messages:    service.NewMessageService(store.Messages, store.Statuses, store.Memberships, store.Users, broadcaster, logger),
	}

	f.alice = f.addUser(t, "Alice", "alice@example.com")
	f.bob = f.addUser(t, "Bob", "bob@example.com")
	f.carol = f.addUser(t, "Carol", "carol@example.com")
	return f
}

func (f *fixture) addUser(t *testing.T, name, email string) *models.User {
	t.Helper()
	u, err := f.store.Users.Create(context.Background(), name, nil, email, "x")
	require.NoError(t, err)
	return u
}

func (f *fixture) privateChat(t *testing.T, a, b *models.User) *service.ChatView {
	t.Helper()
	ch, err := f.chats.Create(context.Background(), a.ID, false, nil, []uuid.UUID{b.ID})
	require.NoError(t, err)
	return ch
}

func (f *fixture) groupChat(t *testing.T, title string, creator *models.User, others ...*models.User) *service.ChatView {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(others))
	for _, u := range others {
		ids = append(ids, u.ID)
	}
	ch, err := f.chats.Create(context.Background(), creator.ID, true, &title, ids)
	require.NoError(t, err)
	return ch
}

func (f *fixture) send(t *testing.T, sender *models.User, chatID uuid.UUID, text string) *service.MessageView {
	t.Helper()
	msg, err := f.messages.Send(context.Background(), sender.ID, chatID, models.TypeText, &text, nil)
	require.NoError(t, err)
	return msg
}

func (f *fixture) effective(t *testing.T, messageID int64, userID uuid.UUID) *models.StatusEvent {
	t.Helper()
	ev, err := f.store.Statuses.Effective(context.Background(), messageID, userID)
	require.NoError(t, err)
	return ev
}
