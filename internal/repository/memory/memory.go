// Package memory implements the repository ports in process memory. It
// backs the service tests and doubles as a reference for the ledger
// semantics: the status ledger keeps its append-only log AND an explicit
// per-(message, user) index to the latest event, updated on write, so
// effective-status lookups never scan the log.
//
// All sub-stores share one mutex, which also gives the multi-row writes
// (chat+members, message+initial statuses) the same all-or-nothing
// visibility the postgres stores get from transactions.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/apperr"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/repository"
)

type core struct {
	mu sync.RWMutex

	users     map[uuid.UUID]*models.User
	userOrder []uuid.UUID
	emails    map[string]uuid.UUID

	chats     map[uuid.UUID]*models.Chat
	chatOrder []uuid.UUID
	members   map[uuid.UUID][]*models.Membership // chat id -> memberships in join order

	messages map[int64]*models.Message
	byChat   map[uuid.UUID][]int64 // chat id -> message ids in append order

	statusLog []models.StatusEvent                        // audit trail, append-only
	latest    map[int64]map[uuid.UUID]*models.StatusEvent // the latest-event index

	nextMessageID int64
	nextEventID   int64
}

// Store aggregates the in-memory implementations of every repository port.
type Store struct {
	Users       *UserStore
	Chats       *ChatStore
	Memberships *MembershipStore
	Messages    *MessageStore
	Statuses    *StatusStore

	c *core
}

func New() *Store {
	c := &core{
		users:    make(map[uuid.UUID]*models.User),
		emails:   make(map[string]uuid.UUID),
		chats:    make(map[uuid.UUID]*models.Chat),
		members:  make(map[uuid.UUID][]*models.Membership),
		messages: make(map[int64]*models.Message),
		byChat:   make(map[uuid.UUID][]int64),
		latest:   make(map[int64]map[uuid.UUID]*models.StatusEvent),
	}
	return &Store{
		Users:       &UserStore{c: c},
		Chats:       &ChatStore{c: c},
		Memberships: &MembershipStore{c: c},
		Messages:    &MessageStore{c: c},
		Statuses:    &StatusStore{c: c},
		c:           c,
	}
}

var (
	_ repository.UserRepository       = (*UserStore)(nil)
	_ repository.ChatRepository       = (*ChatStore)(nil)
	_ repository.MembershipRepository = (*MembershipStore)(nil)
	_ repository.MessageRepository    = (*MessageStore)(nil)
	_ repository.StatusRepository     = (*StatusStore)(nil)
)

// ----- users -----

type UserStore struct{ c *core }

func (s *UserStore) Create(ctx context.Context, name string, displayName *string, email, passwordHash string) (*models.User, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if _, taken := s.c.emails[email]; taken {
		return nil, apperr.New(apperr.Conflict, "email already registered")
	}

	u := &models.User{
		ID:           uuid.New(),
		Name:         name,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.c.users[u.ID] = u
	s.c.userOrder = append(s.c.userOrder, u.ID)
	s.c.emails[email] = u.ID

	out := *u
	return &out, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	u, ok := s.c.users[userID]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	id, ok := s.c.emails[email]
	if !ok {
		return nil, nil
	}
	out := *s.c.users[id]
	return &out, nil
}

func (s *UserStore) GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]models.User, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	users := make([]models.User, 0, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.c.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	users := make([]models.User, 0, len(s.c.userOrder))
	for i := len(s.c.userOrder) - 1; i >= 0; i-- {
		users = append(users, *s.c.users[s.c.userOrder[i]])
	}
	return users, nil
}

func (s *UserStore) Update(ctx context.Context, u *models.User) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	cur, ok := s.c.users[u.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	if other, taken := s.c.emails[u.Email]; taken && other != u.ID {
		return apperr.New(apperr.Conflict, "email already registered")
	}

	delete(s.c.emails, cur.Email)
	cur.Name = u.Name
	cur.DisplayName = u.DisplayName
	cur.Email = u.Email
	cur.PasswordHash = u.PasswordHash
	s.c.emails[cur.Email] = cur.ID
	return nil
}

// ----- chats -----

type ChatStore struct{ c *core }

func (s *ChatStore) CreateWithMembers(ctx context.Context, isGroup bool, title *string, creatorID uuid.UUID, members []repository.NewMember) (*models.Chat, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	ch := &models.Chat{
		ID:        uuid.New(),
		IsGroup:   isGroup,
		Title:     title,
		CreatorID: creatorID,
		CreatedAt: time.Now(),
	}
	s.c.chats[ch.ID] = ch
	s.c.chatOrder = append(s.c.chatOrder, ch.ID)

	for _, m := range members {
		s.c.members[ch.ID] = append(s.c.members[ch.ID], &models.Membership{
			ChatID:   ch.ID,
			UserID:   m.UserID,
			IsAdmin:  m.IsAdmin,
			JoinedAt: time.Now(),
		})
	}

	out := *ch
	return &out, nil
}

func (s *ChatStore) GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	ch, ok := s.c.chats[chatID]
	if !ok {
		return nil, nil
	}
	out := *ch
	return &out, nil
}

func (s *ChatStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	chats := make([]models.Chat, 0)
	for i := len(s.c.chatOrder) - 1; i >= 0; i-- {
		chatID := s.c.chatOrder[i]
		for _, m := range s.c.members[chatID] {
			if m.UserID == userID {
				chats = append(chats, *s.c.chats[chatID])
				break
			}
		}
	}
	return chats, nil
}

func (s *ChatStore) UpdateTitle(ctx context.Context, chatID uuid.UUID, title *string) (*models.Chat, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	ch, ok := s.c.chats[chatID]
	if !ok {
		return nil, nil
	}
	ch.Title = title
	out := *ch
	return &out, nil
}

func (s *ChatStore) FindPrivateBetween(ctx context.Context, a, b uuid.UUID) (*models.Chat, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	for _, chatID := range s.c.chatOrder {
		ch := s.c.chats[chatID]
		if ch.IsGroup {
			continue
		}
		var hasA, hasB bool
		for _, m := range s.c.members[ch.ID] {
			hasA = hasA || m.UserID == a
			hasB = hasB || m.UserID == b
		}
		if hasA && hasB {
			out := *ch
			return &out, nil
		}
	}
	return nil, nil
}

// ----- memberships -----

type MembershipStore struct{ c *core }

func (s *MembershipStore) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.findMember(chatID, userID) != nil, nil
}

func (s *MembershipStore) IsAdmin(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	m := s.c.findMember(chatID, userID)
	return m != nil && m.IsAdmin, nil
}

func (s *MembershipStore) AddMember(ctx context.Context, chatID, userID uuid.UUID, asAdmin bool) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.findMember(chatID, userID) != nil {
		return apperr.New(apperr.Conflict, "user is already a member")
	}
	s.c.members[chatID] = append(s.c.members[chatID], &models.Membership{
		ChatID:   chatID,
		UserID:   userID,
		IsAdmin:  asAdmin,
		JoinedAt: time.Now(),
	})
	return nil
}

func (s *MembershipStore) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	members := s.c.members[chatID]
	for i, m := range members {
		if m.UserID == userID {
			s.c.members[chatID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return apperr.New(apperr.NotFound, "member not found in chat")
}

func (s *MembershipStore) ListMembers(ctx context.Context, chatID uuid.UUID) ([]models.Membership, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	members := make([]models.Membership, 0, len(s.c.members[chatID]))
	for _, m := range s.c.members[chatID] {
		members = append(members, *m)
	}
	return members, nil
}

func (s *MembershipStore) MemberIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.c.members[chatID]))
	for _, m := range s.c.members[chatID] {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (c *core) findMember(chatID, userID uuid.UUID) *models.Membership {
	for _, m := range c.members[chatID] {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// ----- messages -----

type MessageStore struct{ c *core }

func (s *MessageStore) Append(ctx context.Context, chatID, senderID uuid.UUID, msgType models.MessageType, text *string, repliedToID *int64, memberIDs []uuid.UUID) (*models.Message, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.nextMessageID++
	msg := &models.Message{
		ID:          s.c.nextMessageID,
		ChatID:      chatID,
		SenderID:    senderID,
		Type:        msgType,
		Text:        text,
		RepliedToID: repliedToID,
		CreatedAt:   time.Now(),
	}
	s.c.messages[msg.ID] = msg
	s.c.byChat[chatID] = append(s.c.byChat[chatID], msg.ID)

	for _, memberID := range memberIDs {
		status := models.StatusSent
		if memberID == senderID {
			status = models.StatusRead
		}
		s.c.appendStatus(msg.ID, memberID, status)
	}

	out := *msg
	return &out, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	msg, ok := s.c.messages[messageID]
	if !ok {
		return nil, nil
	}
	out := *msg
	return &out, nil
}

func (s *MessageStore) ListByChat(ctx context.Context, chatID uuid.UUID, page, limit int) ([]models.Message, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	ids := s.c.byChat[chatID]
	offset := (page - 1) * limit

	// newest first: walk the append order backwards
	messages := make([]models.Message, 0, limit)
	for i := len(ids) - 1 - offset; i >= 0 && len(messages) < limit; i-- {
		messages = append(messages, *s.c.messages[ids[i]])
	}
	return messages, nil
}

func (s *MessageStore) LatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	ids := s.c.byChat[chatID]
	if len(ids) == 0 {
		return nil, nil
	}
	out := *s.c.messages[ids[len(ids)-1]]
	return &out, nil
}

// ----- status ledger -----

type StatusStore struct{ c *core }

func (s *StatusStore) Append(ctx context.Context, messageID int64, userID uuid.UUID, status models.Status) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.appendStatus(messageID, userID, status)
	return nil
}

// appendStatus writes to the audit log and bumps the latest index. Event
// ids only grow, so the newest write always wins the index slot. Caller
// holds the write lock.
func (c *core) appendStatus(messageID int64, userID uuid.UUID, status models.Status) {
	c.nextEventID++
	ev := models.StatusEvent{
		ID:        c.nextEventID,
		MessageID: messageID,
		UserID:    userID,
		Status:    status,
		CreatedAt: time.Now(),
	}
	c.statusLog = append(c.statusLog, ev)

	if c.latest[messageID] == nil {
		c.latest[messageID] = make(map[uuid.UUID]*models.StatusEvent)
	}
	latest := ev
	c.latest[messageID][userID] = &latest
}

func (s *StatusStore) Effective(ctx context.Context, messageID int64, userID uuid.UUID) (*models.StatusEvent, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	ev, ok := s.c.latest[messageID][userID]
	if !ok {
		return nil, nil
	}
	out := *ev
	return &out, nil
}

func (s *StatusStore) LatestForMessage(ctx context.Context, messageID int64) ([]models.StatusEvent, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	events := make([]models.StatusEvent, 0, len(s.c.latest[messageID]))
	for _, ev := range s.c.latest[messageID] {
		if ev.Status == models.StatusDeleteEveryone {
			continue
		}
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return bytes.Compare(events[i].UserID[:], events[j].UserID[:]) < 0
	})
	return events, nil
}

// EventLog returns a copy of the full audit trail. Test-only accessor.
func (s *StatusStore) EventLog() []models.StatusEvent {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	out := make([]models.StatusEvent, len(s.c.statusLog))
	copy(out, s.c.statusLog)
	return out
}
