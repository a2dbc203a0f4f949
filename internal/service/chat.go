package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/apperr"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/repository"
	"go.uber.org/zap"
)

// defaultGroupTitle is used when a private chat without a title is
// promoted to a group chat.
const defaultGroupTitle = "Group Chat"

// ChatService orchestrates the membership ledger and the message log for
// the chat use cases: list, create, show, update, add/remove member, and
// the private→group promotion.
type ChatService struct {
	chats       repository.ChatRepository
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	users       repository.UserRepository
	logger      *zap.Logger
}

func NewChatService(
	chats repository.ChatRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		chats:       chats,
		memberships: memberships,
		messages:    messages,
		users:       users,
		logger:      logger,
	}
}

// List returns every chat the user belongs to, each with its member list
// and latest message summary.
func (s *ChatService) List(ctx context.Context, userID uuid.UUID) ([]ChatView, error) {
	chats, err := s.chats.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list chats", err)
	}

	views := make([]ChatView, 0, len(chats))
	for _, ch := range chats {
		view, err := s.chatView(ctx, &ch, userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to list chats", err)
		}

		latest, err := s.messages.LatestByChat(ctx, ch.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to list chats", err)
		}
		if latest != nil {
			sender, err := s.users.GetByID(ctx, latest.SenderID)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "failed to list chats", err)
			}
			latestView := newMessageView(latest, sender, userID)
			view.LatestMessage = &latestView
		}

		views = append(views, *view)
	}
	return views, nil
}

// Create makes a new chat. The creator is always included and the member
// list deduplicated before the cardinality rules apply: private chats
// need exactly 2 members and must not duplicate an existing pair. A
// private chat's title is derived from the other member's name; the
// creator is admin of a new group chat.
func (s *ChatService) Create(ctx context.Context, creatorID uuid.UUID, isGroup bool, title *string, memberIDs []uuid.UUID) (*ChatView, error) {
	ids := dedupe(append([]uuid.UUID{creatorID}, memberIDs...))

	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create chat", err)
	}
	if len(users) != len(ids) {
		return nil, apperr.New(apperr.InvalidArgument, "one or more members do not exist")
	}

	if !isGroup {
		if len(ids) != 2 {
			return nil, apperr.New(apperr.InvalidArgument, "private chat must have exactly 2 members")
		}

		// Cooperative duplicate check; see the concurrency notes in the
		// migration file for the race it leaves open.
		existing, err := s.chats.FindPrivateBetween(ctx, ids[0], ids[1])
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to create chat", err)
		}
		if existing != nil {
			return nil, apperr.New(apperr.Conflict, "private chat already exists between these users")
		}

		// A private chat is titled after the other member.
		for _, u := range users {
			if u.ID != creatorID {
				name := u.Name
				title = &name
			}
		}
	}

	members := make([]repository.NewMember, 0, len(ids))
	for _, id := range ids {
		members = append(members, repository.NewMember{
			UserID:  id,
			IsAdmin: isGroup && id == creatorID,
		})
	}

	ch, err := s.chats.CreateWithMembers(ctx, isGroup, title, creatorID, members)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create chat", err)
	}

	view, err := s.chatView(ctx, ch, creatorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create chat", err)
	}
	return view, nil
}

// Get returns a chat with members and a derived display name. Non-members
// get the same NotFound as an absent chat so existence never leaks.
func (s *ChatService) Get(ctx context.Context, requesterID, chatID uuid.UUID) (*ChatView, error) {
	ch, member, err := s.chatForMember(ctx, chatID, requesterID)
	if err != nil {
		return nil, err
	}
	if ch == nil || !member {
		return nil, apperr.New(apperr.NotFound, "chat not found or access denied")
	}

	view, err := s.chatView(ctx, ch, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to get chat", err)
	}

	names := make([]string, 0, len(view.Members))
	for _, m := range view.Members {
		if m.UserID == requesterID {
			continue
		}
		if m.DisplayName != nil && *m.DisplayName != "" {
			names = append(names, *m.DisplayName)
		} else {
			names = append(names, m.Name)
		}
	}
	view.ChatName = strings.Join(names, ", ")

	return view, nil
}

// AddMember adds a user to a chat. On a group chat the requester must be
// an admin. On a private chat this is the promotion path: a brand-new
// group chat is created with the 3 members and the adder as admin, and
// the original private chat is left untouched.
func (s *ChatService) AddMember(ctx context.Context, requesterID, chatID, newMemberID uuid.UUID) (*ChatView, error) {
	ch, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	if ch == nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}

	newUser, err := s.users.GetByID(ctx, newMemberID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	if newUser == nil {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}

	member, err := s.memberships.IsMember(ctx, chatID, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	if !member {
		return nil, apperr.New(apperr.Forbidden, "you are not a member of this chat")
	}

	already, err := s.memberships.IsMember(ctx, chatID, newMemberID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	if already {
		return nil, apperr.New(apperr.Conflict, "user is already a member")
	}

	if !ch.IsGroup {
		return s.promoteToGroup(ctx, ch, requesterID, newMemberID)
	}

	admin, err := s.memberships.IsAdmin(ctx, chatID, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	if !admin {
		return nil, apperr.New(apperr.Forbidden, "only admins can add members to group chats")
	}

	if err := s.memberships.AddMember(ctx, chatID, newMemberID, false); err != nil {
		return nil, orInternal(err, "failed to add member")
	}

	view, err := s.chatView(ctx, ch, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	return view, nil
}

// promoteToGroup creates the replacement group chat for a private chat
// gaining a third member. The member-count check cannot fail when called
// on a 2-member private chat with one new user; it guards the invariant
// anyway.
func (s *ChatService) promoteToGroup(ctx context.Context, ch *models.Chat, adderID, newMemberID uuid.UUID) (*ChatView, error) {
	currentIDs, err := s.memberships.MemberIDs(ctx, ch.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	ids := dedupe(append(currentIDs, newMemberID))
	if len(ids) != 3 {
		return nil, apperr.New(apperr.InvalidArgument, "cannot add more than one member to a private chat at once")
	}

	title := defaultGroupTitle
	if ch.Title != nil && *ch.Title != "" {
		title = *ch.Title
	}

	members := make([]repository.NewMember, 0, len(ids))
	for _, id := range ids {
		members = append(members, repository.NewMember{
			UserID:  id,
			IsAdmin: id == adderID,
		})
	}

	newChat, err := s.chats.CreateWithMembers(ctx, true, &title, adderID, members)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}

	s.logger.Info("promoted private chat to group",
		zap.String("old_chat_id", ch.ID.String()),
		zap.String("new_chat_id", newChat.ID.String()),
	)

	view, err := s.chatView(ctx, newChat, adderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to add member", err)
	}
	return view, nil
}

// RemoveMember removes a user from a group chat. The requester must be an
// admin, or be leaving themself. Private chats have no removal path.
func (s *ChatService) RemoveMember(ctx context.Context, requesterID, chatID, memberID uuid.UUID) error {
	ch, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to remove member", err)
	}
	if ch == nil || !ch.IsGroup {
		return apperr.New(apperr.NotFound, "group chat not found")
	}

	admin, err := s.memberships.IsAdmin(ctx, chatID, requesterID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to remove member", err)
	}
	if !admin && requesterID != memberID {
		return apperr.New(apperr.Forbidden, "only admins can remove members or users can leave themselves")
	}

	if err := s.memberships.RemoveMember(ctx, chatID, memberID); err != nil {
		return orInternal(err, "failed to remove member")
	}
	return nil
}

// Update changes the chat title. Group chats require an admin; private
// chats let either member update (is_admin means nothing there). An
// omitted title leaves the stored title untouched.
func (s *ChatService) Update(ctx context.Context, requesterID, chatID uuid.UUID, title *string) (*ChatView, error) {
	ch, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to update chat", err)
	}
	if ch == nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}

	if ch.IsGroup {
		admin, err := s.memberships.IsAdmin(ctx, chatID, requesterID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to update chat", err)
		}
		if !admin {
			return nil, apperr.New(apperr.Forbidden, "only admins can update group chat")
		}
	} else {
		member, err := s.memberships.IsMember(ctx, chatID, requesterID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to update chat", err)
		}
		if !member {
			return nil, apperr.New(apperr.Forbidden, "you are not a member of this chat")
		}
	}

	if title != nil {
		updated, err := s.chats.UpdateTitle(ctx, chatID, title)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to update chat", err)
		}
		if updated == nil {
			return nil, apperr.New(apperr.NotFound, "chat not found")
		}
		ch = updated
	}

	view, err := s.chatView(ctx, ch, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to update chat", err)
	}
	return view, nil
}

// Presence is the broadcast subscription authorization callback: members
// get their presence payload, everyone else is denied.
func (s *ChatService) Presence(ctx context.Context, requesterID, chatID uuid.UUID) (*UserSummary, error) {
	member, err := s.memberships.IsMember(ctx, chatID, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to authorize subscription", err)
	}
	if !member {
		return nil, apperr.New(apperr.Forbidden, "you are not a member of this chat")
	}

	u, err := s.users.GetByID(ctx, requesterID)
	if err != nil || u == nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to authorize subscription", err)
	}
	return &UserSummary{ID: u.ID, Name: u.Name}, nil
}

func (s *ChatService) chatView(ctx context.Context, ch *models.Chat, requesterID uuid.UUID) (*ChatView, error) {
	members, err := s.memberships.ListMembers(ctx, ch.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	memberViews := make([]MemberView, 0, len(members))
	for _, m := range members {
		mv := MemberView{
			UserID:  m.UserID,
			IsAdmin: m.IsAdmin,
			IsYou:   m.UserID == requesterID,
		}
		if u := byID[m.UserID]; u != nil {
			mv.Name = u.Name
			mv.DisplayName = u.DisplayName
		}
		memberViews = append(memberViews, mv)
	}

	return &ChatView{
		ID:        ch.ID,
		IsGroup:   ch.IsGroup,
		Title:     ch.Title,
		CreatorID: ch.CreatorID,
		CreatedAt: ch.CreatedAt,
		Members:   memberViews,
	}, nil
}

// chatForMember loads a chat and the requester's membership in one step,
// for call sites that mask non-membership as absence.
func (s *ChatService) chatForMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, bool, error) {
	ch, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "failed to get chat", err)
	}
	if ch == nil {
		return nil, false, nil
	}
	member, err := s.memberships.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "failed to get chat", err)
	}
	return ch, member, nil
}

// orInternal passes through errors that already carry a kind and wraps
// everything else as Internal.
func orInternal(err error, msg string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.Internal, msg, err)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
