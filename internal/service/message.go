package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/apperr"
	"github.com/overcastly/parley/internal/broadcast"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/repository"
	"go.uber.org/zap"
)

// MessageService orchestrates the message log, the status ledger and the
// membership ledger for the send/list/delete use cases, and emits chat
// channel notifications.
type MessageService struct {
	messages    repository.MessageRepository
	statuses    repository.StatusRepository
	memberships repository.MembershipRepository
	users       repository.UserRepository
	broadcaster Broadcaster
	logger      *zap.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	statuses repository.StatusRepository,
	memberships repository.MembershipRepository,
	users repository.UserRepository,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{
		messages:    messages,
		statuses:    statuses,
		memberships: memberships,
		users:       users,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// sentMessage is the MessageSent wire shape. It deliberately carries no
// requester-relative fields (is_you) and no chat id — the channel the
// envelope arrives on already scopes the chat.
type sentMessage struct {
	ID          int64              `json:"message_id"`
	SenderID    uuid.UUID          `json:"sender_id"`
	Text        *string            `json:"text"`
	Type        models.MessageType `json:"message_type"`
	RepliedToID *int64             `json:"replied_to_message_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Sender      UserSummary        `json:"sender"`
}

type messageSentPayload struct {
	Message sentMessage `json:"message"`
}

type messageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
}

// Send appends a message to the chat and initializes one status row per
// current member (read for the sender, sent for the rest) in the same
// transaction, then publishes MessageSent to the chat's channel.
func (s *MessageService) Send(ctx context.Context, senderID, chatID uuid.UUID, msgType models.MessageType, text *string, repliedToID *int64) (*MessageView, error) {
	if !msgType.Valid() {
		return nil, apperr.Newf(apperr.InvalidArgument, "invalid message type %q", msgType)
	}

	member, err := s.memberships.IsMember(ctx, chatID, senderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to send message", err)
	}
	if !member {
		return nil, apperr.New(apperr.Forbidden, "user is not a member of this chat")
	}

	// Reply-to validation is existence-only; the referenced message may
	// belong to another chat. The row doubles as the reply preview.
	var replyTo *ReplyPreview
	if repliedToID != nil {
		target, err := s.messages.GetByID(ctx, *repliedToID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to send message", err)
		}
		if target == nil {
			return nil, apperr.New(apperr.InvalidArgument, "replied-to message does not exist")
		}
		replyTo = &ReplyPreview{MessageID: target.ID, Text: target.Text, SenderID: target.SenderID}
	}

	memberIDs, err := s.memberships.MemberIDs(ctx, chatID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to send message", err)
	}

	msg, err := s.messages.Append(ctx, chatID, senderID, msgType, text, repliedToID, memberIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to send message", err)
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil || sender == nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to send message", err)
	}

	view := newMessageView(msg, sender, senderID)
	view.RepliedTo = replyTo

	payload := messageSentPayload{Message: sentMessage{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		Text:        msg.Text,
		Type:        msg.Type,
		RepliedToID: msg.RepliedToID,
		CreatedAt:   msg.CreatedAt,
		Sender:      view.Sender,
	}}

	// Fire-and-forget: the message is committed, a lost notification must
	// not undo it.
	channel := broadcast.ChatChannel(chatID)
	if err := s.broadcaster.Publish(ctx, channel, EventMessageSent, payload); err != nil {
		s.logger.Warn("failed to publish MessageSent",
			zap.String("channel", channel),
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}

	return &view, nil
}

// List returns one page of the chat's messages in chronological order,
// as visible to the requester: messages the requester deleted are
// excluded, and viewing lazily promotes sent/delivered statuses to read.
func (s *MessageService) List(ctx context.Context, requesterID, chatID uuid.UUID, page, limit int) ([]MessageView, error) {
	member, err := s.memberships.IsMember(ctx, chatID, requesterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
	}
	if !member {
		return nil, apperr.New(apperr.Forbidden, "user is not a member of this chat")
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	// The page window is fetched newest-first and reversed at the end.
	msgs, err := s.messages.ListByChat(ctx, chatID, page, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
	}

	visible := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		eff, err := s.statuses.Effective(ctx, msg.ID, requesterID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
		}
		if eff != nil && eff.Status.Terminal() {
			continue
		}
		// Implicit read receipt: viewing a sent/delivered message marks
		// it read. Already-read and terminal pairs are left alone.
		if eff == nil || eff.Status != models.StatusRead {
			if err := s.statuses.Append(ctx, msg.ID, requesterID, models.StatusRead); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
			}
		}
		visible = append(visible, msg)
	}

	senders, err := s.senderSummaries(ctx, visible)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
	}

	views := make([]MessageView, 0, len(visible))
	// reverse: storage order is newest first, callers get oldest first
	for i := len(visible) - 1; i >= 0; i-- {
		msg := visible[i]

		events, err := s.statuses.LatestForMessage(ctx, msg.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
		}
		statuses := make([]StatusView, 0, len(events))
		for _, ev := range events {
			statuses = append(statuses, StatusView{
				UserID:    ev.UserID,
				Status:    ev.Status,
				UpdatedAt: ev.CreatedAt,
			})
		}

		view := newMessageView(&msg, senders[msg.SenderID], requesterID)
		view.LatestStatuses = statuses

		if msg.RepliedToID != nil {
			target, err := s.messages.GetByID(ctx, *msg.RepliedToID)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "failed to list messages", err)
			}
			if target != nil {
				view.RepliedTo = &ReplyPreview{MessageID: target.ID, Text: target.Text, SenderID: target.SenderID}
			}
		}

		views = append(views, view)
	}

	return views, nil
}

// Delete applies the two-tier delete semantics. When forEveryone is set
// and the requester is the message's sender, every member whose pair is
// not already terminal gets a delete_everyone event. In every other case —
// including a non-sender asking for everyone-deletion, which is silently
// downgraded — only the requester's own pair is marked deleted.
func (s *MessageService) Delete(ctx context.Context, requesterID uuid.UUID, messageID int64, forEveryone bool) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete message", err)
	}
	if msg == nil {
		return apperr.New(apperr.NotFound, "message not found")
	}

	member, err := s.memberships.IsMember(ctx, msg.ChatID, requesterID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete message", err)
	}
	if !member {
		return apperr.New(apperr.Forbidden, "user is not a member of this chat")
	}

	if forEveryone && msg.SenderID == requesterID {
		memberIDs, err := s.memberships.MemberIDs(ctx, msg.ChatID)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "failed to delete message", err)
		}
		for _, memberID := range memberIDs {
			if err := s.appendUnlessTerminal(ctx, messageID, memberID, models.StatusDeleteEveryone); err != nil {
				return err
			}
		}
	} else {
		if err := s.appendUnlessTerminal(ctx, messageID, requesterID, models.StatusDeleted); err != nil {
			return err
		}
	}

	channel := broadcast.ChatChannel(msg.ChatID)
	if err := s.broadcaster.Publish(ctx, channel, EventMessageDeleted, messageDeletedPayload{MessageID: messageID}); err != nil {
		s.logger.Warn("failed to publish MessageDeleted",
			zap.String("channel", channel),
			zap.Int64("message_id", messageID),
			zap.Error(err),
		)
	}

	return nil
}

// appendUnlessTerminal is the idempotency guard on delete transitions:
// deleted and delete_everyone are absorbing, so a pair already in either
// state is left untouched.
func (s *MessageService) appendUnlessTerminal(ctx context.Context, messageID int64, userID uuid.UUID, status models.Status) error {
	eff, err := s.statuses.Effective(ctx, messageID, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete message", err)
	}
	if eff != nil && eff.Status.Terminal() {
		return nil
	}
	if err := s.statuses.Append(ctx, messageID, userID, status); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete message", err)
	}
	return nil
}

func (s *MessageService) senderSummaries(ctx context.Context, msgs []models.Message) (map[uuid.UUID]*models.User, error) {
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0)
	for _, msg := range msgs {
		if !seen[msg.SenderID] {
			seen[msg.SenderID] = true
			ids = append(ids, msg.SenderID)
		}
	}

	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}

	byID := make(map[uuid.UUID]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	return byID, nil
}

func newMessageView(msg *models.Message, sender *models.User, requesterID uuid.UUID) MessageView {
	view := MessageView{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		Type:        msg.Type,
		Text:        msg.Text,
		RepliedToID: msg.RepliedToID,
		CreatedAt:   msg.CreatedAt,
		IsYou:       msg.SenderID == requesterID,
	}
	if sender != nil {
		view.Sender = UserSummary{ID: sender.ID, Name: sender.Name}
	}
	return view
}
