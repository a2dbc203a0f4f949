// Package repository defines the storage ports the services are built
// against. Two implementations exist: postgres (production) and memory
// (tests). Handlers and services only ever see these interfaces.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/models"
)

// NewMember describes one membership row to create alongside a chat.
type NewMember struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// UserRepository is the identity store.
type UserRepository interface {
	// Create inserts a user. Fails with a Conflict error if the email is
	// already registered.
	Create(ctx context.Context, name string, displayName *string, email, passwordHash string) (*models.User, error)

	// GetByID returns a user, or nil, nil if absent.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail returns a user, or nil, nil if absent.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByIDs returns the users for the given ids, unordered. Missing ids
	// are silently skipped.
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]models.User, error)

	// List returns every user, newest first.
	List(ctx context.Context) ([]models.User, error)

	// Update overwrites the mutable profile fields of u (name, display
	// name, email, password hash) keyed by u.ID.
	Update(ctx context.Context, u *models.User) error
}

// ChatRepository persists chats. Chats are never hard-deleted.
type ChatRepository interface {
	// CreateWithMembers inserts the chat and all membership rows in one
	// transaction; on any failure nothing is visible.
	CreateWithMembers(ctx context.Context, isGroup bool, title *string, creatorID uuid.UUID, members []NewMember) (*models.Chat, error)

	// GetByID returns a chat, or nil, nil if absent.
	GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error)

	// ListByUser returns every chat the user is a member of, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)

	// UpdateTitle sets the chat's title and returns the updated chat.
	UpdateTitle(ctx context.Context, chatID uuid.UUID, title *string) (*models.Chat, error)

	// FindPrivateBetween returns an existing private chat whose member set
	// is exactly {a, b}, or nil, nil. This is the cooperative duplicate
	// check — it is not race-proof and is not meant to be.
	FindPrivateBetween(ctx context.Context, a, b uuid.UUID) (*models.Chat, error)
}

// MembershipRepository is the membership ledger.
type MembershipRepository interface {
	// IsMember reports whether the user currently belongs to the chat.
	// Hot-path check: runs before every send, list and subscribe.
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)

	// IsAdmin reports whether the user holds the admin flag. Always false
	// for absent memberships; callers ignore it for private chats.
	IsAdmin(ctx context.Context, chatID, userID uuid.UUID) (bool, error)

	// AddMember inserts a membership. Fails with a Conflict error if the
	// user is already a member.
	AddMember(ctx context.Context, chatID, userID uuid.UUID, asAdmin bool) error

	// RemoveMember deletes a membership. Fails with a NotFound error if
	// the user is not a member.
	RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error

	// ListMembers returns the chat's membership rows ordered by join time.
	ListMembers(ctx context.Context, chatID uuid.UUID) ([]models.Membership, error)

	// MemberIDs returns just the member user ids.
	MemberIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
}

// MessageRepository is the append-only message log.
type MessageRepository interface {
	// Append inserts the message and its initial status rows — read for
	// the sender, sent for every other member — in one transaction.
	Append(ctx context.Context, chatID, senderID uuid.UUID, msgType models.MessageType, text *string, repliedToID *int64, memberIDs []uuid.UUID) (*models.Message, error)

	// GetByID returns a message, or nil, nil if absent. Also serves
	// reply-to validation, which is existence-only: the target may live
	// in another chat.
	GetByID(ctx context.Context, messageID int64) (*models.Message, error)

	// ListByChat returns one page of messages, newest first, with
	// offset = (page-1)*limit.
	ListByChat(ctx context.Context, chatID uuid.UUID, page, limit int) ([]models.Message, error)

	// LatestByChat returns the chat's most recent message, or nil, nil.
	LatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Message, error)
}

// StatusRepository is the append-only status ledger. Transition rules
// (monotonic reads, terminal deletes) live in the message service; the
// ledger only appends and resolves "latest per pair".
type StatusRepository interface {
	// Append writes one status event for the pair.
	Append(ctx context.Context, messageID int64, userID uuid.UUID, status models.Status) error

	// Effective returns the latest event for the pair, or nil, nil when no
	// event exists. Latest means greatest (created_at, id).
	Effective(ctx context.Context, messageID int64, userID uuid.UUID) (*models.StatusEvent, error)

	// LatestForMessage returns each user's latest event for the message,
	// excluding users whose latest event is delete_everyone, ordered by
	// user id.
	LatestForMessage(ctx context.Context, messageID int64) ([]models.StatusEvent, error)
}
