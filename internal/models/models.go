package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the fixed set of message payload kinds. Non-text bodies
// are carried opaquely in Text (a URL, coordinates, etc.) — the server
// never interprets them.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeLocation:
		return true
	}
	return false
}

// Status is a per-(message, user) delivery state. The status table is
// append-only; the row with the latest (created_at, id) for a pair is the
// effective status.
type Status string

const (
	StatusSent           Status = "sent"
	StatusDelivered      Status = "delivered"
	StatusRead           Status = "read"
	StatusDeleted        Status = "deleted"
	StatusDeleteEveryone Status = "delete_everyone"
)

// Terminal reports whether no further status transitions are permitted
// for the pair.
func (s Status) Terminal() bool {
	return s == StatusDeleted || s == StatusDeleteEveryone
}

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           uuid.UUID `json:"user_id"`
	Name         string    `json:"name"`
	DisplayName  *string   `json:"display_name,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is a conversation. IsGroup is fixed once creation resolves it:
// promoting a private chat to a group creates a NEW chat, it never flips
// this flag on an existing row.
type Chat struct {
	ID        uuid.UUID `json:"chat_id"`
	IsGroup   bool      `json:"is_group"`
	Title     *string   `json:"title,omitempty"`
	CreatorID uuid.UUID `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is the (chat, user) edge. IsAdmin only means anything for
// group chats; authorization checks ignore it on private chats.
type Membership struct {
	ChatID   uuid.UUID `json:"chat_id"`
	UserID   uuid.UUID `json:"user_id"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

// Message is one entry in a chat's append-only log. Messages are never
// edited or physically removed; deletion lives entirely in status events.
//
// IDs are bigserial: strictly increasing, so id order is append order.
type Message struct {
	ID          int64       `json:"message_id"`
	ChatID      uuid.UUID   `json:"chat_id"`
	SenderID    uuid.UUID   `json:"sender_id"`
	Type        MessageType `json:"message_type"`
	Text        *string     `json:"text,omitempty"`
	RepliedToID *int64      `json:"replied_to_message_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// StatusEvent is one append-only row in the status ledger.
type StatusEvent struct {
	ID        int64     `json:"-"`
	MessageID int64     `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
