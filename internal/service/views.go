package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/models"
)

// Broadcaster is the outbound pub/sub port. Publishes are fire-and-forget
// from the services' perspective: a failed publish is logged and never
// fails or rolls back the data mutation it follows.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Event names emitted to chat channels.
const (
	EventMessageSent    = "MessageSent"
	EventMessageDeleted = "MessageDeleted"
)

// UserSummary identifies a user in payloads and views.
type UserSummary struct {
	ID   uuid.UUID `json:"user_id"`
	Name string    `json:"name"`
}

// MemberView is one chat member as seen by a particular requester.
type MemberView struct {
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	DisplayName *string   `json:"display_name,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	IsYou       bool      `json:"is_you"`
}

// ReplyPreview is the excerpt of a replied-to message attached to
// responses, enough for a client to render the quoted bubble.
type ReplyPreview struct {
	MessageID int64     `json:"message_id"`
	Text      *string   `json:"text,omitempty"`
	SenderID  uuid.UUID `json:"sender_id"`
}

// StatusView is one receipt entry: a user's effective status for a message.
type StatusView struct {
	UserID    uuid.UUID     `json:"user_id"`
	Status    models.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MessageView is a message as returned to a requester: the row itself plus
// sender summary, the requester-relative is_you flag and, on listings, the
// per-member receipt statuses.
type MessageView struct {
	ID             int64              `json:"message_id"`
	ChatID         uuid.UUID          `json:"chat_id"`
	SenderID       uuid.UUID          `json:"sender_id"`
	Type           models.MessageType `json:"message_type"`
	Text           *string            `json:"text,omitempty"`
	RepliedToID    *int64             `json:"replied_to_message_id,omitempty"`
	RepliedTo      *ReplyPreview      `json:"replied_to,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	IsYou          bool               `json:"is_you"`
	Sender         UserSummary        `json:"sender"`
	LatestStatuses []StatusView       `json:"latest_statuses,omitempty"`
}

// ChatView is a chat with its members and, on listings, the latest message.
// ChatName is only populated by Get: the other members' display-name-or-name,
// joined.
type ChatView struct {
	ID            uuid.UUID    `json:"chat_id"`
	IsGroup       bool         `json:"is_group"`
	Title         *string      `json:"title,omitempty"`
	ChatName      string       `json:"chat_name,omitempty"`
	CreatorID     uuid.UUID    `json:"creator_id"`
	CreatedAt     time.Time    `json:"created_at"`
	Members       []MemberView `json:"members"`
	LatestMessage *MessageView `json:"latest_message,omitempty"`
}
