package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/overcastly/parley/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = "message_id, chat_id, sender_id, message_type, text, replied_to_message_id, created_at"

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Type, &msg.Text, &msg.RepliedToID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Append inserts the message and one initial status row per member in a
// single transaction: read for the sender, sent for everyone else. Either
// all rows land or none do.
func (s *MessageStore) Append(ctx context.Context, chatID, senderID uuid.UUID, msgType models.MessageType, text *string, repliedToID *int64, memberIDs []uuid.UUID) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.Background())

	query := `
		INSERT INTO messages (chat_id, sender_id, message_type, text, replied_to_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ` + messageColumns

	msg, err := scanMessage(tx.QueryRow(ctx, query, chatID, senderID, msgType, text, repliedToID))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	statusQuery := `
		INSERT INTO message_status (message_id, user_id, status, created_at)
		VALUES ($1, $2, $3, now())`

	for _, memberID := range memberIDs {
		status := models.StatusSent
		if memberID == senderID {
			status = models.StatusRead
		}
		if _, err := tx.Exec(ctx, statusQuery, msg.ID, memberID, status); err != nil {
			return nil, fmt.Errorf("insert initial status: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit message append: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE message_id = $1`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) ListByChat(ctx context.Context, chatID uuid.UUID, page, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, message_id DESC
		LIMIT $2 OFFSET $3`

	offset := (page - 1) * limit
	rows, err := s.pool.Query(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Type, &msg.Text, &msg.RepliedToID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *MessageStore) LatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, message_id DESC
		LIMIT 1`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return msg, nil
}
