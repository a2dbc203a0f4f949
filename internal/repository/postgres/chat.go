package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/repository"
)

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

const chatColumns = "chat_id, is_group, title, creator_id, created_at"

func scanChat(row pgx.Row) (*models.Chat, error) {
	var ch models.Chat
	err := row.Scan(&ch.ID, &ch.IsGroup, &ch.Title, &ch.CreatorID, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateWithMembers inserts the chat and its membership rows in one
// transaction so a half-created chat is never observable.
func (s *ChatStore) CreateWithMembers(ctx context.Context, isGroup bool, title *string, creatorID uuid.UUID, members []repository.NewMember) (*models.Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.Background())

	query := `
		INSERT INTO chats (chat_id, is_group, title, creator_id, created_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, now())
		RETURNING ` + chatColumns

	ch, err := scanChat(tx.QueryRow(ctx, query, isGroup, title, creatorID))
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	memberQuery := `
		INSERT INTO chat_members (chat_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, $3, now())`

	for _, m := range members {
		if _, err := tx.Exec(ctx, memberQuery, ch.ID, m.UserID, m.IsAdmin); err != nil {
			return nil, fmt.Errorf("insert membership: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chat creation: %w", err)
	}
	return ch, nil
}

func (s *ChatStore) GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE chat_id = $1`

	ch, err := scanChat(s.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return ch, nil
}

func (s *ChatStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	query := `
		SELECT c.chat_id, c.is_group, c.title, c.creator_id, c.created_at
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.chat_id
		WHERE m.user_id = $1
		ORDER BY c.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var ch models.Chat
		if err := rows.Scan(&ch.ID, &ch.IsGroup, &ch.Title, &ch.CreatorID, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

func (s *ChatStore) UpdateTitle(ctx context.Context, chatID uuid.UUID, title *string) (*models.Chat, error) {
	query := `
		UPDATE chats SET title = $2
		WHERE chat_id = $1
		RETURNING ` + chatColumns

	ch, err := scanChat(s.pool.QueryRow(ctx, query, chatID, title))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update chat title: %w", err)
	}
	return ch, nil
}

// FindPrivateBetween looks for a private chat both users belong to. With
// the 2-member invariant on private chats, "both are members" is the same
// as "the member set is exactly {a, b}".
func (s *ChatStore) FindPrivateBetween(ctx context.Context, a, b uuid.UUID) (*models.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats c
		WHERE c.is_group = false
		  AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id = c.chat_id AND user_id = $1)
		  AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id = c.chat_id AND user_id = $2)
		LIMIT 1`

	ch, err := scanChat(s.pool.QueryRow(ctx, query, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find private chat: %w", err)
	}
	return ch, nil
}
