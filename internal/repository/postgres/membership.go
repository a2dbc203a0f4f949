package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/overcastly/parley/internal/apperr"
	"github.com/overcastly/parley/internal/models"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_members
			WHERE chat_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, chatID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *MembershipStore) IsAdmin(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_members
			WHERE chat_id = $1 AND user_id = $2 AND is_admin
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, chatID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return exists, nil
}

func (s *MembershipStore) AddMember(ctx context.Context, chatID, userID uuid.UUID, asAdmin bool) error {
	query := `
		INSERT INTO chat_members (chat_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, $3, now())`

	_, err := s.pool.Exec(ctx, query, chatID, userID, asAdmin)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperr.New(apperr.Conflict, "user is already a member")
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *MembershipStore) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	query := `
		DELETE FROM chat_members
		WHERE chat_id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, query, chatID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "member not found in chat")
	}
	return nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, chatID uuid.UUID) ([]models.Membership, error) {
	query := `
		SELECT chat_id, user_id, is_admin, joined_at
		FROM chat_members
		WHERE chat_id = $1
		ORDER BY joined_at, user_id`

	rows, err := s.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]models.Membership, 0)
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *MembershipStore) MemberIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY joined_at, user_id`

	rows, err := s.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member ids: %w", err)
	}
	return ids, nil
}
