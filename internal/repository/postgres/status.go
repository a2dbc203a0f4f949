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

// StatusStore is the append-only status ledger. Rows are never updated or
// deleted; "latest per (message, user)" is resolved at query time through
// the (message_id, user_id, created_at DESC, id DESC) index.
type StatusStore struct {
	pool *pgxpool.Pool
}

func NewStatusStore(pool *pgxpool.Pool) *StatusStore {
	return &StatusStore{pool: pool}
}

func (s *StatusStore) Append(ctx context.Context, messageID int64, userID uuid.UUID, status models.Status) error {
	query := `
		INSERT INTO message_status (message_id, user_id, status, created_at)
		VALUES ($1, $2, $3, now())`

	if _, err := s.pool.Exec(ctx, query, messageID, userID, status); err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

// Effective returns the latest event for the pair. The id tiebreak makes
// "latest" deterministic when two events share a timestamp.
func (s *StatusStore) Effective(ctx context.Context, messageID int64, userID uuid.UUID) (*models.StatusEvent, error) {
	query := `
		SELECT id, message_id, user_id, status, created_at
		FROM message_status
		WHERE message_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var ev models.StatusEvent
	err := s.pool.QueryRow(ctx, query, messageID, userID).Scan(
		&ev.ID, &ev.MessageID, &ev.UserID, &ev.Status, &ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("effective status: %w", err)
	}
	return &ev, nil
}

// LatestForMessage resolves each user's latest event, then drops users
// whose latest is delete_everyone. The DISTINCT ON ordering must match
// Effective's, or the two views of "latest" could disagree.
func (s *StatusStore) LatestForMessage(ctx context.Context, messageID int64) ([]models.StatusEvent, error) {
	query := `
		SELECT id, message_id, user_id, status, created_at FROM (
			SELECT DISTINCT ON (user_id) id, message_id, user_id, status, created_at
			FROM message_status
			WHERE message_id = $1
			ORDER BY user_id, created_at DESC, id DESC
		) latest
		WHERE status <> 'delete_everyone'
		ORDER BY user_id`

	rows, err := s.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("latest statuses: %w", err)
	}
	defer rows.Close()

	events := make([]models.StatusEvent, 0)
	for rows.Next() {
		var ev models.StatusEvent
		if err := rows.Scan(&ev.ID, &ev.MessageID, &ev.UserID, &ev.Status, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return events, nil
}
