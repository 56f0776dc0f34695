package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TokenRepository stores the push tokens each browser registers, keyed
// by token so re-registration is idempotent.
type TokenRepository struct {
	db DBTX
}

func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Upsert(ctx context.Context, userID, token, platform string) (*models.DeviceToken, error) {
	query := `
		INSERT INTO device_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token)
		DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = NOW()
		RETURNING id, user_id, token, platform, created_at, updated_at
	`

	var t models.DeviceToken
	err := r.db.QueryRow(ctx, query, userID, token, platform).Scan(
		&t.ID,
		&t.UserID,
		&t.Token,
		&t.Platform,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TokenRepository) ListForUser(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	query := `
		SELECT id, user_id, token, platform, created_at, updated_at
		FROM device_tokens
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.DeviceToken, 0)
	for rows.Next() {
		var t models.DeviceToken
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Token,
			&t.Platform,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *TokenRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	return err
}
