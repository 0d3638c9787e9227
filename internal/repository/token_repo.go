package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"milestone-tracker/internal/model"
)

type TokenRepository struct {
	db *pgxpool.Pool
}

func NewTokenRepository(db *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Save(ctx context.Context, t *model.RefreshToken) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO tokens (user_id, refresh_token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, t.UserID, t.Token, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Find returns nil when the token is unknown.
func (r *TokenRepository) Find(ctx context.Context, token string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, refresh_token, expires_at, created_at
		FROM tokens WHERE refresh_token = $1
	`, token).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return &t, nil
}

func (r *TokenRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE refresh_token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpired 清理过期 token，返回删除条数
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
