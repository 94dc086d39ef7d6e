package repo

import (
	"context"
	"fmt"
)

// UpsertUserByTelegram stores or updates the user profile based on Telegram ID.
func (r *Repository) UpsertUserByTelegram(ctx context.Context, telegramID int64, username *string) (*User, error) {
	const q = `
INSERT INTO users (telegram_id, username, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (telegram_id) DO UPDATE SET
    username = COALESCE(EXCLUDED.username, users.username),
    updated_at = NOW()
RETURNING id, telegram_id, username, email, created_at, updated_at;
`
	var u User
	row := r.pool.QueryRow(ctx, q, telegramID, username)
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

// SetUserEmail records the technical contact email collected during an order.
func (r *Repository) SetUserEmail(ctx context.Context, telegramID int64, email string) error {
	const q = `UPDATE users SET email = $2, updated_at = NOW() WHERE telegram_id = $1;`
	ct, err := r.pool.Exec(ctx, q, telegramID, email)
	if err != nil {
		return fmt.Errorf("set user email: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	return nil
}

// GetUserEmail returns the stored contact email for notifications, if any.
func (r *Repository) GetUserEmail(ctx context.Context, telegramID int64) (string, error) {
	const q = `SELECT COALESCE(email, '') FROM users WHERE telegram_id = $1;`
	var email string
	if err := r.pool.QueryRow(ctx, q, telegramID).Scan(&email); err != nil {
		return "", fmt.Errorf("get user email: %w", err)
	}
	return email, nil
}
