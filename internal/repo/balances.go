package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds indicates a debit larger than the user's balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// GetBalance returns the user's USD wallet balance. An unknown user has a
// zero balance.
func (r *Repository) GetBalance(ctx context.Context, telegramID int64) (decimal.Decimal, error) {
	const q = `SELECT balance_usd FROM users WHERE telegram_id = $1;`
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, q, telegramID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// CreditBalance adds to the user's balance and returns the new balance.
func (r *Repository) CreditBalance(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const q = `
UPDATE users SET balance_usd = balance_usd + $2, updated_at = NOW()
WHERE telegram_id = $1
RETURNING balance_usd;
`
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, q, telegramID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// DebitBalance deducts from the user's balance and returns the remainder. The
// funds check and the deduction are one statement, so concurrent debits cannot
// overdraw.
func (r *Repository) DebitBalance(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const q = `
UPDATE users SET balance_usd = balance_usd - $2, updated_at = NOW()
WHERE telegram_id = $1 AND balance_usd >= $2
RETURNING balance_usd;
`
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, q, telegramID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("debit $%s for user %d: %w", amount.StringFixed(2), telegramID, ErrInsufficientFunds)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit balance: %w", err)
	}
	return balance, nil
}
