package repo

import (
	"context"
	"fmt"
	"time"
)

// UpsertWatch stores or replaces the payment watch for an order. At most one
// watch per order — switching currency replaces the previous expectation.
func (r *Repository) UpsertWatch(ctx context.Context, watch PaymentWatch) error {
	if watch.Purpose == "" {
		watch.Purpose = WatchPurposeOrder
	}
	const q = `
INSERT INTO payment_watches (order_id, user_id, purpose, address, currency, expected_amount, amount_usd, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (order_id) DO UPDATE SET
    purpose = EXCLUDED.purpose,
    address = EXCLUDED.address,
    currency = EXCLUDED.currency,
    expected_amount = EXCLUDED.expected_amount,
    amount_usd = EXCLUDED.amount_usd,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at;
`
	_, err := r.pool.Exec(ctx, q,
		watch.OrderID,
		watch.UserID,
		watch.Purpose,
		watch.Address,
		watch.Currency,
		watch.ExpectedAmount,
		watch.AmountUSD,
		watch.CreatedAt,
		watch.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert watch: %w", err)
	}
	return nil
}

// DeleteWatch removes the watch for an order. Idempotent.
func (r *Repository) DeleteWatch(ctx context.Context, orderID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM payment_watches WHERE order_id = $1;`, orderID); err != nil {
		return fmt.Errorf("delete watch: %w", err)
	}
	return nil
}

// ListActiveWatches returns all watches that have not yet expired.
func (r *Repository) ListActiveWatches(ctx context.Context, now time.Time) ([]PaymentWatch, error) {
	const q = `
SELECT order_id, user_id, purpose, address, currency, expected_amount, amount_usd, created_at, expires_at
FROM payment_watches
WHERE expires_at > $1;
`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list active watches: %w", err)
	}
	defer rows.Close()

	var watches []PaymentWatch
	for rows.Next() {
		var w PaymentWatch
		if err := rows.Scan(&w.OrderID, &w.UserID, &w.Purpose, &w.Address, &w.Currency, &w.ExpectedAmount, &w.AmountUSD, &w.CreatedAt, &w.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watches: %w", err)
	}
	return watches, nil
}
