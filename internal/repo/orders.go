package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

const orderColumns = `
id, user_id, domain, step, dns_mode, nameservers, email, payment_method,
crypto_currency, base_price, price, price_frozen, registration_id, zone_id,
created_at, expires_at, updated_at`

// InsertOrder creates a new order record.
func (r *Repository) InsertOrder(ctx context.Context, order *Order) error {
	const q = `
INSERT INTO orders (id, user_id, domain, step, base_price, price, price_frozen, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at;
`
	err := r.pool.QueryRow(ctx, q,
		order.ID,
		order.UserID,
		order.Domain,
		order.Step,
		order.BasePrice,
		order.Price,
		order.PriceFrozen,
		order.ExpiresAt,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder fetches one order by id.
func (r *Repository) GetOrder(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1;`
	order, err := scanOrder(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// FindActiveOrder returns the open, unexpired order for a user+domain pair, if any.
func (r *Repository) FindActiveOrder(ctx context.Context, userID int64, domain string) (*Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE user_id = $1 AND domain = $2
  AND step NOT IN ('completed', 'cancelled', 'expired')
  AND expires_at > NOW()
ORDER BY created_at DESC
LIMIT 1;`
	order, err := scanOrder(r.pool.QueryRow(ctx, q, userID, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active order: %w", err)
	}
	return order, nil
}

// UpdateOrder persists the mutable fields of an order.
func (r *Repository) UpdateOrder(ctx context.Context, order *Order) error {
	const q = `
UPDATE orders
SET step = $2, dns_mode = $3, nameservers = $4, email = $5, payment_method = $6,
    crypto_currency = $7, price = $8, price_frozen = $9, registration_id = $10,
    zone_id = $11, updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q,
		order.ID,
		order.Step,
		order.DNSMode,
		order.Nameservers,
		order.Email,
		order.PaymentMethod,
		order.Crypto,
		order.Price,
		order.PriceFrozen,
		order.RegistrationID,
		order.ZoneID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}
	return nil
}

// ListStaleOrders returns open orders whose expiry has passed.
func (r *Repository) ListStaleOrders(ctx context.Context, now time.Time) ([]Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE step NOT IN ('completed', 'cancelled', 'expired')
  AND expires_at <= $1;`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Domain,
		&o.Step,
		&o.DNSMode,
		&o.Nameservers,
		&o.Email,
		&o.PaymentMethod,
		&o.Crypto,
		&o.BasePrice,
		&o.Price,
		&o.PriceFrozen,
		&o.RegistrationID,
		&o.ZoneID,
		&o.CreatedAt,
		&o.ExpiresAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
