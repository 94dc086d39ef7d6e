package repo

import (
	"context"
	"io/fs"
	"time"

	"github.com/shopspring/decimal"
)

// Store defines the interface for data persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUserByTelegram(ctx context.Context, telegramID int64, username *string) (*User, error)
	SetUserEmail(ctx context.Context, telegramID int64, email string) error
	GetUserEmail(ctx context.Context, telegramID int64) (string, error)

	// Wallet balances
	GetBalance(ctx context.Context, telegramID int64) (decimal.Decimal, error)
	CreditBalance(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error)
	DebitBalance(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error)

	// Orders
	InsertOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	FindActiveOrder(ctx context.Context, userID int64, domain string) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
	ListStaleOrders(ctx context.Context, now time.Time) ([]Order, error)

	// Payment watches
	UpsertWatch(ctx context.Context, watch PaymentWatch) error
	DeleteWatch(ctx context.Context, orderID string) error
	ListActiveWatches(ctx context.Context, now time.Time) ([]PaymentWatch, error)
}
