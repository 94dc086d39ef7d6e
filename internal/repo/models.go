package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents the users table row.
type User struct {
	ID         string
	TelegramID int64
	Username   *string
	Email      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Order represents a row in orders table: one domain-registration attempt.
type Order struct {
	ID             string
	UserID         int64
	Domain         string
	Step           string
	DNSMode        *string
	Nameservers    []string
	Email          *string
	PaymentMethod  *string
	Crypto         *string
	BasePrice      decimal.Decimal
	Price          decimal.Decimal
	PriceFrozen    bool
	RegistrationID *string
	ZoneID         *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UpdatedAt      time.Time
}

// Watch purposes. An order watch pays for a domain registration; a deposit
// watch tops up the user's wallet balance.
const (
	WatchPurposeOrder   = "order"
	WatchPurposeDeposit = "deposit"
)

// PaymentWatch represents a row in payment_watches: an expectation that an
// address receives a specific crypto amount. OrderID is the order being paid
// for an order watch and a standalone deposit id for a deposit watch.
type PaymentWatch struct {
	OrderID        string
	UserID         int64
	Purpose        string
	Address        string
	Currency       string
	ExpectedAmount decimal.Decimal
	AmountUSD      decimal.Decimal
	CreatedAt      time.Time
	ExpiresAt      time.Time
}
