package watch

import (
	"testing"

	"nomadly/internal/repo"

	"github.com/shopspring/decimal"
)

func btcWatch(expected string) repo.PaymentWatch {
	return repo.PaymentWatch{
		OrderID:        "ord-1",
		Currency:       "btc",
		Address:        "addr-1",
		ExpectedAmount: decimal.RequireFromString(expected),
	}
}

func TestMatchesRejectsUnderpayment(t *testing.T) {
	w := btcWatch("1.0")
	tx := Transaction{Amount: decimal.RequireFromString("0.94"), Confirmations: 3}
	if Matches(w, tx) {
		t.Fatal("0.94 of expected 1.0 must not match")
	}
}

func TestMatchesAcceptsFloorAndOverpayment(t *testing.T) {
	w := btcWatch("1.0")
	if !Matches(w, Transaction{Amount: decimal.RequireFromString("0.95"), Confirmations: 1}) {
		t.Fatal("0.95 of expected 1.0 must match")
	}
	if !Matches(w, Transaction{Amount: decimal.RequireFromString("1.3"), Confirmations: 1}) {
		t.Fatal("1.3 of expected 1.0 must match")
	}
	if !Matches(w, Transaction{Amount: decimal.RequireFromString("2.0"), Confirmations: 1}) {
		t.Fatal("exactly twice the expected amount must match")
	}
	if Matches(w, Transaction{Amount: decimal.RequireFromString("2.01"), Confirmations: 1}) {
		t.Fatal("more than twice the expected amount must not match")
	}
}

func TestMatchesEnforcesConfirmations(t *testing.T) {
	w := btcWatch("1.0")
	w.Currency = "eth"
	tx := Transaction{Amount: decimal.RequireFromString("1.0"), Confirmations: 11}
	if Matches(w, tx) {
		t.Fatal("eth with 11 confirmations must not match")
	}
	tx.Confirmations = 12
	if !Matches(w, tx) {
		t.Fatal("eth with 12 confirmations must match")
	}
}

func TestMinConfirmationsDefault(t *testing.T) {
	if got := MinConfirmations("btc"); got != 1 {
		t.Fatalf("btc: expected 1, got %d", got)
	}
	if got := MinConfirmations("doge"); got != 20 {
		t.Fatalf("doge: expected 20, got %d", got)
	}
	if got := MinConfirmations("unknown"); got != 1 {
		t.Fatalf("unknown currency: expected default 1, got %d", got)
	}
}
