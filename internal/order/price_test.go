package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputePriceAppliesMultiplier(t *testing.T) {
	got := ComputePrice(decimal.NewFromInt(15))
	if got.StringFixed(2) != "49.50" {
		t.Fatalf("expected 49.50, got %s", got.StringFixed(2))
	}
}

func TestComputePriceRoundsToCents(t *testing.T) {
	// 12.99 * 3.3 = 42.867, rounds to 42.87
	got := ComputePrice(decimal.RequireFromString("12.99"))
	if got.StringFixed(2) != "42.87" {
		t.Fatalf("expected 42.87, got %s", got.StringFixed(2))
	}
}
