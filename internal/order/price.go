package order

import "github.com/shopspring/decimal"

// offshoreMultiplier is the fixed markup applied to a domain's base registrar
// price to compute the customer-facing price.
var offshoreMultiplier = decimal.RequireFromString("3.3")

// ComputePrice returns basePrice with the offshore multiplier applied, rounded
// to two decimal places. Pure and deterministic; the result is frozen on the
// order when it reaches the payment-method step and never recomputed.
func ComputePrice(basePrice decimal.Decimal) decimal.Decimal {
	return basePrice.Mul(offshoreMultiplier).Round(2)
}
