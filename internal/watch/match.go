package watch

import (
	"strings"

	"nomadly/internal/repo"

	"github.com/shopspring/decimal"
)

var (
	// underpaymentFloor rejects transactions below 95% of the expected amount.
	underpaymentFloor = decimal.RequireFromString("0.95")
	// overpaymentCeiling accepts overpayment up to twice the expected amount.
	// TODO: confirm with business whether a smaller cap than 2x is intended.
	overpaymentCeiling = decimal.RequireFromString("2.0")
)

// minConfirmations lists the confirmation count required per currency before a
// transaction is trusted.
var minConfirmations = map[string]int{
	"btc":  1,
	"eth":  12,
	"ltc":  6,
	"doge": 20,
}

// MinConfirmations returns the confirmation requirement for a currency,
// defaulting to 1 for unknown codes.
func MinConfirmations(currency string) int {
	if n, ok := minConfirmations[strings.ToLower(currency)]; ok {
		return n
	}
	return 1
}

// Matches applies the payment match policy: the transaction amount must fall
// in [expected*0.95, expected*2.0] and its confirmation count must meet the
// currency minimum. Out-of-band amounts are ignored rather than rejected: the
// watch stays active for a later matching transaction.
func Matches(w repo.PaymentWatch, tx Transaction) bool {
	floor := w.ExpectedAmount.Mul(underpaymentFloor)
	ceiling := w.ExpectedAmount.Mul(overpaymentCeiling)
	if tx.Amount.LessThan(floor) || tx.Amount.GreaterThan(ceiling) {
		return false
	}
	return tx.Confirmations >= MinConfirmations(w.Currency)
}
