package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fuel-price-alerts/internal/fuel"
)

// NotAvailable replaces the percent change when it could not be computed.
const NotAvailable = "N/A"

// ComposeInput is everything one user's message is built from.
type ComposeInput struct {
	GradeID int
	// Price is the reported statistic in minor units (tenths of a cent).
	Price float64
	// Change is the day-over-day percent change; nil when unavailable.
	Change   *decimal.Decimal
	Advisory string
}

// Compose renders "{grade} @{price} ({±pct}%) {advisory}". A missing change renders as (N/A)
// and an empty advisory drops the trailing clause.
func Compose(in ComposeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s @%.1f (%s)", fuel.Name(in.GradeID), in.Price/10, formatChange(in.Change))
	if advisory := strings.TrimSpace(in.Advisory); advisory != "" {
		b.WriteString(" ")
		b.WriteString(advisory)
	}
	return b.String()
}

func formatChange(change *decimal.Decimal) string {
	if change == nil {
		return NotAvailable
	}
	s := change.StringFixed(2)
	if change.Round(2).IsPositive() {
		s = "+" + s
	}
	return s + "%"
}
