package trend

import (
	"errors"

	"github.com/shopspring/decimal"

	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/storage"
)

// ErrInsufficientHistory means the ledger holds fewer than two records.
var ErrInsufficientHistory = errors.New("trend: fewer than two ledger records")

var hundred = decimal.NewFromInt(100)

// Changes maps each ledger grade to its percent change between the two latest records.
type Changes struct {
	Pct map[fuel.Column]decimal.Decimal
	// Skipped lists grades that could not be compared: missing from a record or a zero base.
	Skipped []fuel.Column
}

// For looks up a grade's change.
func (c Changes) For(col fuel.Column) (decimal.Decimal, bool) {
	v, ok := c.Pct[col]
	return v, ok
}

// PercentChange compares newer against older for every ledger grade as
// (newer/older - 1) * 100.
func PercentChange(newer, older storage.Record) Changes {
	out := Changes{Pct: make(map[fuel.Column]decimal.Decimal, len(fuel.Columns))}
	for _, col := range fuel.Columns {
		n, okNew := newer.Price(col)
		o, okOld := older.Price(col)
		if !okNew || !okOld || o.IsZero() {
			out.Skipped = append(out.Skipped, col)
			continue
		}
		out.Pct[col] = n.Div(o).Sub(decimal.NewFromInt(1)).Mul(hundred)
	}
	return out
}

// LatestChange computes PercentChange over the two records with the largest ids.
// latest must be ordered newest first, as returned by LedgerStore.Latest.
func LatestChange(latest []storage.Record) (Changes, error) {
	if len(latest) < 2 {
		return Changes{}, ErrInsufficientHistory
	}
	return PercentChange(latest[0], latest[1]), nil
}
