package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fuel-price-alerts/internal/fuel"
)

// DateLayout is the on-disk date format of the ledger.
const DateLayout = "02/01/2006"

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrOrderingMismatch means id order and date order disagree somewhere in the ledger.
	ErrOrderingMismatch = errors.New("storage: ledger id order disagrees with date order")
)

// Record is one day of aggregate prices. Prices holds only the grades that had data;
// values are in minor units (1779 = 177.9 cents).
type Record struct {
	ID     int64
	Date   time.Time
	Prices map[fuel.Column]decimal.Decimal
}

// Price returns the stored value for a grade.
func (r Record) Price(c fuel.Column) (decimal.Decimal, bool) {
	v, ok := r.Prices[c]
	return v, ok
}

// DateKey is the calendar date as it appears in the ledger.
func (r Record) DateKey() string {
	return r.Date.Format(DateLayout)
}

// Outcome reports what an idempotent append did.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Skipped  Outcome = "skipped"
)

// AppendResult carries the outcome and the record that now holds the date.
type AppendResult struct {
	Outcome Outcome
	Record  Record
}

// LedgerStore persists the daily aggregate ledger.
type LedgerStore interface {
	// ReadAll returns every record in storage order.
	ReadAll(ctx context.Context) ([]Record, error)
	// FindByDate returns the record holding date's calendar day, if any.
	FindByDate(ctx context.Context, date time.Time) (Record, bool, error)
	// AppendIfAbsent inserts a record for date unless one exists already.
	AppendIfAbsent(ctx context.Context, date time.Time, prices map[fuel.Column]decimal.Decimal) (AppendResult, error)
	// Latest returns the n records with the largest ids, newest first. A negative n returns all.
	Latest(ctx context.Context, n int) ([]Record, error)
	// OrderedByDate returns the limit most recent records by date, oldest first. A negative limit returns all.
	OrderedByDate(ctx context.Context, limit int) ([]Record, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// PersistenceError wraps any failure to read or write the ledger. It is fatal to a run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Day maps t to midnight UTC of its calendar date as seen in t's own location, so
// dates from different zones compare by calendar day alone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// SortByID orders records by descending id.
func SortByID(records []Record) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].ID > records[j].ID })
}

// SortByDate orders records by descending date.
func SortByDate(records []Record) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
}

// CheckOrdering verifies that ordering by id and ordering by date agree.
func CheckOrdering(records []Record) error {
	byID := append([]Record(nil), records...)
	sort.Slice(byID, func(i, j int) bool { return byID[i].ID < byID[j].ID })
	for i := 1; i < len(byID); i++ {
		if !byID[i].Date.After(byID[i-1].Date) {
			return fmt.Errorf("%w: id %d (%s) follows id %d (%s)", ErrOrderingMismatch,
				byID[i].ID, byID[i].DateKey(), byID[i-1].ID, byID[i-1].DateKey())
		}
	}
	return nil
}

// Series extracts one grade's values in record order, skipping records without the grade.
func Series(records []Record, c fuel.Column) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		if v, ok := r.Price(c); ok {
			out = append(out, v.InexactFloat64())
		}
	}
	return out
}

func latest(records []Record, n int) []Record {
	sorted := append([]Record(nil), records...)
	SortByID(sorted)
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func orderedByDate(records []Record, limit int) []Record {
	sorted := append([]Record(nil), records...)
	SortByDate(sorted)
	if limit >= 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}
