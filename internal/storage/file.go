package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuel-price-alerts/internal/fuel"
)

const (
	colID   = "id"
	colDate = "date"
)

// FileLedger keeps the ledger in a single CSV file with header
// id,date,u91,u95,u98,diesel. Every append rewrites the whole file through a
// temp file and rename, so a failed write leaves the previous ledger intact.
type FileLedger struct {
	path string
}

// NewFileLedger returns a ledger backed by path. The file is created on first append.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the backing file location.
func (l *FileLedger) Path() string { return l.path }

// ReadAll loads every record in file order. A missing file is an empty ledger.
func (l *FileLedger) ReadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.read()
}

// FindByDate scans the ledger for date's calendar day.
func (l *FileLedger) FindByDate(ctx context.Context, date time.Time) (Record, bool, error) {
	records, err := l.ReadAll(ctx)
	if err != nil {
		return Record{}, false, err
	}
	day := Day(date)
	for _, r := range records {
		if sameDay(r.Date, day) {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// AppendIfAbsent inserts a record for date with id max+1 (0 for an empty ledger) unless the
// date is already present, in which case the existing record is reported as skipped.
func (l *FileLedger) AppendIfAbsent(ctx context.Context, date time.Time, prices map[fuel.Column]decimal.Decimal) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	records, err := l.read()
	if err != nil {
		return AppendResult{}, err
	}

	day := Day(date)
	nextID := int64(0)
	for _, r := range records {
		if sameDay(r.Date, day) {
			return AppendResult{Outcome: Skipped, Record: r}, nil
		}
		if r.ID >= nextID {
			nextID = r.ID + 1
		}
	}

	rec := Record{ID: nextID, Date: day, Prices: copyPrices(prices)}
	if err := l.write(append(records, rec)); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Outcome: Inserted, Record: rec}, nil
}

// Latest returns the n records with the largest ids, newest first.
func (l *FileLedger) Latest(ctx context.Context, n int) ([]Record, error) {
	records, err := l.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return latest(records, n), nil
}

// OrderedByDate returns the limit most recent records by date, oldest first.
func (l *FileLedger) OrderedByDate(ctx context.Context, limit int) ([]Record, error) {
	records, err := l.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return orderedByDate(records, limit), nil
}

func (l *FileLedger) read() ([]Record, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, persistErr("open", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []Record{}, nil
		}
		return nil, persistErr("read header", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := index[colID]; !ok {
		return nil, persistErr("read header", fmt.Errorf("missing %q column", colID))
	}
	if _, ok := index[colDate]; !ok {
		return nil, persistErr("read header", fmt.Errorf("missing %q column", colDate))
	}

	records := make([]Record, 0)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, persistErr("read", err)
		}
		rec, err := parseRow(row, index)
		if err != nil {
			return nil, persistErr("parse", fmt.Errorf("line %d: %w", line, err))
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string, index map[string]int) (Record, error) {
	cell := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	id, err := strconv.ParseInt(cell(colID), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse id: %w", err)
	}
	if id < 0 {
		return Record{}, fmt.Errorf("negative id %d", id)
	}

	date, err := time.ParseInLocation(DateLayout, cell(colDate), time.UTC)
	if err != nil {
		return Record{}, fmt.Errorf("parse date: %w", err)
	}

	rec := Record{ID: id, Date: date, Prices: make(map[fuel.Column]decimal.Decimal, len(fuel.Columns))}
	for _, c := range fuel.Columns {
		raw := cell(string(c))
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return Record{}, fmt.Errorf("parse %s: %w", c, err)
		}
		rec.Prices[c] = v
	}
	return rec, nil
}

func (l *FileLedger) write(records []Record) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistErr("create dir", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.path)+"-*")
	if err != nil {
		return persistErr("create temp", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	writer := csv.NewWriter(tmp)
	header := []string{colID, colDate}
	for _, c := range fuel.Columns {
		header = append(header, string(c))
	}
	if err := writer.Write(header); err != nil {
		return persistErr("write", err)
	}

	for _, r := range records {
		row := []string{strconv.FormatInt(r.ID, 10), r.DateKey()}
		for _, c := range fuel.Columns {
			if v, ok := r.Price(c); ok {
				row = append(row, v.String())
			} else {
				row = append(row, "")
			}
		}
		if err := writer.Write(row); err != nil {
			return persistErr("write", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return persistErr("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return persistErr("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("close", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return persistErr("rename", err)
	}
	committed = true
	return nil
}

func copyPrices(in map[fuel.Column]decimal.Decimal) map[fuel.Column]decimal.Decimal {
	out := make(map[fuel.Column]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ LedgerStore = (*FileLedger)(nil)
