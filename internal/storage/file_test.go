package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel-price-alerts/internal/fuel"
)

func newTestLedger(t *testing.T) *FileLedger {
	t.Helper()
	return NewFileLedger(filepath.Join(t.TempDir(), "data", "pricedata.csv"))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func prices(u91, u95, u98, diesel int64) map[fuel.Column]decimal.Decimal {
	return map[fuel.Column]decimal.Decimal{
		fuel.ColumnU91:    decimal.NewFromInt(u91),
		fuel.ColumnU95:    decimal.NewFromInt(u95),
		fuel.ColumnU98:    decimal.NewFromInt(u98),
		fuel.ColumnDiesel: decimal.NewFromInt(diesel),
	}
}

func TestFileLedgerMissingFileIsEmpty(t *testing.T) {
	l := newTestLedger(t)
	records, err := l.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileLedgerAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	first, err := l.AppendIfAbsent(ctx, day(2025, 3, 10), prices(1779, 1859, 1929, 1899))
	require.NoError(t, err)
	assert.Equal(t, Inserted, first.Outcome)
	assert.Equal(t, int64(0), first.Record.ID)

	second, err := l.AppendIfAbsent(ctx, time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC), prices(1, 1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, Skipped, second.Outcome)
	assert.Equal(t, int64(0), second.Record.ID)

	records, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	v, ok := records[0].Price(fuel.ColumnU98)
	require.True(t, ok)
	assert.Equal(t, "1929", v.String())
}

func TestFileLedgerIDsAreContiguous(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	for i := 0; i < 5; i++ {
		res, err := l.AppendIfAbsent(ctx, day(2025, 3, 1+i), prices(1700, 1800, 1900, 1850))
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.Record.ID)
	}

	records, err := l.ReadAll(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, ids)
}

func TestFileLedgerNextIDFollowsMax(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path()), 0o755))
	require.NoError(t, os.WriteFile(l.Path(), []byte("id,date,u91,u95,u98,diesel\n7,01/03/2025,1700,1800,1900,1850\n3,02/03/2025,1701,1801,1901,1851\n"), 0o644))

	res, err := l.AppendIfAbsent(ctx, day(2025, 3, 3), prices(1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Record.ID)
}

func TestFileLedgerWritesOriginalFormat(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	p := prices(1779, 1859, 1929, 1899)
	delete(p, fuel.ColumnU95)
	p[fuel.ColumnU91] = decimal.RequireFromString("1762.35")

	_, err := l.AppendIfAbsent(ctx, day(2025, 3, 9), p)
	require.NoError(t, err)

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "id,date,u91,u95,u98,diesel\n0,09/03/2025,1762.35,,1929,1899\n", string(raw))

	records, err := l.ReadAll(ctx)
	require.NoError(t, err)
	_, ok := records[0].Price(fuel.ColumnU95)
	assert.False(t, ok, "empty cell must read back as a missing grade")
}

func TestFileLedgerLatestAndOrderedByDate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	for i, d := range []int{1, 2, 3, 4} {
		_, err := l.AppendIfAbsent(ctx, day(2025, 4, d), prices(1700+int64(i), 0, 1700+int64(i), 0))
		require.NoError(t, err)
	}

	latest, err := l.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(3), latest[0].ID)
	assert.Equal(t, int64(2), latest[1].ID)

	recent, err := l.OrderedByDate(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "02/04/2025", recent[0].DateKey())
	assert.Equal(t, "04/04/2025", recent[2].DateKey())

	all, err := l.OrderedByDate(ctx, 90)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFileLedgerOrderedByDateIgnoresIDs(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path()), 0o755))
	require.NoError(t, os.WriteFile(l.Path(), []byte("id,date,u91,u95,u98,diesel\n0,05/03/2025,,,1800,\n1,04/03/2025,,,1700,\n"), 0o644))

	recent, err := l.OrderedByDate(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1700, 1800}, Series(recent, fuel.ColumnU98))

	records, err := l.ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, errors.Is(CheckOrdering(records), ErrOrderingMismatch))
}

func TestFileLedgerCorruptFileIsPersistenceError(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path()), 0o755))
	require.NoError(t, os.WriteFile(l.Path(), []byte("id,date,u91\nabc,01/01/2025,1\n"), 0o644))

	_, err := l.ReadAll(context.Background())
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "parse", perr.Op)

	_, err = l.AppendIfAbsent(context.Background(), day(2025, 1, 2), prices(1, 1, 1, 1))
	assert.True(t, errors.As(err, &perr))
}

func TestFileLedgerUnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	l := NewFileLedger(filepath.Join(blocker, "pricedata.csv"))
	_, err := l.AppendIfAbsent(context.Background(), day(2025, 1, 2), prices(1, 1, 1, 1))
	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))
}

func TestCheckOrderingAgrees(t *testing.T) {
	records := []Record{
		{ID: 1, Date: day(2025, 1, 2)},
		{ID: 0, Date: day(2025, 1, 1)},
		{ID: 2, Date: day(2025, 1, 5)},
	}
	assert.NoError(t, CheckOrdering(records))
}

func TestDayIgnoresClockAndZone(t *testing.T) {
	adelaide := time.FixedZone("ACDT", 10*3600+1800)
	late := time.Date(2025, 3, 10, 23, 0, 0, 0, adelaide)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Day(late))
}

func TestFileLedgerFindByDate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_, found, err := l.FindByDate(ctx, day(2025, 3, 10))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = l.AppendIfAbsent(ctx, day(2025, 3, 10), prices(1779, 1859, 1929, 1899))
	require.NoError(t, err)

	rec, found, err := l.FindByDate(ctx, time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(0), rec.ID)

	_, found, err = l.FindByDate(ctx, day(2025, 3, 11))
	require.NoError(t, err)
	assert.False(t, found)
}
