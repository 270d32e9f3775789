package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel-price-alerts/internal/fuel"
)

// newTestStore connects to FUELWATCH_TEST_DATABASE_DSN and empties the ledger table.
// Tests are skipped when the variable is unset or the database is unreachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("FUELWATCH_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("FUELWATCH_TEST_DATABASE_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("cannot connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("test database unavailable: %v", err)
	}

	store := NewStore(pool)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, "TRUNCATE price_ledger")
	require.NoError(t, err)
	return store
}

func TestStoreAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.AppendIfAbsent(ctx, day(2025, 3, 10), prices(1779, 1859, 1929, 1899))
	require.NoError(t, err)
	assert.Equal(t, Inserted, first.Outcome)
	assert.Equal(t, int64(0), first.Record.ID)
	assert.Equal(t, "10/03/2025", first.Record.DateKey())
	assert.Equal(t, time.UTC, first.Record.Date.Location())

	second, err := s.AppendIfAbsent(ctx, time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC), prices(1, 1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, Skipped, second.Outcome)
	assert.Equal(t, int64(0), second.Record.ID)
	v, ok := second.Record.Price(fuel.ColumnU98)
	require.True(t, ok)
	assert.Equal(t, "1929", v.String())

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreIDsAreContiguous(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		res, err := s.AppendIfAbsent(ctx, day(2025, 3, 1+i), prices(1700, 1800, 1900, 1850))
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.Record.ID)
	}

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, ids)
}

func TestStoreMissingGradeIsNull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := prices(1779, 1859, 1929, 1899)
	delete(p, fuel.ColumnU95)
	_, err := s.AppendIfAbsent(ctx, day(2025, 3, 9), p)
	require.NoError(t, err)

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	_, ok := records[0].Price(fuel.ColumnU95)
	assert.False(t, ok)
}

func TestStoreLatestAndOrderedByDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i, d := range []int{1, 2, 3, 4} {
		_, err := s.AppendIfAbsent(ctx, day(2025, 4, d), prices(1700+int64(i), 0, 1700+int64(i), 0))
		require.NoError(t, err)
	}

	latest, err := s.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(3), latest[0].ID)
	assert.Equal(t, int64(2), latest[1].ID)

	recent, err := s.OrderedByDate(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "02/04/2025", recent[0].DateKey())
	assert.Equal(t, "04/04/2025", recent[2].DateKey())

	all, err := s.OrderedByDate(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	everything, err := s.Latest(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, everything, 4)
}

func TestStoreOrderedByDateIgnoresIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.pool.Exec(ctx, `INSERT INTO price_ledger (id, date, u98) VALUES (0, '2025-03-05', 1800), (1, '2025-03-04', 1700)`)
	require.NoError(t, err)

	recent, err := s.OrderedByDate(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1700, 1800}, Series(recent, fuel.ColumnU98))

	latest, err := s.Latest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "04/03/2025", latest[0].DateKey())
}

func TestStoreFindByDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.FindByDate(ctx, day(2025, 3, 10))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.AppendIfAbsent(ctx, day(2025, 3, 10), prices(1779, 1859, 1929, 1899))
	require.NoError(t, err)

	rec, found, err := s.FindByDate(ctx, day(2025, 3, 10))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(0), rec.ID)
}

func TestStoreAdvisoryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	unlock, acquired, err := s.TryAdvisoryLock(ctx, 0x4675656c)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := s.TryAdvisoryLock(ctx, 0x4675656c)
	require.NoError(t, err)
	assert.False(t, again)

	unlock()
	relock, acquired, err := s.TryAdvisoryLock(ctx, 0x4675656c)
	require.NoError(t, err)
	assert.True(t, acquired)
	relock()
}

func TestStoreWithoutPoolIsNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.Latest(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
