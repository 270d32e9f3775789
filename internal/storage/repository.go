package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fuel-price-alerts/internal/fuel"
)

const (
	ensureSchemaSQL = `CREATE TABLE IF NOT EXISTS price_ledger (
        id         BIGINT PRIMARY KEY CHECK (id >= 0),
        date       DATE NOT NULL UNIQUE,
        u91        NUMERIC,
        u95        NUMERIC,
        u98        NUMERIC,
        diesel     NUMERIC,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	lockLedgerSQL = `LOCK TABLE price_ledger IN SHARE ROW EXCLUSIVE MODE;`

	appendIfAbsentSQL = `INSERT INTO price_ledger (id, date, u91, u95, u98, diesel)
    SELECT COALESCE(MAX(id) + 1, 0), $1::date,
           CAST($2::text AS NUMERIC), CAST($3::text AS NUMERIC),
           CAST($4::text AS NUMERIC), CAST($5::text AS NUMERIC)
    FROM price_ledger
    ON CONFLICT (date) DO NOTHING
    RETURNING id, date, u91::text, u95::text, u98::text, diesel::text;`

	selectByDateSQL = `SELECT id, date, u91::text, u95::text, u98::text, diesel::text
    FROM price_ledger
    WHERE date = $1;`

	listAllSQL = `SELECT id, date, u91::text, u95::text, u98::text, diesel::text
    FROM price_ledger
    ORDER BY id;`

	listLatestSQL = `SELECT id, date, u91::text, u95::text, u98::text, diesel::text
    FROM price_ledger
    ORDER BY id DESC
    LIMIT $1;`

	listByDateSQL = `SELECT id, date, u91::text, u95::text, u98::text, diesel::text
    FROM (
        SELECT id, date, u91, u95, u98, diesel
        FROM price_ledger
        ORDER BY date DESC
        LIMIT $1
    ) recent
    ORDER BY date ASC;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store keeps the ledger in PostgreSQL. The unique date column carries the one-record-per-day
// guarantee, so concurrent appends for the same day cannot both insert.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the ledger table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return persistErr("ensure schema", err)
	}
	if _, err := pool.Exec(ctx, ensureSchemaSQL); err != nil {
		return persistErr("ensure schema", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock is best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ReadAll returns every record ordered by id.
func (s *Store) ReadAll(ctx context.Context) ([]Record, error) {
	return s.query(ctx, "read all", listAllSQL)
}

// AppendIfAbsent inserts today's record unless the date exists. The table is locked for the
// duration of the transaction so MAX(id)+1 cannot race another writer.
func (s *Store) AppendIfAbsent(ctx context.Context, date time.Time, prices map[fuel.Column]decimal.Decimal) (AppendResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return AppendResult{}, persistErr("append", err)
	}

	day := Day(date)
	var result AppendResult
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockLedgerSQL); err != nil {
			return err
		}

		args := []any{day}
		for _, c := range fuel.Columns {
			args = append(args, nullableDecimal(prices, c))
		}

		rec, err := scanRecord(tx.QueryRow(ctx, appendIfAbsentSQL, args...))
		if err == nil {
			result = AppendResult{Outcome: Inserted, Record: rec}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		existing, err := scanRecord(tx.QueryRow(ctx, selectByDateSQL, day))
		if err != nil {
			return err
		}
		result = AppendResult{Outcome: Skipped, Record: existing}
		return nil
	})
	if err != nil {
		return AppendResult{}, persistErr("append", err)
	}
	return result, nil
}

// FindByDate looks up the record for date's calendar day.
func (s *Store) FindByDate(ctx context.Context, date time.Time) (Record, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Record{}, false, persistErr("find by date", err)
	}

	rec, err := scanRecord(pool.QueryRow(ctx, selectByDateSQL, Day(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, persistErr("find by date", err)
	}
	return rec, true, nil
}

// Latest returns the n records with the largest ids, newest first.
func (s *Store) Latest(ctx context.Context, n int) ([]Record, error) {
	return s.query(ctx, "latest", listLatestSQL, limitArg(n))
}

// OrderedByDate returns the limit most recent records by date, oldest first.
func (s *Store) OrderedByDate(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, "ordered by date", listByDateSQL, limitArg(limit))
}

// limitArg maps a negative limit to NULL, which Postgres reads as LIMIT ALL.
func limitArg(n int) any {
	if n < 0 {
		return nil
	}
	return n
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, persistErr(op, err)
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		id   int64
		date time.Time
		cols = make([]*string, len(fuel.Columns))
	)

	dest := []any{&id, &date}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	if err := row.Scan(dest...); err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, Date: Day(date), Prices: make(map[fuel.Column]decimal.Decimal, len(fuel.Columns))}
	for i, c := range fuel.Columns {
		if cols[i] == nil {
			continue
		}
		v, err := decimal.NewFromString(*cols[i])
		if err != nil {
			return Record{}, fmt.Errorf("parse %s: %w", c, err)
		}
		rec.Prices[c] = v
	}
	return rec, nil
}

func nullableDecimal(prices map[fuel.Column]decimal.Decimal, c fuel.Column) any {
	v, ok := prices[c]
	if !ok {
		return nil
	}
	return v.String()
}

var (
	_ LedgerStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
