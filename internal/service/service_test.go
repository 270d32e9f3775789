package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel-price-alerts/internal/alerting"
	"fuel-price-alerts/internal/config"
	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/storage"
	"fuel-price-alerts/internal/trend"
	"fuel-price-alerts/internal/users"
)

type stubFetcher struct {
	samples map[int][]float64
	err     error
	calls   int
}

func (f *stubFetcher) FetchSamples(_ context.Context, fuelID int) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.samples[fuelID], nil
}

type stubAdvisor struct {
	reply  string
	err    error
	series []float64
}

func (a *stubAdvisor) Advise(_ context.Context, series []float64, _ trend.Features) (string, error) {
	a.series = series
	return a.reply, a.err
}

type recordingNotifier struct {
	sent   []alerting.Message
	failOn map[string]bool
}

func (n *recordingNotifier) Notify(_ context.Context, msg alerting.Message) error {
	if n.failOn[msg.Destination] {
		return &alerting.DispatchError{Destination: msg.Destination, Err: errors.New("rejected")}
	}
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	ledger   *storage.FileLedger
	fetcher  *stubFetcher
	advisor  *stubAdvisor
	notifier *recordingNotifier
	loc      *time.Location
}

func newFixture(t *testing.T, prefs users.Static) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Adelaide")
	require.NoError(t, err)

	cfg := &config.Config{
		Ledger:   config.LedgerConfig{HistoryDays: 90},
		Stats:    config.StatsConfig{Percentile: 5},
		Advisory: config.AdvisoryConfig{Grade: "u98"},
		Alerting: config.AlertingConfig{
			Enabled:        true,
			Title:          alerting.DefaultTitle,
			NotifyWeekdays: []time.Weekday{time.Monday, time.Thursday, time.Saturday},
		},
		Location: loc,
	}

	f := &fixture{
		ledger: storage.NewFileLedger(filepath.Join(t.TempDir(), "prices.csv")),
		fetcher: &stubFetcher{samples: map[int][]float64{
			fuel.U91:    {1759, 9999},
			fuel.U95:    {1850},
			fuel.U98:    {1929, 9999},
			fuel.Diesel: {1800, 1900, 2000},
		}},
		advisor:  &stubAdvisor{reply: "prices set to climb"},
		notifier: &recordingNotifier{},
		loc:      loc,
	}
	f.svc = New(cfg, Dependencies{
		Fetcher:  f.fetcher,
		Ledger:   f.ledger,
		Advisor:  f.advisor,
		Notifier: f.notifier,
		Users:    prefs,
	}, zerolog.Nop())
	return f
}

func (f *fixture) monday() time.Time {
	return time.Date(2025, 3, 10, 7, 0, 0, 0, f.loc)
}

func TestRunOnceInsertsThenSkipsSameDay(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	ctx := context.Background()

	first, err := f.svc.RunOnce(ctx, f.monday())
	require.NoError(t, err)
	_, err = uuid.Parse(first.RunID)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeInserted, first.Outcome)
	assert.Equal(t, int64(0), first.Record.ID)
	assert.Equal(t, "10/03/2025", first.Record.DateKey())

	u98, ok := first.Record.Price(fuel.ColumnU98)
	require.True(t, ok)
	assert.True(t, u98.Equal(decimal.NewFromInt(1929)))
	diesel, _ := first.Record.Price(fuel.ColumnDiesel)
	assert.True(t, diesel.Equal(decimal.NewFromInt(1810)), "ledger keeps the percentile for diesel, got %s", diesel)

	require.True(t, first.Notified)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "U98 @192.9 (N/A) prices set to climb", f.notifier.sent[0].Text)
	assert.Equal(t, "k1", f.notifier.sent[0].Destination)
	assert.Equal(t, alerting.DefaultTitle, f.notifier.sent[0].Title)
	assert.Equal(t, []float64{192.9}, f.advisor.series)

	second, err := f.svc.RunOnce(ctx, f.monday().Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.False(t, second.Notified)
	assert.Len(t, f.notifier.sent, 1)

	all, err := f.ledger.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunOnceSameDayChecksLedgerBeforeFetching(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	ctx := context.Background()

	_, err := f.svc.RunOnce(ctx, f.monday())
	require.NoError(t, err)
	calls := f.fetcher.calls

	f.fetcher.err = errors.New("feed down")
	report, err := f.svc.RunOnce(ctx, f.monday().Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Outcome)
	assert.Equal(t, "10/03/2025", report.Record.DateKey())
	assert.Equal(t, calls, f.fetcher.calls, "no feed calls once today is recorded")
}

// racingLedger reports the date absent, then loses the insert to another writer.
type racingLedger struct{ storage.LedgerStore }

func (racingLedger) FindByDate(context.Context, time.Time) (storage.Record, bool, error) {
	return storage.Record{}, false, nil
}

func (racingLedger) AppendIfAbsent(_ context.Context, date time.Time, _ map[fuel.Column]decimal.Decimal) (storage.AppendResult, error) {
	return storage.AppendResult{Outcome: storage.Skipped, Record: storage.Record{ID: 4, Date: storage.Day(date)}}, nil
}

func TestRunOnceConcurrentInsertIsSkipped(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	f.svc.ledger = racingLedger{}

	report, err := f.svc.RunOnce(context.Background(), f.monday())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Outcome)
	assert.Equal(t, int64(4), report.Record.ID)
	assert.False(t, report.Notified)
	assert.Empty(t, f.notifier.sent)
}

func TestPreviewPercentChangeFromTwoLatestRecords(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	ctx := context.Background()

	day := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := f.ledger.AppendIfAbsent(ctx, day, map[fuel.Column]decimal.Decimal{fuel.ColumnU98: decimal.NewFromInt(1700)})
	require.NoError(t, err)
	_, err = f.ledger.AppendIfAbsent(ctx, day.AddDate(0, 0, 1), map[fuel.Column]decimal.Decimal{fuel.ColumnU98: decimal.NewFromInt(1800)})
	require.NoError(t, err)

	report, err := f.svc.Preview(ctx, f.monday())
	require.NoError(t, err)
	assert.Equal(t, OutcomePreview, report.Outcome)
	require.Len(t, report.Messages, 1)
	assert.Equal(t, "U98 @192.9 (+5.88%) prices set to climb", report.Messages[0].Text)
	assert.Equal(t, []float64{170, 180}, f.advisor.series)
	assert.Empty(t, f.notifier.sent, "preview never dispatches")

	all, err := f.ledger.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "preview never records")
}

func TestRunOnceOffDayRecordsWithoutNotifying(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})

	tuesday := f.monday().AddDate(0, 0, 1)
	report, err := f.svc.RunOnce(context.Background(), tuesday)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, report.Outcome)
	assert.False(t, report.Notified)
	assert.Empty(t, f.notifier.sent)
	assert.Nil(t, f.advisor.series, "no analysis on off days")
}

func TestRunOnceUsesLocalCalendarDay(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})

	// Sunday 21:30 UTC is Monday morning in Adelaide.
	report, err := f.svc.RunOnce(context.Background(), time.Date(2025, 3, 9, 21, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "10/03/2025", report.Record.DateKey())
	assert.True(t, report.Notified)
}

func TestRunOnceDispatchFailureContinues(t *testing.T) {
	f := newFixture(t, users.Static{
		{Name: "Sam", UserKey: "bad", PreferredFuelID: fuel.U98},
		{Name: "Alex", UserKey: "good", PreferredFuelID: fuel.Diesel},
	})
	f.notifier.failOn = map[string]bool{"bad": true}

	report, err := f.svc.RunOnce(context.Background(), f.monday())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Diesel @190.0 (N/A) prices set to climb", f.notifier.sent[0].Text, "diesel reports the mean")
}

func TestRunOnceAdvisoryFailureDropsClause(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U91}})
	f.advisor.err = errors.New("unavailable")

	_, err := f.svc.RunOnce(context.Background(), f.monday())
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "U91 @175.9 (N/A)", f.notifier.sent[0].Text)
}

func TestRunOnceMissingGradeIsLeftOut(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U95}})
	delete(f.fetcher.samples, fuel.U95)

	report, err := f.svc.RunOnce(context.Background(), f.monday())
	require.NoError(t, err)
	_, ok := report.Record.Price(fuel.ColumnU95)
	assert.False(t, ok)
	assert.Empty(t, f.notifier.sent, "user whose grade has no price is skipped")
}

func TestRunOnceNoDataAppendsNothing(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	f.fetcher.err = errors.New("feed down")

	report, err := f.svc.RunOnce(context.Background(), f.monday())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, report.Outcome)

	all, err := f.ledger.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

type brokenLedger struct{ storage.LedgerStore }

func (brokenLedger) AppendIfAbsent(context.Context, time.Time, map[fuel.Column]decimal.Decimal) (storage.AppendResult, error) {
	return storage.AppendResult{}, &storage.PersistenceError{Op: "write", Err: errors.New("disk full")}
}

func TestRunOnceLedgerFailureIsFatal(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	f.svc.ledger = brokenLedger{LedgerStore: f.ledger}

	_, err := f.svc.RunOnce(context.Background(), f.monday())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Empty(t, f.notifier.sent)
}

type heldLocker struct{ storage.LedgerStore }

func (heldLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, users.Static{{Name: "Sam", UserKey: "k1", PreferredFuelID: fuel.U98}})
	f.svc.locker = heldLocker{}
	f.svc.lockKey = 42

	report, err := f.svc.RunOnce(context.Background(), f.monday())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, report.Outcome)
	assert.Zero(t, f.fetcher.calls)
}
