package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuel-price-alerts/internal/alerting"
	"fuel-price-alerts/internal/config"
	"fuel-price-alerts/internal/fetcher"
	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/scheduler"
	"fuel-price-alerts/internal/stats"
	"fuel-price-alerts/internal/storage"
	"fuel-price-alerts/internal/trend"
	"fuel-price-alerts/internal/users"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNoData   Outcome = "no_data"
	OutcomeLocked   Outcome = "locked"
	OutcomePreview  Outcome = "preview"
)

// Advisor produces the one-line outlook appended to every message.
type Advisor interface {
	Advise(ctx context.Context, series []float64, features trend.Features) (string, error)
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Fetcher   fetcher.SampleFetcher
	Ledger    storage.LedgerStore
	// Advisor may be nil, in which case messages carry no outlook.
	Advisor  Advisor
	Notifier alerting.Notifier
	Users    users.Source
}

// RunReport summarises one pipeline run.
type RunReport struct {
	RunID    string
	Date     time.Time
	Outcome  Outcome
	Record   storage.Record
	Notified bool
	Sent     int
	Failed   int
	Messages []alerting.Message
}

// Service runs the daily fetch, record, analyse and notify pipeline.
type Service struct {
	scheduler *scheduler.Scheduler
	fetcher   fetcher.SampleFetcher
	ledger    storage.LedgerStore
	advisor   Advisor
	notifier  alerting.Notifier
	users     users.Source
	logger    zerolog.Logger

	percentile  float64
	historyDays int
	trendColumn fuel.Column
	title       string
	alerting    config.AlertingConfig
	location    *time.Location
	locker      storage.AdvisoryLocker
	lockKey     int64

	now   func() time.Time
	runID func() string
}

// New constructs the pipeline service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	col, ok := fuel.ParseColumn(cfg.Advisory.Grade)
	if !ok {
		col = fuel.ColumnU98
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Ledger.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:   deps.Scheduler,
		fetcher:     deps.Fetcher,
		ledger:      deps.Ledger,
		advisor:     deps.Advisor,
		notifier:    deps.Notifier,
		users:       deps.Users,
		logger:      logger.With().Str("component", "service").Logger(),
		percentile:  cfg.Stats.Percentile,
		historyDays: cfg.Ledger.HistoryDays,
		trendColumn: col,
		title:       cfg.Alerting.Title,
		alerting:    cfg.Alerting,
		location:    loc,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		now:         time.Now,
		runID:       uuid.NewString,
	}
}

// Run blocks on the daily scheduler.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, scheduled time.Time) error {
		_, err := s.RunOnce(ctx, scheduled)
		return err
	})
}

// RunOnce executes one pipeline run for the calendar day of now in the configured zone.
// Only ledger failures are returned as errors.
func (s *Service) RunOnce(ctx context.Context, now time.Time) (RunReport, error) {
	local := now.In(s.location)
	report := RunReport{RunID: s.runID(), Date: storage.Day(local)}
	log := s.logger.With().Str("run_id", report.RunID).Str("date", report.Date.Format(storage.DateLayout)).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		log.Info().Msg("skip run because advisory lock held elsewhere")
		report.Outcome = OutcomeLocked
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	existing, found, err := s.ledger.FindByDate(ctx, report.Date)
	if err != nil {
		return report, fmt.Errorf("check ledger: %w", err)
	}
	if found {
		report.Outcome = OutcomeSkipped
		report.Record = existing
		log.Info().Int64("id", existing.ID).Msg("record for today already exists; run is a no-op")
		return report, nil
	}

	prices := s.collectPrices(ctx, log)
	if len(prices) == 0 {
		log.Warn().Msg("no grade produced a price; nothing recorded")
		report.Outcome = OutcomeNoData
		return report, nil
	}

	result, err := s.ledger.AppendIfAbsent(ctx, report.Date, prices)
	if err != nil {
		return report, fmt.Errorf("append ledger record: %w", err)
	}
	report.Record = result.Record
	if result.Outcome == storage.Skipped {
		report.Outcome = OutcomeSkipped
		log.Info().Int64("id", result.Record.ID).Msg("record for today written concurrently; run is a no-op")
		return report, nil
	}
	report.Outcome = OutcomeInserted
	log.Info().Int64("id", result.Record.ID).Int("grades", len(prices)).Msg("ledger record inserted")

	if !s.alerting.Enabled {
		log.Info().Msg("alerting disabled; stopping after record")
		return report, nil
	}
	if !s.alerting.ShouldNotify(local) {
		log.Info().Str("weekday", local.Weekday().String()).Msg("not a notify day; stopping after record")
		return report, nil
	}

	messages, err := s.compose(ctx, log)
	if err != nil {
		return report, err
	}
	report.Notified = true
	report.Messages = messages

	for _, msg := range messages {
		if err := s.notifier.Notify(ctx, msg); err != nil {
			report.Failed++
			log.Error().Err(err).Msg("dispatch failed; continuing with next user")
			continue
		}
		report.Sent++
	}

	log.Info().Int("sent", report.Sent).Int("failed", report.Failed).Msg("run complete")
	return report, nil
}

// Preview builds today's messages from the current ledger without recording or dispatching.
func (s *Service) Preview(ctx context.Context, now time.Time) (RunReport, error) {
	report := RunReport{
		RunID:   s.runID(),
		Date:    storage.Day(now.In(s.location)),
		Outcome: OutcomePreview,
	}
	log := s.logger.With().Str("run_id", report.RunID).Bool("preview", true).Logger()

	messages, err := s.compose(ctx, log)
	if err != nil {
		return report, err
	}
	report.Messages = messages
	return report, nil
}

// collectPrices fetches, cleans and summarises every ledger grade. Failed grades are left out.
func (s *Service) collectPrices(ctx context.Context, log zerolog.Logger) map[fuel.Column]decimal.Decimal {
	prices := make(map[fuel.Column]decimal.Decimal, len(fuel.Columns))
	for _, col := range fuel.Columns {
		st, err := s.gradeStats(ctx, col.ID())
		if err != nil {
			log.Warn().Err(err).Str("grade", col.Label()).Msg("grade left out of today's record")
			continue
		}
		prices[col] = decimal.NewFromFloat(st.Percentile).Round(2)
	}
	return prices
}

func (s *Service) gradeStats(ctx context.Context, gradeID int) (stats.GradeStats, error) {
	samples, err := s.fetcher.FetchSamples(ctx, gradeID)
	if err != nil {
		return stats.GradeStats{}, fmt.Errorf("fetch %s: %w", fuel.Name(gradeID), err)
	}
	cleaned, err := stats.Clean(samples)
	if err != nil {
		return stats.GradeStats{}, fmt.Errorf("clean %s: %w", fuel.Name(gradeID), err)
	}
	return stats.Summarize(cleaned, s.percentile)
}

// compose runs the analysis half of the pipeline and builds one message per user.
func (s *Service) compose(ctx context.Context, log zerolog.Logger) ([]alerting.Message, error) {
	history, err := s.ledger.OrderedByDate(ctx, s.historyDays)
	if err != nil {
		return nil, fmt.Errorf("read ledger history: %w", err)
	}
	latest, err := s.ledger.Latest(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("read latest ledger records: %w", err)
	}
	if err := storage.CheckOrdering(history); err != nil {
		log.Warn().Err(err).Msg("ledger id order disagrees with date order")
	}

	changes, err := trend.LatestChange(latest)
	if err != nil {
		log.Warn().Err(err).Msg("percent change unavailable")
	}
	for _, col := range changes.Skipped {
		log.Warn().Str("grade", col.Label()).Msg("percent change skipped for grade")
	}

	advice := s.advise(ctx, log, history)

	prefs, err := s.users.Preferences()
	if err != nil {
		log.Error().Err(err).Msg("cannot load users; nothing to send")
		return nil, nil
	}

	messages := make([]alerting.Message, 0, len(prefs))
	for _, p := range prefs {
		st, err := s.gradeStats(ctx, p.PreferredFuelID)
		if err != nil {
			log.Warn().Err(err).Str("user", p.Name).Msg("no price for user's grade; skipping user")
			continue
		}

		in := alerting.ComposeInput{
			GradeID:  p.PreferredFuelID,
			Price:    st.Reported(p.PreferredFuelID),
			Advisory: advice,
		}
		if col, ok := fuel.ColumnFor(p.PreferredFuelID); ok {
			if pct, ok := changes.For(col); ok {
				in.Change = &pct
			}
		}

		text := alerting.Compose(in)
		log.Info().Str("user", p.Name).Str("message", text).Msg("message composed")
		messages = append(messages, alerting.Message{Destination: p.UserKey, Title: s.title, Text: text})
	}
	return messages, nil
}

func (s *Service) advise(ctx context.Context, log zerolog.Logger, history []storage.Record) string {
	if s.advisor == nil {
		return ""
	}

	series := storage.Series(history, s.trendColumn)
	for i := range series {
		series[i] /= 10
	}
	features, err := trend.Analyze(series)
	if err != nil {
		log.Warn().Err(err).Msg("trend unavailable; advisory omitted")
		return ""
	}

	advice, err := s.advisor.Advise(ctx, series, features)
	if err != nil {
		log.Warn().Err(err).Msg("advisory omitted")
		return ""
	}
	return advice
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// IsFatal reports whether err aborted a run.
func IsFatal(err error) bool {
	var perr *storage.PersistenceError
	return errors.As(err, &perr)
}
