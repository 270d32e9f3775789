package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fuel-price-alerts/internal/advisory"
	"fuel-price-alerts/internal/alerting"
	"fuel-price-alerts/internal/config"
	"fuel-price-alerts/internal/fetcher"
	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/logging"
	"fuel-price-alerts/internal/scheduler"
	"fuel-price-alerts/internal/service"
	"fuel-price-alerts/internal/storage"
	"fuel-price-alerts/internal/users"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; nil means stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// newFetcher wires the feed behind a snapshot cache so one download serves every grade.
func (a *App) newFetcher(ctx context.Context) (fetcher.SampleFetcher, func(), error) {
	fc := a.Config.Feed
	feed := fetcher.NewFeed(fetcher.FeedOptions{
		BaseURL:         fc.BaseURL,
		SubscriberToken: fc.SubscriberToken,
		CountryID:       fc.CountryID,
		GeoRegionLevel:  fc.GeoRegionLevel,
		GeoRegionID:     fc.GeoRegionID,
		Timeout:         fc.RequestTimeout,
		UserAgent:       fc.UserAgent,
		Policy:          a.Config.Resilience.Policy(),
	}, a.Logger)

	cc := a.Config.Cache
	if cc.RedisAddr == "" {
		return fetcher.NewCached(feed, fetcher.NewMemoryCache(), cc.TTL, a.Logger), func() {}, nil
	}

	redisCache, err := fetcher.NewRedisCache(ctx, cc.RedisAddr, cc.RedisPassword, cc.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := redisCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis cache")
		}
	}
	return fetcher.NewCached(feed, redisCache, cc.TTL, a.Logger), closer, nil
}

func (a *App) newAdvisor() service.Advisor {
	ac := a.Config.Advisory
	if !ac.Enabled {
		return nil
	}
	if ac.APIKey == "" {
		a.Logger.Warn().Msg("advisory.api_key not configured; advisory disabled")
		return nil
	}

	col, _ := fuel.ParseColumn(ac.Grade)
	client := advisory.NewOpenAIClient(advisory.OpenAIOptions{
		BaseURL: ac.BaseURL,
		APIKey:  ac.APIKey,
		Model:   ac.Model,
		Timeout: ac.RequestTimeout,
		Policy:  a.Config.Resilience.Policy(),
	}, a.Logger)

	return advisory.NewAdvisor(client, advisory.Options{
		Region:          ac.Region,
		Grade:           col.Label(),
		Statistic:       advisory.Ordinal(int(a.Config.Stats.Percentile)) + " percentile",
		MaxOutputTokens: ac.MaxOutputTokens,
	}, a.Logger)
}

// newNotifier builds the configured channel. Without dispatch, messages only go to the log.
func (a *App) newNotifier(dispatch bool) (alerting.Notifier, error) {
	al := a.Config.Alerting
	if !dispatch {
		return alerting.NewLogNotifier(a.Logger), nil
	}
	if err := al.Credentials(); err != nil {
		return nil, err
	}

	policy := a.Config.Resilience.Policy()
	switch al.Channel {
	case config.ChannelPushover:
		return alerting.NewPushoverNotifier(al.Pushover.Token, al.Pushover.APIBase, al.RequestTimeout, policy, a.Logger), nil
	case config.ChannelTelegram:
		return alerting.NewTelegramNotifier(al.Telegram.BotToken, al.Telegram.APIBase, al.RequestTimeout, policy, a.Logger), nil
	default:
		return alerting.NewLogNotifier(a.Logger), nil
	}
}

func (a *App) openLedger(ctx context.Context) (storage.LedgerStore, func(), error) {
	return storage.Open(ctx, a.Config.Ledger, a.Config.Database)
}

// newService assembles the pipeline; the returned func releases every resource it opened.
func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler, dispatch bool) (*service.Service, func(), error) {
	notifier, err := a.newNotifier(dispatch && a.Config.Alerting.Enabled)
	if err != nil {
		return nil, nil, err
	}

	ledger, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return nil, nil, err
	}

	feed, closeFeed, err := a.newFetcher(ctx)
	if err != nil {
		closeLedger()
		return nil, nil, err
	}

	svc := service.New(a.Config, service.Dependencies{
		Scheduler: sched,
		Fetcher:   feed,
		Ledger:    ledger,
		Advisor:   a.newAdvisor(),
		Notifier:  notifier,
		Users:     users.File(a.Config.Alerting.UsersFile),
	}, a.Logger)

	return svc, func() {
		closeFeed()
		closeLedger()
	}, nil
}

// Run executes a single pipeline run for today.
func (a *App) Run(ctx context.Context) error {
	svc, closeAll, err := a.newService(ctx, nil, true)
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := svc.RunOnce(ctx, time.Now())
	if err != nil {
		if service.IsFatal(err) {
			a.Logger.Error().Err(err).Str("run_id", report.RunID).Msg("ledger failure aborted the run")
		}
		return err
	}

	a.Logger.Info().
		Str("run_id", report.RunID).
		Str("outcome", string(report.Outcome)).
		Bool("notified", report.Notified).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Msg("run finished")
	return nil
}

// Serve runs the pipeline every day at the configured time until interrupted.
func (a *App) Serve(ctx context.Context, runNow bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runAt, err := a.Config.Scheduler.Clock()
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{
		RunAt:        runAt,
		Location:     a.Config.Location,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   runNow,
	}, a.Logger)

	svc, closeAll, err := a.newService(ctx, sched, true)
	if err != nil {
		return err
	}
	defer closeAll()

	a.Logger.Info().Str("run_at", a.Config.Scheduler.RunAt).Str("timezone", a.Config.App.Timezone).Msg("starting daily scheduler")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduler stopped")
	return nil
}

// Preview prints today's messages without recording or dispatching anything.
func (a *App) Preview(ctx context.Context) error {
	svc, closeAll, err := a.newService(ctx, nil, false)
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := svc.Preview(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(report.Messages) == 0 {
		fmt.Fprintln(a.out(), "no messages composed")
		return nil
	}
	for _, msg := range report.Messages {
		fmt.Fprintf(a.out(), "%s\t%s\n", alerting.MaskKey(msg.Destination), msg.Text)
	}
	return nil
}

// ExportOptions hold parameters for exporting the ledger.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	Grades    []fuel.Column
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
