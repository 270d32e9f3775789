package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fuel-price-alerts/internal/logging"
	"fuel-price-alerts/internal/resilience"
)

// Ledger backends.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

// Dispatch channels.
const (
	ChannelPushover = "pushover"
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Advisory   AdvisoryConfig   `mapstructure:"advisory"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Export     ExportConfig     `mapstructure:"export"`

	// Location is App.Timezone resolved at load time.
	Location *time.Location `mapstructure:"-"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone" validate:"required"`
}

// LedgerConfig selects where daily records are kept.
type LedgerConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=csv postgres"`
	Path        string `mapstructure:"path" validate:"required_if=Backend csv"`
	HistoryDays int    `mapstructure:"history_days" validate:"gt=0"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the daily run.
type SchedulerConfig struct {
	// RunAt is the local wall-clock time of the daily run, HH:MM.
	RunAt           string        `mapstructure:"run_at" validate:"required"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay" validate:"gte=0"`
}

// FeedConfig points at the pricing feed.
type FeedConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	SubscriberToken string        `mapstructure:"subscriber_token"`
	CountryID       int           `mapstructure:"country_id" validate:"gt=0"`
	GeoRegionLevel  int           `mapstructure:"geo_region_level" validate:"gt=0"`
	GeoRegionID     int           `mapstructure:"geo_region_id" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// StatsConfig tunes the robust statistics.
type StatsConfig struct {
	Percentile float64 `mapstructure:"percentile" validate:"gte=0,lte=100"`
}

// AdvisoryConfig configures the text-generation advisory.
type AdvisoryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" validate:"gt=0"`
	Grade           string        `mapstructure:"grade" validate:"oneof=u91 u95 u98 diesel"`
	Region          string        `mapstructure:"region" validate:"required"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines who is notified, when and how.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Channel        string         `mapstructure:"channel" validate:"oneof=pushover telegram log"`
	Title          string         `mapstructure:"title"`
	NotifyDays     []string       `mapstructure:"notify_days" validate:"min=1"`
	UsersFile      string         `mapstructure:"users_file"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	Pushover       PushoverConfig `mapstructure:"pushover"`
	Telegram       TelegramConfig `mapstructure:"telegram"`

	// NotifyWeekdays is NotifyDays parsed at load time.
	NotifyWeekdays []time.Weekday `mapstructure:"-"`
}

// PushoverConfig holds the Pushover application credentials.
type PushoverConfig struct {
	Token   string `mapstructure:"token"`
	APIBase string `mapstructure:"api_base"`
}

// TelegramConfig holds the Telegram bot credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// ResilienceConfig is the retry and breaker policy for outbound calls.
type ResilienceConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	MinWait         time.Duration `mapstructure:"min_wait"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// Policy converts the section into a resilience policy.
func (r ResilienceConfig) Policy() resilience.Policy {
	return resilience.Policy{
		MaxRetries:      r.MaxRetries,
		MinWait:         r.MinWait,
		MaxWait:         r.MaxWait,
		BreakerFailures: r.BreakerFailures,
		BreakerTimeout:  r.BreakerTimeout,
	}
}

// CacheConfig selects the feed snapshot cache; an empty RedisAddr keeps it in process.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" validate:"gt=0"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("FUELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fuelwatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Australia/Adelaide")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ledger.backend", BackendCSV)
	v.SetDefault("ledger.path", "data/fuel_prices.csv")
	v.SetDefault("ledger.history_days", 90)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.run_at", "07:00")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x4675656c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("feed.base_url", "https://fppdirectapi-prod.safuelpricinginformation.com.au")
	v.SetDefault("feed.subscriber_token", "")
	v.SetDefault("feed.country_id", 21)
	v.SetDefault("feed.geo_region_level", 2)
	v.SetDefault("feed.geo_region_id", 189)
	v.SetDefault("feed.request_timeout", "20s")
	v.SetDefault("feed.user_agent", "")

	v.SetDefault("stats.percentile", 5)

	v.SetDefault("advisory.enabled", true)
	v.SetDefault("advisory.base_url", "https://api.openai.com/v1")
	v.SetDefault("advisory.api_key", "")
	v.SetDefault("advisory.model", "gpt-5")
	v.SetDefault("advisory.max_output_tokens", 40)
	v.SetDefault("advisory.grade", "u98")
	v.SetDefault("advisory.region", "Adelaide")
	v.SetDefault("advisory.request_timeout", "60s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channel", ChannelPushover)
	v.SetDefault("alerting.title", "Fuel Price Alert")
	v.SetDefault("alerting.notify_days", []string{"monday", "thursday", "saturday"})
	v.SetDefault("alerting.users_file", "users.json")
	v.SetDefault("alerting.request_timeout", "10s")
	v.SetDefault("alerting.pushover.token", "")
	v.SetDefault("alerting.pushover.api_base", "https://api.pushover.net")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("resilience.max_retries", 2)
	v.SetDefault("resilience.min_wait", "500ms")
	v.SetDefault("resilience.max_wait", "10s")
	v.SetDefault("resilience.breaker_failures", 5)
	v.SetDefault("resilience.breaker_timeout", "30s")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate checks field constraints and resolves derived values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", describe(err))
	}

	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return fmt.Errorf("app.timezone %q: %w", c.App.Timezone, err)
	}
	c.Location = loc

	if _, err := c.Scheduler.Clock(); err != nil {
		return err
	}

	days, err := ParseWeekdays(c.Alerting.NotifyDays)
	if err != nil {
		return fmt.Errorf("alerting.notify_days: %w", err)
	}
	c.Alerting.NotifyWeekdays = days

	if c.Ledger.Backend == BackendPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres ledger")
	}
	if c.Alerting.Enabled && c.Alerting.UsersFile == "" {
		return fmt.Errorf("alerting.users_file is required")
	}
	return nil
}

// Credentials checks that the configured dispatch channel has its token.
func (a AlertingConfig) Credentials() error {
	switch a.Channel {
	case ChannelPushover:
		if a.Pushover.Token == "" {
			return fmt.Errorf("alerting.pushover.token is required")
		}
	case ChannelTelegram:
		if a.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
	}
	return nil
}

// Clock parses RunAt into hour and minute.
func (s SchedulerConfig) Clock() (time.Duration, error) {
	t, err := time.Parse("15:04", s.RunAt)
	if err != nil {
		return 0, fmt.Errorf("scheduler.run_at %q must be HH:MM", s.RunAt)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ShouldNotify reports whether t's weekday is a notify day.
func (a AlertingConfig) ShouldNotify(t time.Time) bool {
	for _, d := range a.NotifyWeekdays {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekdays converts day names into weekdays, dropping duplicates.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool, len(names))
	out := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
