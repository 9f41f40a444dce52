// Package config loads and validates ingest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/careers-ingest/internal/browser"
	"github.com/JakeFAU/careers-ingest/internal/crawler"
	"github.com/JakeFAU/careers-ingest/internal/store/postgres"
	"github.com/JakeFAU/careers-ingest/internal/store/redis"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Stream transports. TransportStore appends to the store backend's own
// stream; TransportPubSub publishes to a Pub/Sub topic instead.
const (
	TransportStore  = "store"
	TransportPubSub = "pubsub"
)

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// EnvPrefix prefixes every environment override, e.g. INGEST_STREAM_NAME.
const EnvPrefix = "INGEST"

// Config captures all ingest configuration knobs loaded via Viper.
type Config struct {
	Debug     bool              `mapstructure:"debug"`
	TargetURL string            `mapstructure:"target_url"`
	Company   string            `mapstructure:"company"`
	MaxPages  int               `mapstructure:"max_pages"`
	Filters   FiltersConfig     `mapstructure:"filters"`
	Stream    StreamConfig      `mapstructure:"stream"`
	Dedup     DedupConfig       `mapstructure:"dedup"`
	Store     StoreConfig       `mapstructure:"store"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Browser   BrowserConfig     `mapstructure:"browser"`
	Selectors crawler.Selectors `mapstructure:"selectors"`
	Archive   ArchiveConfig     `mapstructure:"archive"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Schedule  ScheduleConfig    `mapstructure:"schedule"`
	Logging   LoggingConfig     `mapstructure:"logging"`
}

// FiltersConfig narrows the site's result set.
type FiltersConfig struct {
	Location string `mapstructure:"location"`
	Category string `mapstructure:"category"`
}

// StreamConfig names the output stream and its consumer group.
type StreamConfig struct {
	Name      string `mapstructure:"name"`
	Group     string `mapstructure:"group"`
	Consumer  string `mapstructure:"consumer"`
	Transport string `mapstructure:"transport"`
}

// DedupConfig names the identity membership set.
type DedupConfig struct {
	Set string `mapstructure:"set"`
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Password     string        `mapstructure:"password"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds the Pub/Sub project for the pubsub transport.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	// Endpoint points the client at an emulator when set.
	Endpoint string `mapstructure:"endpoint"`
}

// BrowserConfig configures the Chrome session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`
	ActionsPerSecond  float64       `mapstructure:"actions_per_second"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	// PageChangeTimeout bounds the wait for the list to re-render after
	// advancing to the next page.
	PageChangeTimeout time.Duration `mapstructure:"page_change_timeout"`
	PagePollInterval  time.Duration `mapstructure:"page_poll_interval"`
}

// ArchiveConfig selects where debug runs keep raw detail markup.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalArchiveConfig `mapstructure:"local"`
	GCS     GCSArchiveConfig   `mapstructure:"gcs"`
}

// LocalArchiveConfig configures the filesystem archive.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArchiveConfig configures the Cloud Storage archive.
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// MetricsConfig controls the ops HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps keys to the unprefixed environment names older
// deployments set. The prefixed name always wins.
var legacyEnv = map[string]string{
	"debug":            "DEBUG",
	"target_url":       "MS_JOBS_PAGE",
	"filters.location": "LOCATION",
	"stream.name":      "STREAM_NAME",
	"stream.group":     "GROUP_NAME",
	"stream.consumer":  "CONSUMER_NAME",
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("target_url", "https://jobs.careers.microsoft.com/global/en/search")
	v.SetDefault("company", "Microsoft")
	v.SetDefault("max_pages", 0)
	v.SetDefault("filters.location", "")
	v.SetDefault("filters.category", "")
	v.SetDefault("stream.name", "jobContentStream")
	v.SetDefault("stream.group", "jobContentGroup")
	v.SetDefault("stream.consumer", "ingest-1")
	v.SetDefault("stream.transport", TransportStore)
	v.SetDefault("dedup.set", "jobContentStream:identities")
	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.redis.url", "redis://localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.dial_timeout", "5s")
	v.SetDefault("store.redis.read_timeout", "3s")
	v.SetDefault("store.redis.write_timeout", "3s")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table_prefix", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")
	v.SetDefault("store.postgres.ensure_schema", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.endpoint", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.wait_timeout", "15s")
	v.SetDefault("browser.actions_per_second", 2.0)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.page_change_timeout", "15s")
	v.SetDefault("browser.page_poll_interval", "250ms")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local.base_dir", "jobs")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("schedule.cron", "@every 6h")
	v.SetDefault("logging.development", false)

	s := crawler.DefaultSelectors()
	v.SetDefault("selectors.result_status", s.ResultStatus)
	v.SetDefault("selectors.location_input", s.LocationInput)
	v.SetDefault("selectors.filter_option", s.FilterOption)
	v.SetDefault("selectors.category_toggle", s.CategoryToggle)
	v.SetDefault("selectors.list_ready", s.ListReady)
	v.SetDefault("selectors.item", s.Item)
	v.SetDefault("selectors.item_title", s.ItemTitle)
	v.SetDefault("selectors.item_id", s.ItemID)
	v.SetDefault("selectors.item_id_attribute", s.ItemIDAttr)
	v.SetDefault("selectors.item_id_prefix", s.ItemIDPrefix)
	v.SetDefault("selectors.detail_link", s.DetailLink)
	v.SetDefault("selectors.detail_ready", s.DetailReady)
	v.SetDefault("selectors.detail_content", s.DetailContent)
	v.SetDefault("selectors.date_posted", s.DatePosted)
	v.SetDefault("selectors.next_page", s.NextPage)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Crawler().Validate(); err != nil {
		return err
	}
	if c.Stream.Name == "" {
		return fmt.Errorf("stream.name is required")
	}
	if c.Stream.Group == "" {
		return fmt.Errorf("stream.group is required")
	}
	if c.Dedup.Set == "" {
		return fmt.Errorf("dedup.set is required")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if _, err := url.Parse(c.Store.Redis.URL); err != nil || c.Store.Redis.URL == "" {
			return fmt.Errorf("store.redis.url must be a redis URL")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, redis, postgres", c.Store.Backend)
	}

	switch c.Stream.Transport {
	case TransportStore:
	case TransportPubSub:
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when stream.transport is pubsub")
		}
	default:
		return fmt.Errorf("stream.transport %q is not one of store, pubsub", c.Stream.Transport)
	}

	switch c.Archive.Backend {
	case ArchiveNone:
	case ArchiveLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set when archive.backend is local")
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, local, gcs", c.Archive.Backend)
	}

	if c.Browser.NavigationTimeout < 0 || c.Browser.WaitTimeout < 0 {
		return fmt.Errorf("browser timeouts must be >= 0")
	}
	if c.Browser.ActionsPerSecond < 0 {
		return fmt.Errorf("browser.actions_per_second must be >= 0")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid port when metrics are enabled")
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	}
	return nil
}

// Crawler returns the controller settings.
func (c Config) Crawler() crawler.Config {
	return crawler.Config{
		TargetURL:      c.TargetURL,
		Company:        c.Company,
		LocationFilter: c.Filters.Location,
		CategoryFilter: c.Filters.Category,
		Debug:          c.Debug,
		MaxPages:       c.MaxPages,
		PageChange:     c.Browser.PageChangeTimeout,
		PagePoll:       c.Browser.PagePollInterval,
		Selectors:      c.Selectors,
	}
}

// BrowserSession returns the Chrome session settings.
func (c Config) BrowserSession() browser.Config {
	return browser.Config{
		Headless:          c.Browser.Headless,
		UserAgent:         c.Browser.UserAgent,
		NavigationTimeout: c.Browser.NavigationTimeout,
		WaitTimeout:       c.Browser.WaitTimeout,
		ActionsPerSecond:  c.Browser.ActionsPerSecond,
		WindowWidth:       c.Browser.WindowWidth,
		WindowHeight:      c.Browser.WindowHeight,
	}
}

// RedisStore returns the Redis client settings.
func (c Config) RedisStore() redis.Config {
	r := c.Store.Redis
	return redis.Config{
		URL:          r.URL,
		Password:     r.Password,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

// PostgresStore returns the Postgres pool settings.
func (c Config) PostgresStore() postgres.Config {
	p := c.Store.Postgres
	return postgres.Config{
		DSN:             p.DSN,
		TablePrefix:     p.TablePrefix,
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		MaxConnLifetime: p.MaxConnLifetime,
	}
}

// DevelopmentLogging reports whether verbose development logging is on.
// Debug runs always log verbosely.
func (c Config) DevelopmentLogging() bool {
	return c.Logging.Development || c.Debug
}
