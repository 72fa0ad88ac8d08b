// Package config loads and validates ingestor configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bmsevents/event-ingestor/internal/event"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Retention RetentionConfig `mapstructure:"retention"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeout bounds query endpoints; the scrape trigger is exempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScrapeConfig describes the scraper backends and how to call them.
type ScrapeConfig struct {
	// Backends holds host:port pairs or full URLs.
	Backends       []string      `mapstructure:"backends"`
	Path           string        `mapstructure:"path"`
	BaseURL        string        `mapstructure:"base_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	UserAgent      string        `mapstructure:"user_agent"`
	Topic          string        `mapstructure:"topic"`
}

// ScheduleConfig holds the cron expressions for the periodic jobs. Expressions
// use six fields with seconds first.
type ScheduleConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Timezone    string `mapstructure:"timezone"`
	ScrapeCron  string `mapstructure:"scrape_cron"`
	CleanupCron string `mapstructure:"cleanup_cron"`
}

// RetentionConfig controls the cleanup job.
type RetentionConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// StorageConfig selects the event store.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Badger   BadgerConfig   `mapstructure:"badger"`
}

// PostgresConfig controls the Postgres event store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MongoConfig controls the MongoDB event store.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// BadgerConfig controls the embedded event store.
type BadgerConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`

	// MemTableSize also bounds one write transaction; larger batches are split.
	MemTableSize int64 `mapstructure:"mem_table_size"`
}

// ArchiveConfig selects where raw backend payloads are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for batch notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	DSN           string              `mapstructure:"dsn"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGESTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("scrape.backends", []string{"localhost:3000", "localhost:3001"})
	v.SetDefault("scrape.path", "/scrape")
	v.SetDefault("scrape.base_url", "https://www.district.in")
	v.SetDefault("scrape.connect_timeout", 30*time.Second)
	v.SetDefault("scrape.read_timeout", 4*time.Hour)
	v.SetDefault("scrape.concurrency", 4)
	v.SetDefault("scrape.queue_depth", 16)
	v.SetDefault("scrape.user_agent", "event-ingestor/1.0")
	v.SetDefault("scrape.topic", "event-batches")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.scrape_cron", "0 0 0 * * *")
	v.SetDefault("schedule.cleanup_cron", "0 0 4 * * *")
	v.SetDefault("retention.max_age_days", 5)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres.table", "events")
	v.SetDefault("storage.mongo.database", "bms")
	v.SetDefault("storage.mongo.collection", "events")
	v.SetDefault("storage.badger.path", "data/events")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Scrape.Backends) == 0 {
		return fmt.Errorf("scrape.backends must list at least one backend")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if c.Scrape.ConnectTimeout <= 0 {
		return fmt.Errorf("scrape.connect_timeout must be > 0")
	}
	if c.Scrape.ReadTimeout <= 0 {
		return fmt.Errorf("scrape.read_timeout must be > 0")
	}
	if _, err := c.Targets(); err != nil {
		return err
	}
	if c.Retention.MaxAgeDays < 1 {
		return fmt.Errorf("retention.max_age_days must be >= 1")
	}
	if c.Schedule.Enabled && (c.Schedule.ScrapeCron == "" || c.Schedule.CleanupCron == "") {
		return fmt.Errorf("schedule.scrape_cron and schedule.cleanup_cron are required when scheduling is enabled")
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateArchive()
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required for the mongo backend")
		}
	case "badger":
		if !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path is required unless in_memory is set")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Backend {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	return nil
}

// Targets derives one scrape target per configured backend. A host:port entry
// becomes http://host:port<path> named service-<port>; a full URL keeps its own
// path when it has one. Names are unique: a colliding name gains the host and,
// if still taken, a numeric suffix. Listing the same endpoint twice is an error.
func (c Config) Targets() ([]event.Target, error) {
	path := c.Scrape.Path
	if path == "" {
		path = "/scrape"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	targets := make([]event.Target, 0, len(c.Scrape.Backends))
	names := make(map[string]struct{}, len(c.Scrape.Backends))
	urls := make(map[string]struct{}, len(c.Scrape.Backends))
	for _, raw := range c.Scrape.Backends {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("scrape.backends contains an empty entry")
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("scrape.backends entry %q is not a valid address", raw)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = path
		}
		endpoint := u.String()
		if _, dup := urls[endpoint]; dup {
			return nil, fmt.Errorf("scrape.backends lists %s more than once", endpoint)
		}
		urls[endpoint] = struct{}{}

		name := uniqueName(names, targetNames(u))
		names[name] = struct{}{}
		targets = append(targets, event.Target{Name: name, URL: endpoint})
	}
	return targets, nil
}

// targetNames lists name candidates in order of preference.
func targetNames(u *url.URL) []string {
	if u.Port() == "" {
		return []string{"service-" + u.Hostname()}
	}
	return []string{"service-" + u.Port(), fmt.Sprintf("service-%s-%s", u.Hostname(), u.Port())}
}

func uniqueName(taken map[string]struct{}, candidates []string) string {
	for _, name := range candidates {
		if _, ok := taken[name]; !ok {
			return name
		}
	}
	last := candidates[len(candidates)-1]
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s-%d", last, i)
		if _, ok := taken[name]; !ok {
			return name
		}
	}
}
