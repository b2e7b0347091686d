package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Server      ServerConfig      `mapstructure:"server"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Projection  ProjectionConfig  `mapstructure:"projection"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver  string `mapstructure:"driver"` // memory | badger
	DataDir string `mapstructure:"data_dir"`
}

// PostgresConfig covers the event log. An empty DSN disables it.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// EngineConfig tunes the single-writer core and its output channels.
type EngineConfig struct {
	PoolKey            string `mapstructure:"pool_key"`
	GovernanceKey      string `mapstructure:"governance_key"`
	PersistChanSize    int    `mapstructure:"persist_chan_size"`
	ProjectionChanSize int    `mapstructure:"projection_chan_size"`
	QueueSize          int    `mapstructure:"queue_size"`
	LRUCapacity        int    `mapstructure:"lru_capacity"`
	ConflictRetries    int    `mapstructure:"conflict_retries"`
}

type PersistenceConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	FlushTimeout       time.Duration `mapstructure:"flush_timeout"`
	CheckpointInterval int64         `mapstructure:"checkpoint_interval"` // Checkpoint every N events
}

type ProjectionConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSURE")
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
	v.SetDefault("app.name", "insureledger")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")

	v.SetDefault("store.driver", "badger")
	v.SetDefault("store.data_dir", "data")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", "5m")
	v.SetDefault("postgres.migrations_dir", "migrations")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9091")

	v.SetDefault("engine.pool_key", "main")
	v.SetDefault("engine.governance_key", "main")
	v.SetDefault("engine.persist_chan_size", 1024)
	v.SetDefault("engine.projection_chan_size", 2048)
	v.SetDefault("engine.queue_size", 4096)
	v.SetDefault("engine.lru_capacity", 1_000_000)
	v.SetDefault("engine.conflict_retries", 3)

	v.SetDefault("persistence.batch_size", 50)
	v.SetDefault("persistence.flush_timeout", "10ms")
	v.SetDefault("persistence.checkpoint_interval", 100_000)

	v.SetDefault("projection.sqlite_path", "data/projections.db")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "badger":
		if c.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the badger driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory or badger, got %q", c.Store.Driver)
	}
	if c.Engine.PoolKey == "" || len(c.Engine.PoolKey) > 32 || strings.ContainsAny(c.Engine.PoolKey, ":/") {
		return fmt.Errorf("engine.pool_key %q must be 1-32 chars without ':' or '/'", c.Engine.PoolKey)
	}
	if c.Engine.PersistChanSize <= 0 || c.Engine.ProjectionChanSize <= 0 || c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine channel sizes must be greater than zero")
	}
	if c.Engine.LRUCapacity <= 0 {
		return fmt.Errorf("engine.lru_capacity must be greater than zero")
	}
	if c.Engine.ConflictRetries < 0 {
		return fmt.Errorf("engine.conflict_retries cannot be negative")
	}
	if c.Persistence.BatchSize <= 0 {
		return fmt.Errorf("persistence.batch_size must be greater than zero")
	}
	if c.Persistence.FlushTimeout <= 0 {
		return fmt.Errorf("persistence.flush_timeout must be greater than zero")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	return nil
}

// PostgresEnabled reports whether the event log is configured.
func (c *Config) PostgresEnabled() bool {
	return c.Postgres.DSN != ""
}
