// Package config loads the conductor service configuration from a YAML
// file and CONDUCTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/observability"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// Cluster backends.
const (
	ClusterStore      = "store"
	ClusterKubernetes = "kubernetes"
)

// EnvPrefix prefixes every environment override, e.g.
// CONDUCTOR_SERVER_ADDR or CONDUCTOR_STORE_POSTGRES_DSN.
const EnvPrefix = "CONDUCTOR"

// Config holds the configuration for the service.
type Config struct {
	LogLevel      string                    `mapstructure:"log_level"`
	Server        ServerConfig              `mapstructure:"server"`
	Store         StoreConfig               `mapstructure:"store"`
	Cluster       ClusterConfig             `mapstructure:"cluster"`
	Conductor     ConductorConfig           `mapstructure:"conductor"`
	Catalog       string                    `mapstructure:"catalog"`
	Metadata      MetadataConfig            `mapstructure:"metadata"`
	Purge         []PurgeSchedule           `mapstructure:"purge"`
	Audit         AuditConfig               `mapstructure:"audit"`
	Observability observability.SetupConfig `mapstructure:"observability"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Migrate  bool           `mapstructure:"migrate"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig configures the Redis backend. Several addresses select a
// cluster client.
type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

// ClusterConfig selects where membership and scheduler leadership live:
// in the task store, or in the Kubernetes API.
type ClusterConfig struct {
	Backend    string           `mapstructure:"backend"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
}

// KubernetesConfig configures the Lease based cluster backend. An empty
// Kubeconfig uses the in-cluster service account.
type KubernetesConfig struct {
	Namespace     string `mapstructure:"namespace"`
	LeaseName     string `mapstructure:"lease_name"`
	LabelSelector string `mapstructure:"label_selector"`
	Kubeconfig    string `mapstructure:"kubeconfig"`
}

// ConductorConfig mirrors conductor.Config.
type ConductorConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Queues             []string      `mapstructure:"queues"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	StaleTaskThreshold time.Duration `mapstructure:"stale_task_threshold"`
	ConflictRetries    int           `mapstructure:"conflict_retries"`
	StatusCacheSize    int           `mapstructure:"status_cache_size"`
}

// MetadataConfig points at the metadata service that records which
// workflows each owner still tracks.
type MetadataConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuditConfig controls the audit trail written to the log. An empty
// action list records every action.
type AuditConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Actions []string `mapstructure:"actions"`
}

// PurgeSchedule runs a purge for one owner on a cron schedule.
type PurgeSchedule struct {
	Schedule      string        `mapstructure:"schedule"`
	OwnerTag      string        `mapstructure:"owner_tag"`
	Definitions   []string      `mapstructure:"definitions"`
	OlderThan     time.Duration `mapstructure:"older_than"`
	MaxPurgeCount int           `mapstructure:"max_purge_count"`
}

// setDefaults registers every scalar key so that environment variables
// override them even when the file omits the key.
func setDefaults(v *viper.Viper) {
	d := conductor.DefaultConfig()

	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.migrate", true)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "conductor")
	v.SetDefault("store.redis.addrs", []string{"localhost:6379"})
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)

	v.SetDefault("cluster.backend", ClusterStore)
	v.SetDefault("cluster.kubernetes.namespace", "default")
	v.SetDefault("cluster.kubernetes.lease_name", "conductor-leader")
	v.SetDefault("cluster.kubernetes.label_selector", "app.kubernetes.io/component=conductor")
	v.SetDefault("cluster.kubernetes.kubeconfig", "")

	v.SetDefault("conductor.concurrency", d.Concurrency)
	v.SetDefault("conductor.queues", d.Queues)
	v.SetDefault("conductor.poll_interval", d.PollInterval)
	v.SetDefault("conductor.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("conductor.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("conductor.stale_task_threshold", d.StaleTaskThreshold)
	v.SetDefault("conductor.conflict_retries", d.ConflictRetries)
	v.SetDefault("conductor.status_cache_size", 1024)

	v.SetDefault("catalog", "")

	v.SetDefault("metadata.url", "")
	v.SetDefault("metadata.token", "")
	v.SetDefault("metadata.timeout", 30*time.Second)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.actions", []string{})

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "")
	v.SetDefault("observability.insecure", false)
	v.SetDefault("observability.service_name", "conductor")
	v.SetDefault("observability.metric_interval", time.Minute)
}

// Load reads path, when set and present, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistency in cfg.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendMongo, BackendRedis:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	switch c.Cluster.Backend {
	case ClusterStore:
	case ClusterKubernetes:
		if c.Cluster.Kubernetes.Namespace == "" {
			return errors.New("config: cluster.kubernetes.namespace is required for the kubernetes cluster backend")
		}
	default:
		return fmt.Errorf("config: unknown cluster backend %q", c.Cluster.Backend)
	}

	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	for i, p := range c.Purge {
		if p.Schedule == "" || p.OwnerTag == "" {
			return fmt.Errorf("config: purge[%d] needs schedule and owner_tag", i)
		}
		if p.MaxPurgeCount <= 0 {
			return fmt.Errorf("config: purge[%d] max_purge_count must be positive", i)
		}
	}
	if len(c.Purge) > 0 && c.Metadata.URL == "" {
		return errors.New("config: purge schedules need metadata.url")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

// ConductorConfig converts the conductor section.
func (c Config) ConductorConfig() conductor.Config {
	return conductor.Config{
		Concurrency:        c.Conductor.Concurrency,
		Queues:             c.Conductor.Queues,
		PollInterval:       c.Conductor.PollInterval,
		ShutdownTimeout:    c.Conductor.ShutdownTimeout,
		HeartbeatInterval:  c.Conductor.HeartbeatInterval,
		StaleTaskThreshold: c.Conductor.StaleTaskThreshold,
		ConflictRetries:    c.Conductor.ConflictRetries,
		StatusCacheSize:    c.Conductor.StatusCacheSize,
	}
}
