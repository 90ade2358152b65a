package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "RETINAGUARD"

// envKeys lists every leaf key so AutomaticEnv can see variables that have no
// counterpart in the config file.
var envKeys = []string{
	"server.port", "server.mode", "server.read_timeout", "server.write_timeout", "server.shutdown_timeout",
	"server.rate_limit.requests_per_second", "server.rate_limit.burst", "server.rate_limit.idle_ttl",
	"grpc.port",
	"database.host", "database.port", "database.user", "database.password", "database.db_name",
	"database.ssl_mode", "database.max_conns", "database.max_idle_conns", "database.conn_max_lifetime",
	"database.conn_max_idle_time", "database.statement_timeout", "database.migrate_on_start",
	"redis.addr", "redis.password", "redis.db", "redis.pool_size", "redis.min_idle_conns",
	"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout", "redis.key_prefix",
	"kafka.brokers", "kafka.group_id", "kafka.client_id", "kafka.max_retries", "kafka.retry_backoff",
	"kafka.auto_create_topics", "kafka.num_partitions", "kafka.replication_factor",
	"nats.url", "nats.name", "nats.subject_prefix", "nats.timeout",
	"notification.sink",
	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.use_ssl",
	"alerting.notify_timeout", "alerting.summary_ttl",
	"trend.lookback_days", "trend.scanner.lookback_days", "trend.scanner.concurrency",
	"worker.health_port", "worker.scan_schedule", "worker.scan_clinics", "worker.scan_lock_ttl",
	"worker.archive_findings",
	"auth.enabled", "auth.jwt_secret", "auth.issuer",
	"log.level", "log.format", "log.output",
	"metrics.enabled", "metrics.namespace", "metrics.path",
}

// newViper builds a Viper instance with YAML file type, the RETINAGUARD_ env
// prefix and a "." → "_" key replacer, so "database.host" resolves to
// RETINAGUARD_DATABASE_HOST.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at configPath, merges RETINAGUARD_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from RETINAGUARD_* environment variables alone.
//
//	RETINAGUARD_<SECTION>_<FIELD>   e.g.  RETINAGUARD_DATABASE_HOST
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOptional loads configPath when it is non-empty and falls back to the
// environment otherwise.
func LoadOptional(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch invokes onChange with the re-parsed Config whenever configPath changes
// on disk. Changes that fail to parse or validate are dropped.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad wraps Load and panics on any error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
