package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxConcurrency  = 10
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultSyncStatusTable = "sync_status"
	DefaultRoutingFile     = "config/routing.yml"
)

type Config struct {
	Quoteflow    QuoteflowConfig `yaml:"quoteflow"`
	Logging      LoggingConfig   `yaml:"logging"`
	Sync         SyncConfig      `yaml:"sync"`
	Invoker      InvokerConfig   `yaml:"invoker"`
	Providers    ProvidersConfig `yaml:"providers"`
	Storage      StorageConfig   `yaml:"storage"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Notify       NotifyConfig    `yaml:"notify"`
	RoutingFile  string          `yaml:"routing_file"`
	UniverseFile string          `yaml:"universe_file"`
}

type QuoteflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// SyncConfig bounds the orchestrator's fan-out.
type SyncConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	UnitTimeout    time.Duration `yaml:"unit_timeout"`
	Chunk          time.Duration `yaml:"chunk"`
	Lookback       time.Duration `yaml:"lookback"`
	IntradayPeriod string        `yaml:"intraday_period"`
}

// InvokerConfig is the per-adapter call policy. Providers may override it
// field by field.
type InvokerConfig struct {
	MinInterval    time.Duration        `yaml:"min_interval"`
	MaxRetries     int                  `yaml:"max_retries"`
	RetryDelay     time.Duration        `yaml:"retry_delay"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type CircuitBreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ProvidersConfig struct {
	Binance   BinanceProviderConfig   `yaml:"binance"`
	Bybit     BybitProviderConfig     `yaml:"bybit"`
	Kucoin    KucoinProviderConfig    `yaml:"kucoin"`
	RestAPI   RestAPIProviderConfig   `yaml:"restapi"`
	Reference ReferenceProviderConfig `yaml:"reference"`
}

type BinanceProviderConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	PageLimit      int                  `yaml:"page_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Invoker        *InvokerConfig       `yaml:"invoker"`
}

type BybitProviderConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	BaseURL        string               `yaml:"base_url"`
	Category       string               `yaml:"category"`
	Timeout        time.Duration        `yaml:"timeout"`
	PageLimit      int                  `yaml:"page_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Invoker        *InvokerConfig       `yaml:"invoker"`
}

type KucoinProviderConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	PageLimit      int                  `yaml:"page_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Invoker        *InvokerConfig       `yaml:"invoker"`
}

type RestAPIProviderConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Name           string               `yaml:"name"`
	BaseURL        string               `yaml:"base_url"`
	Token          string               `yaml:"token"`
	Timeout        time.Duration        `yaml:"timeout"`
	Operations     []string             `yaml:"operations"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Invoker        *InvokerConfig       `yaml:"invoker"`
}

type ReferenceProviderConfig struct {
	Enabled bool           `yaml:"enabled"`
	Path    string         `yaml:"path"`
	Invoker *InvokerConfig `yaml:"invoker"`
}

type StorageConfig struct {
	TimeSeries TimeSeriesConfig `yaml:"timeseries"`
	Relational RelationalConfig `yaml:"relational"`
}

type TimeSeriesConfig struct {
	Driver     string           `yaml:"driver"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	S3         S3Config         `yaml:"s3"`
}

type ClickHouseConfig struct {
	Addr         []string      `yaml:"addr"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Metadata        bool   `yaml:"metadata"`
}

type RelationalConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	SyncStatusTable string        `yaml:"sync_status_table"`
	// SkipMigrate leaves routed tables to be provisioned externally.
	SkipMigrate bool `yaml:"skip_migrate"`
}

type MetricsConfig struct {
	Enabled        bool             `yaml:"enabled"`
	Address        string           `yaml:"address"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type NotifyConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	AlertTopic string   `yaml:"alert_topic"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// ProviderInvoker returns the global invoker policy with any non-zero
// fields of the provider override applied.
func (c *Config) ProviderInvoker(override *InvokerConfig) InvokerConfig {
	out := c.Invoker
	if override == nil {
		return out
	}
	if override.MinInterval > 0 {
		out.MinInterval = override.MinInterval
	}
	if override.MaxRetries > 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.RetryDelay > 0 {
		out.RetryDelay = override.RetryDelay
	}
	if override.RateLimit.RequestsPerSecond > 0 {
		out.RateLimit = override.RateLimit
	}
	if override.CircuitBreaker.Enabled {
		out.CircuitBreaker = override.CircuitBreaker
	}
	return out
}

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg := Config{
		Sync: SyncConfig{
			MaxConcurrency: DefaultMaxConcurrency,
			IntradayPeriod: "1m",
		},
		Invoker: InvokerConfig{
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
		},
		Storage: StorageConfig{
			TimeSeries: TimeSeriesConfig{Driver: "memory"},
			Relational: RelationalConfig{Driver: "memory", SyncStatusTable: DefaultSyncStatusTable},
		},
		Metrics:     MetricsConfig{Address: ":9102"},
		RoutingFile: DefaultRoutingFile,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("failed to parse config file: %w", err)}
	}

	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		err.Source = path
		return nil, err
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	s3 := &cfg.Storage.TimeSeries.S3
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		s3.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		s3.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && s3.Region == "" {
		s3.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		s3.Bucket = v
	}
	s3.Bucket = strings.TrimSpace(s3.Bucket)

	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.Storage.TimeSeries.ClickHouse.Password = v
	}
	if v := os.Getenv("RELATIONAL_DSN"); v != "" {
		cfg.Storage.Relational.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESTAPI_TOKEN"); v != "" {
		cfg.Providers.RestAPI.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.Kafka.Brokers = strings.Split(v, ",")
	}
}

func validateConfig(cfg *Config) *ConfigurationError {
	if cfg.Quoteflow.Name == "" {
		return configErr("", "quoteflow.name", "is required")
	}
	if cfg.Quoteflow.Version == "" {
		return configErr("", "quoteflow.version", "is required")
	}

	if cfg.Sync.MaxConcurrency <= 0 {
		return configErr("", "sync.max_concurrency", "must be greater than 0")
	}
	if cfg.Sync.UnitTimeout < 0 {
		return configErr("", "sync.unit_timeout", "must not be negative")
	}
	if cfg.Sync.Chunk < 0 {
		return configErr("", "sync.chunk", "must not be negative")
	}

	if err := validateInvoker("invoker", cfg.Invoker); err != nil {
		return err
	}
	for key, override := range map[string]*InvokerConfig{
		"providers.binance.invoker":   cfg.Providers.Binance.Invoker,
		"providers.bybit.invoker":     cfg.Providers.Bybit.Invoker,
		"providers.kucoin.invoker":    cfg.Providers.Kucoin.Invoker,
		"providers.restapi.invoker":   cfg.Providers.RestAPI.Invoker,
		"providers.reference.invoker": cfg.Providers.Reference.Invoker,
	} {
		if override == nil {
			continue
		}
		if err := validateInvoker(key, cfg.ProviderInvoker(override)); err != nil {
			return err
		}
	}

	if cfg.Providers.RestAPI.Enabled && cfg.Providers.RestAPI.BaseURL == "" {
		return configErr("", "providers.restapi.base_url", "is required when the provider is enabled")
	}
	if cfg.Providers.Reference.Enabled && cfg.Providers.Reference.Path == "" {
		return configErr("", "providers.reference.path", "is required when the provider is enabled")
	}

	switch cfg.Storage.TimeSeries.Driver {
	case "memory":
	case "clickhouse":
		if len(cfg.Storage.TimeSeries.ClickHouse.Addr) == 0 {
			return configErr("", "storage.timeseries.clickhouse.addr", "is required for the clickhouse driver")
		}
	case "s3":
		s3 := cfg.Storage.TimeSeries.S3
		if s3.Bucket == "" {
			return configErr("", "storage.timeseries.s3.bucket", "is required for the s3 driver")
		}
		if s3.Region == "" {
			return configErr("", "storage.timeseries.s3.region", "is required for the s3 driver")
		}
		if !isValidS3Bucket(s3.Bucket) {
			return configErr("", "storage.timeseries.s3.bucket", "'%s' is invalid", s3.Bucket)
		}
	default:
		return configErr("", "storage.timeseries.driver", "unsupported driver %q", cfg.Storage.TimeSeries.Driver)
	}

	switch cfg.Storage.Relational.Driver {
	case "memory":
	case "postgres", "mysql":
		if cfg.Storage.Relational.DSN == "" {
			return configErr("", "storage.relational.dsn", "is required for the %s driver", cfg.Storage.Relational.Driver)
		}
	default:
		return configErr("", "storage.relational.driver", "unsupported driver %q", cfg.Storage.Relational.Driver)
	}
	if cfg.Storage.Relational.SyncStatusTable == "" {
		return configErr("", "storage.relational.sync_status_table", "is required")
	}

	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 {
			return configErr("", "notify.kafka.brokers", "is required when kafka is enabled")
		}
		if cfg.Notify.Kafka.Topic == "" {
			return configErr("", "notify.kafka.topic", "is required when kafka is enabled")
		}
	}

	return nil
}

func validateInvoker(key string, inv InvokerConfig) *ConfigurationError {
	if inv.MaxRetries <= 0 {
		return configErr("", key+".max_retries", "must be greater than 0")
	}
	if inv.MinInterval < 0 || inv.RetryDelay < 0 {
		return configErr("", key, "intervals must not be negative")
	}
	if inv.RateLimit.RequestsPerSecond < 0 || inv.RateLimit.BurstSize < 0 {
		return configErr("", key+".rate_limit", "must not be negative")
	}
	if inv.CircuitBreaker.Enabled && inv.CircuitBreaker.FailureThreshold <= 0 {
		return configErr("", key+".circuit_breaker.failure_threshold", "must be greater than 0 when enabled")
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
