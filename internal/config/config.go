package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	LogLevel string         `yaml:"log_level" validate:"required|in:debug,info,warn,error"`
}

type DatabaseConfig struct {
	Driver          string            `yaml:"driver" validate:"required|in:mysql,postgres,sqlite"`
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port" validate:"min:0|max:65535"`
	User            string            `yaml:"user"`
	Password        string            `yaml:"password"`
	DBName          string            `yaml:"dbname" validate:"required"`
	SSLMode         string            `yaml:"sslmode"`
	Params          map[string]string `yaml:"params"`
	Table           string            `yaml:"table" validate:"required"`
	TokenColumn     string            `yaml:"token_column" validate:"required"`
	UpdatedAtColumn string            `yaml:"updated_at_column" validate:"required"`
	ConnectTimeout  time.Duration     `yaml:"connect_timeout"`
}

// DSN returns the data source name in the format the configured driver expects.
// For sqlite DBName is the database file path.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.DBName
		cfg.Timeout = d.ConnectTimeout
		cfg.Params = d.Params
		return cfg.FormatDSN()
	case "sqlite":
		return d.DBName
	default:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
		)
		if d.ConnectTimeout > 0 {
			dsn += fmt.Sprintf(" connect_timeout=%d", int(d.ConnectTimeout.Seconds()))
		}
		return dsn
	}
}

type CacheConfig struct {
	Path     string        `yaml:"path" validate:"required"`
	TTL      time.Duration `yaml:"ttl"`
	Compress bool          `yaml:"compress"`
}

type RefreshConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// IsEnabled reports whether the periodic refresh loop should run. Defaults to true.
func (r RefreshConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

type HTTPConfig struct {
	Addr                 string         `yaml:"addr" validate:"required"`
	ReadTimeout          time.Duration  `yaml:"read_timeout"`
	WriteTimeout         time.Duration  `yaml:"write_timeout"`
	ResponseCacheTTL     *time.Duration `yaml:"response_cache_ttl"`
	ResponseCacheSizeMB  int            `yaml:"response_cache_size_mb"`
	RefreshRatePerMinute float64        `yaml:"refresh_rate_per_minute"`
}

// ResponseTTL returns how long encoded API responses are cached. An explicit 0 disables
// the response cache; an unset value defaults to 5s.
func (h HTTPConfig) ResponseTTL() time.Duration {
	if h.ResponseCacheTTL == nil {
		return 5 * time.Second
	}
	return *h.ResponseCacheTTL
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type RabbitMQConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// ConfigurationError means the service cannot start with the given configuration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "read config file", Err: err}
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, &ConfigurationError{Reason: "parse config", Err: err}
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return &ConfigurationError{Reason: "invalid config", Err: v.Errors}
	}

	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return &ConfigurationError{Reason: "database.host is required"}
		}
		if c.Database.User == "" {
			return &ConfigurationError{Reason: "database.user is required"}
		}
	}
	if c.Cache.TTL <= 0 {
		return &ConfigurationError{Reason: "cache.ttl must be positive"}
	}
	if c.Refresh.Interval <= 0 {
		return &ConfigurationError{Reason: "refresh.interval must be positive"}
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return &ConfigurationError{Reason: "rabbitmq.url is required when rabbitmq is enabled"}
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return &ConfigurationError{Reason: "tracing.endpoint is required when tracing is enabled"}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Table == "" {
		c.Database.Table = "users"
	}
	if c.Database.TokenColumn == "" {
		c.Database.TokenColumn = "cm_firebase_token"
	}
	if c.Database.UpdatedAtColumn == "" {
		c.Database.UpdatedAtColumn = "updated_at"
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 10 * time.Second
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "migration_stats_cache.json"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = 10 * time.Minute
	}
	if c.Refresh.Timeout == 0 {
		c.Refresh.Timeout = 1 * time.Minute
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 2 * time.Minute
	}
	if c.HTTP.ResponseCacheSizeMB == 0 {
		c.HTTP.ResponseCacheSizeMB = 1
	}
	if c.HTTP.RefreshRatePerMinute == 0 {
		c.HTTP.RefreshRatePerMinute = 2
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "migration_dash"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "snapshots"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "migration_snapshots"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
