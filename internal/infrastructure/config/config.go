package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FULFILLMENT_SYNC_MAX_ATTEMPTS
const EnvPrefix = "FULFILLMENT"

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	CRM        CRMConfig
	Sync       SyncConfig
	Compliance ComplianceConfig
	Archive    ArchiveConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	SQLitePath      string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings. When disabled, group claims
// are held in process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds the operational API server settings
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBodyBytes caps request bodies on the operational API
	MaxBodyBytes int64
}

// CRMConfig holds the external CRM connection settings
type CRMConfig struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// TokenRefreshSlack refreshes the access token this long before expiry
	TokenRefreshSlack time.Duration
}

// SyncConfig holds orchestrator and scheduler settings
type SyncConfig struct {
	Enabled             bool
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	Jitter              float64
	CallTimeout         time.Duration
	MaxConcurrentGroups int
	Workers             int
	PollInterval        time.Duration
	BatchSize           int
	ClaimTTL            time.Duration
	OrderTimeout        time.Duration
}

// ComplianceConfig holds regulated quantity limits
type ComplianceConfig struct {
	PerOrderRegulatedLimit int
	RollingRegulatedLimit  int
	RollingWindow          time.Duration
}

// ArchiveConfig holds the ledger archive bucket settings
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled         bool
	MetricsEnabled  bool
	CollectorURL    string
	SamplingRatio   float64
	Insecure        bool
	DBTraceEnabled  bool
	DBLogFullSQL    bool
	MetricsInterval time.Duration
}

// Load reads config.toml (when present) and FULFILLMENT_* environment overrides
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
			MaxBodyBytes: v.GetInt64("http.max_body_bytes"),
		},
		CRM: CRMConfig{
			BaseURL:           v.GetString("crm.base_url"),
			TokenURL:          v.GetString("crm.token_url"),
			ClientID:          v.GetString("crm.client_id"),
			ClientSecret:      v.GetString("crm.client_secret"),
			RefreshToken:      v.GetString("crm.refresh_token"),
			Timeout:           v.GetDuration("crm.timeout"),
			RequestsPerSecond: v.GetFloat64("crm.requests_per_second"),
			Burst:             v.GetInt("crm.burst"),
			TokenRefreshSlack: v.GetDuration("crm.token_refresh_slack"),
		},
		Sync: SyncConfig{
			Enabled:             v.GetBool("sync.enabled"),
			MaxAttempts:         v.GetInt("sync.max_attempts"),
			BaseDelay:           v.GetDuration("sync.base_delay"),
			MaxDelay:            v.GetDuration("sync.max_delay"),
			Multiplier:          v.GetFloat64("sync.multiplier"),
			Jitter:              v.GetFloat64("sync.jitter"),
			CallTimeout:         v.GetDuration("sync.call_timeout"),
			MaxConcurrentGroups: v.GetInt("sync.max_concurrent_groups"),
			Workers:             v.GetInt("sync.workers"),
			PollInterval:        v.GetDuration("sync.poll_interval"),
			BatchSize:           v.GetInt("sync.batch_size"),
			ClaimTTL:            v.GetDuration("sync.claim_ttl"),
			OrderTimeout:        v.GetDuration("sync.order_timeout"),
		},
		Compliance: ComplianceConfig{
			PerOrderRegulatedLimit: v.GetInt("compliance.per_order_regulated_limit"),
			RollingRegulatedLimit:  v.GetInt("compliance.rolling_regulated_limit"),
			RollingWindow:          v.GetDuration("compliance.rolling_window"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("archive.enabled"),
			Bucket:          v.GetString("archive.bucket"),
			Prefix:          v.GetString("archive.prefix"),
			Region:          v.GetString("archive.region"),
			Endpoint:        v.GetString("archive.endpoint"),
			AccessKeyID:     v.GetString("archive.access_key_id"),
			SecretAccessKey: v.GetString("archive.secret_access_key"),
			UsePathStyle:    v.GetBool("archive.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:         v.GetBool("telemetry.enabled"),
			MetricsEnabled:  v.GetBool("telemetry.metrics_enabled"),
			CollectorURL:    v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:   v.GetFloat64("telemetry.sampling_ratio"),
			Insecure:        v.GetBool("telemetry.insecure"),
			DBTraceEnabled:  v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:    v.GetBool("telemetry.db_log_full_sql"),
			MetricsInterval: v.GetDuration("telemetry.metrics_interval"),
		},
	}

	if !v.IsSet("sync.enabled") {
		cfg.Sync.Enabled = true
	}
	if !v.IsSet("telemetry.sampling_ratio") {
		cfg.Telemetry.SamplingRatio = 1.0
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fulfillment-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "fulfillment.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fulfillment"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}

	if cfg.CRM.Timeout == 0 {
		cfg.CRM.Timeout = 15 * time.Second
	}
	if cfg.CRM.RequestsPerSecond == 0 {
		cfg.CRM.RequestsPerSecond = 10
	}
	if cfg.CRM.Burst == 0 {
		cfg.CRM.Burst = 5
	}
	if cfg.CRM.TokenRefreshSlack == 0 {
		cfg.CRM.TokenRefreshSlack = time.Minute
	}

	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.BaseDelay == 0 {
		cfg.Sync.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Sync.MaxDelay == 0 {
		cfg.Sync.MaxDelay = 30 * time.Second
	}
	if cfg.Sync.Multiplier == 0 {
		cfg.Sync.Multiplier = 2.0
	}
	if cfg.Sync.Jitter == 0 {
		cfg.Sync.Jitter = 0.5
	}
	if cfg.Sync.CallTimeout == 0 {
		cfg.Sync.CallTimeout = 10 * time.Second
	}
	if cfg.Sync.MaxConcurrentGroups == 0 {
		cfg.Sync.MaxConcurrentGroups = 4
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.PollInterval == 0 {
		cfg.Sync.PollInterval = 30 * time.Second
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Sync.ClaimTTL == 0 {
		cfg.Sync.ClaimTTL = 2 * time.Minute
	}
	if cfg.Sync.OrderTimeout == 0 {
		cfg.Sync.OrderTimeout = 5 * time.Minute
	}

	if cfg.Compliance.PerOrderRegulatedLimit == 0 {
		cfg.Compliance.PerOrderRegulatedLimit = 10
	}
	if cfg.Compliance.RollingWindow == 0 {
		cfg.Compliance.RollingWindow = 5 * 24 * time.Hour
	}

	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "activity"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}

	if cfg.Telemetry.CollectorURL == "" {
		cfg.Telemetry.CollectorURL = "localhost:4317"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.Sync.BaseDelay > c.Sync.MaxDelay {
		return fmt.Errorf("sync.base_delay (%s) cannot exceed sync.max_delay (%s)", c.Sync.BaseDelay, c.Sync.MaxDelay)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync.jitter must be between 0 and 1, got %f", c.Sync.Jitter)
	}
	if c.Sync.Multiplier < 1 {
		return fmt.Errorf("sync.multiplier must be at least 1, got %f", c.Sync.Multiplier)
	}
	if c.Sync.MaxConcurrentGroups < 1 || c.Sync.Workers < 1 {
		return fmt.Errorf("sync.max_concurrent_groups and sync.workers must be positive")
	}
	if c.Compliance.PerOrderRegulatedLimit < 0 || c.Compliance.RollingRegulatedLimit < 0 {
		return fmt.Errorf("compliance limits cannot be negative")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is true")
	}

	if c.App.Env == "production" {
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.CRM.BaseURL == "" || c.CRM.TokenURL == "" {
			return fmt.Errorf("crm.base_url and crm.token_url are required in production")
		}
		if c.CRM.ClientID == "" || c.CRM.ClientSecret == "" || c.CRM.RefreshToken == "" {
			return fmt.Errorf("crm client credentials are required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
