package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Rental    RentalConfig    `yaml:"rental"`
	Device    DeviceConfig    `yaml:"device"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "postgres" or "memory"
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	DeviceSecret      string `yaml:"device_secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
	Issuer            string `yaml:"issuer"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// RentalConfig contains rental pricing and policy settings. Money values are
// strings so they parse exactly into decimals.
type RentalConfig struct {
	PointsPerCurrencyUnit      int64  `yaml:"points_per_currency_unit"`
	MinBatteryLevel            int32  `yaml:"min_battery_level"`
	LateRatePerHour            string `yaml:"late_rate_per_hour"`
	PostpaidMaxDurationMinutes int32  `yaml:"postpaid_max_duration_minutes"`
	PostpaidMinWallet          string `yaml:"postpaid_min_wallet"`
	CompletionBonusPoints      int64  `yaml:"completion_bonus_points"`
	OnTimeBonusPoints          int64  `yaml:"on_time_bonus_points"`
	CancelWindowMinutes        int32  `yaml:"cancel_window_minutes"` // 0 disables cancelling an ACTIVE rental by time
	PendingTimeoutMinutes      int32  `yaml:"pending_timeout_minutes"`
	DueSoonMinutes             int32  `yaml:"due_soon_minutes"`
	MaxExtensions              int32  `yaml:"max_extensions"` // 0 = unlimited

	lateRate    decimal.Decimal
	postpaidMin decimal.Decimal
}

// LateRate returns the parsed late_rate_per_hour
func (r RentalConfig) LateRate() decimal.Decimal {
	return r.lateRate
}

// PostpaidMinWalletAmount returns the parsed postpaid_min_wallet
func (r RentalConfig) PostpaidMinWalletAmount() decimal.Decimal {
	return r.postpaidMin
}

// DeviceConfig contains device gateway settings
type DeviceConfig struct {
	Type                   string  `yaml:"type"` // "http" or "mock"
	BaseURL                string  `yaml:"base_url"`
	ServiceID              string  `yaml:"service_id"`
	DispenseTimeoutSeconds int     `yaml:"dispense_timeout_seconds"`
	MockFailureRate        float64 `yaml:"mock_failure_rate"`
}

// DispenseTimeout returns the dispense timeout as a duration
func (d DeviceConfig) DispenseTimeout() time.Duration {
	return time.Duration(d.DispenseTimeoutSeconds) * time.Second
}

// EventsConfig contains domain event publishing settings
type EventsConfig struct {
	Type        string `yaml:"type"` // "outbox", "sqs" or "log"
	SQSQueueURL string `yaml:"sqs_queue_url"`
	AWSRegion   string `yaml:"aws_region"`
}

// RateLimitConfig contains per-user request rate limits
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	SweepOverdueRentals   string `yaml:"sweep_overdue_rentals"`
	SendDueSoonReminders  string `yaml:"send_due_soon_reminders"`
	SettleOutstandingDues string `yaml:"settle_outstanding_dues"`
	ReapStalePending      string `yaml:"reap_stale_pending"`
	VerifyLedger          string `yaml:"verify_ledger"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying environment overrides
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	cfg.overrideWithEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}
	if val := os.Getenv("JWT_DEVICE_SECRET"); val != "" {
		c.JWT.DeviceSecret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Device gateway
	if val := os.Getenv("DEVICE_GATEWAY_TYPE"); val != "" {
		c.Device.Type = val
	}
	if val := os.Getenv("DEVICE_GATEWAY_URL"); val != "" {
		c.Device.BaseURL = val
	}

	// Events
	if val := os.Getenv("EVENTS_TYPE"); val != "" {
		c.Events.Type = val
	}
	if val := os.Getenv("SQS_QUEUE_URL"); val != "" {
		c.Events.SQSQueueURL = val
	}
	if val := os.Getenv("AWS_REGION"); val != "" {
		c.Events.AWSRegion = val
	}

	// Rental
	if val := os.Getenv("RENTAL_LATE_RATE_PER_HOUR"); val != "" {
		c.Rental.LateRatePerHour = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	// Database validation
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.DeviceSecret == "" {
		c.JWT.DeviceSecret = c.JWT.Secret
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "powerbank-rental"
	}

	if err := c.Rental.validate(); err != nil {
		return err
	}

	// Device gateway
	if c.Device.Type == "" {
		c.Device.Type = "mock"
	}
	switch c.Device.Type {
	case "http":
		if c.Device.BaseURL == "" {
			return fmt.Errorf("device gateway base_url is required for http gateway")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported device gateway type: %s", c.Device.Type)
	}
	if c.Device.DispenseTimeoutSeconds == 0 {
		c.Device.DispenseTimeoutSeconds = 30
	}
	if c.Device.ServiceID == "" {
		c.Device.ServiceID = "rental-core"
	}
	if c.Device.MockFailureRate < 0 || c.Device.MockFailureRate > 1 {
		return fmt.Errorf("mock_failure_rate must be between 0 and 1")
	}
	// The reaper must never see a rental whose dispense is still in flight.
	if int64(c.Rental.PendingTimeoutMinutes)*60 <= int64(c.Device.DispenseTimeoutSeconds) {
		return fmt.Errorf("rental pending_timeout_minutes (%d) must be longer than device dispense_timeout_seconds (%d)",
			c.Rental.PendingTimeoutMinutes, c.Device.DispenseTimeoutSeconds)
	}

	// Events
	if c.Events.Type == "" {
		c.Events.Type = "outbox"
	}
	switch c.Events.Type {
	case "sqs":
		if c.Events.SQSQueueURL == "" {
			return fmt.Errorf("sqs_queue_url is required for sqs events")
		}
	case "outbox", "log":
	default:
		return fmt.Errorf("unsupported events type: %s", c.Events.Type)
	}

	// Rate limit defaults
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "powerbank"
	}

	// Scheduler defaults
	if c.Scheduler.SweepOverdueRentals == "" {
		c.Scheduler.SweepOverdueRentals = "0 */5 * * * *" // Every 5 minutes
	}
	if c.Scheduler.SendDueSoonReminders == "" {
		c.Scheduler.SendDueSoonReminders = "0 * * * * *" // Every minute
	}
	if c.Scheduler.SettleOutstandingDues == "" {
		c.Scheduler.SettleOutstandingDues = "0 0 * * * *" // Hourly
	}
	if c.Scheduler.ReapStalePending == "" {
		c.Scheduler.ReapStalePending = "30 * * * * *" // Every minute at :30
	}
	if c.Scheduler.VerifyLedger == "" {
		c.Scheduler.VerifyLedger = "0 30 3 * * *" // 3:30 AM UTC
	}

	return nil
}

func (r *RentalConfig) validate() error {
	if r.PointsPerCurrencyUnit == 0 {
		r.PointsPerCurrencyUnit = 10
	}
	if r.PointsPerCurrencyUnit < 0 {
		return fmt.Errorf("points_per_currency_unit must be positive")
	}
	if r.MinBatteryLevel == 0 {
		r.MinBatteryLevel = 20
	}
	if r.MinBatteryLevel < 0 || r.MinBatteryLevel > 100 {
		return fmt.Errorf("min_battery_level must be between 0 and 100: %d", r.MinBatteryLevel)
	}
	if r.PostpaidMaxDurationMinutes == 0 {
		r.PostpaidMaxDurationMinutes = 1440
	}
	if r.PendingTimeoutMinutes == 0 {
		r.PendingTimeoutMinutes = 5
	}
	if r.DueSoonMinutes == 0 {
		r.DueSoonMinutes = 15
	}
	if r.CancelWindowMinutes < 0 || r.MaxExtensions < 0 {
		return fmt.Errorf("cancel_window_minutes and max_extensions cannot be negative")
	}

	var err error
	if r.lateRate, err = parseMoney("late_rate_per_hour", r.LateRatePerHour, "25.00"); err != nil {
		return err
	}
	if r.postpaidMin, err = parseMoney("postpaid_min_wallet", r.PostpaidMinWallet, "0"); err != nil {
		return err
	}
	return nil
}

func parseMoney(name, value, fallback string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s cannot be negative", name)
	}
	return d.Round(2), nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
