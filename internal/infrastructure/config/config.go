package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gatekeep Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServiceConfig contains deployment-specific information.
type ServiceConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the optional
// security event publisher.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings for the security
// event stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for optional
// authentication telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Tokens   TokenConfig    `yaml:"tokens"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

// JWTConfig contains session credential settings. Durations are minutes.
type JWTConfig struct {
	Secret           string `yaml:"secret"`
	SessionWindow    int    `yaml:"session_window"`
	RefreshThreshold int    `yaml:"refresh_threshold"`
}

// TokenConfig contains one-time token lifetimes. Durations are minutes.
type TokenConfig struct {
	ActivationTTL int `yaml:"activation_ttl"`
	ResetTTL      int `yaml:"reset_ttl"`
}

// ThrottleConfig contains login throttle thresholds.
// LockDuration and AttemptRetention are minutes.
type ThrottleConfig struct {
	AccountFailLimit int `yaml:"account_fail_limit"`
	AddressFailLimit int `yaml:"address_fail_limit"`
	LockDuration     int `yaml:"lock_duration"`
	AttemptRetention int `yaml:"attempt_retention"`
}

// NotifyConfig contains outbound notification settings.
type NotifyConfig struct {
	// Mode selects the dispatcher: "smtp" sends real mail, "log" writes
	// token links to the service log (development only).
	Mode string     `yaml:"mode"`
	SMTP SMTPConfig `yaml:"smtp"`
	// BaseURL is the externally visible URL prefix used to build
	// activation and reset links.
	BaseURL string `yaml:"base_url"`
	// FromAddress is the envelope sender for outbound mail.
	FromAddress string `yaml:"from_address"`
}

// SMTPConfig contains SMTP relay connection details.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GATEKEEP_SECTION_KEY
// For example: GATEKEEP_DATABASE_PATH, GATEKEEP_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:          "gatekeep-001",
			Name:        "Gatekeep",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:        "./data/gatekeep.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gatekeep-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				SessionWindow:    20,
				RefreshThreshold: 5,
			},
			Tokens: TokenConfig{
				ActivationTTL: 1440,
				ResetTTL:      60,
			},
			Throttle: ThrottleConfig{
				AccountFailLimit: 6,
				AddressFailLimit: 20,
				LockDuration:     15,
				AttemptRetention: 2880,
			},
		},
		Notify: NotifyConfig{
			Mode:        "log",
			BaseURL:     "http://localhost:8080",
			FromAddress: "no-reply@gatekeep.local",
			SMTP: SMTPConfig{
				Host: "localhost",
				Port: 587,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GATEKEEP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GATEKEEP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GATEKEEP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATEKEEP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GATEKEEP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GATEKEEP_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GATEKEEP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("GATEKEEP_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Notify
	if v := os.Getenv("GATEKEEP_SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTP.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Service validation
	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// An empty or weak secret would let anyone forge session credentials
	// and impersonate any account, including system admins.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GATEKEEP_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.JWT.RefreshThreshold >= c.Security.JWT.SessionWindow && c.Security.JWT.SessionWindow > 0 {
		errs = append(errs, "security.jwt.refresh_threshold must be shorter than session_window")
	}

	// Notify validation
	switch c.Notify.Mode {
	case "smtp", "log":
	default:
		errs = append(errs, "notify.mode must be \"smtp\" or \"log\"")
	}
	if c.Notify.Mode == "smtp" && c.Notify.SMTP.Host == "" {
		errs = append(errs, "notify.smtp.host is required when notify.mode is smtp")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// SessionWindow returns the session credential lifetime as a Duration.
func (c *Config) SessionWindow() time.Duration {
	return time.Duration(c.Security.JWT.SessionWindow) * time.Minute
}

// RefreshThreshold returns the rotation threshold as a Duration.
func (c *Config) RefreshThreshold() time.Duration {
	return time.Duration(c.Security.JWT.RefreshThreshold) * time.Minute
}

// ActivationTTL returns the activation token lifetime as a Duration.
func (c *Config) ActivationTTL() time.Duration {
	return time.Duration(c.Security.Tokens.ActivationTTL) * time.Minute
}

// ResetTTL returns the password reset token lifetime as a Duration.
func (c *Config) ResetTTL() time.Duration {
	return time.Duration(c.Security.Tokens.ResetTTL) * time.Minute
}

// LockDuration returns the throttle lock duration as a Duration.
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.Security.Throttle.LockDuration) * time.Minute
}

// AttemptRetention returns the attempt log retention as a Duration.
func (c *Config) AttemptRetention() time.Duration {
	return time.Duration(c.Security.Throttle.AttemptRetention) * time.Minute
}
