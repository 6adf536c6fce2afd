package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Calendar CalendarConfig `yaml:"calendar"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// ServiceConfig identifies the service in logs.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// NATSConfig holds messaging settings for dispatch and inbound AR events.
type NATSConfig struct {
	URL             string `yaml:"url"`
	DispatchSubject string `yaml:"dispatch_subject"` // prefix, channel is appended
	EventsSubject   string `yaml:"events_subject"`   // prefix for inbound AR events
}

// CalendarConfig holds the business-calendar service client settings.
type CalendarConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MonitorConfig holds tuning knobs for the trigger monitor and executions.
type MonitorConfig struct {
	Interval             time.Duration `yaml:"interval"`
	CandidateLimit       int           `yaml:"candidate_limit"`
	WorkerCount          int           `yaml:"worker_count"`
	LookaheadDays        int           `yaml:"lookahead_days"`
	RecentExecutionDays  int           `yaml:"recent_execution_days"`
	DeferHorizon         time.Duration `yaml:"defer_horizon"`
	MinOutstandingCents  int64         `yaml:"min_outstanding_cents"`
	RecentPaymentWindow  time.Duration `yaml:"recent_payment_window"`
	MaxDispatchRetries   int           `yaml:"max_dispatch_retries"`
	ContinueBatchLimit   int           `yaml:"continue_batch_limit"`
}

// Load builds configuration from defaults, an optional config/config.yml and
// environment overrides, then validates.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile("config/config.yml"); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config/config.yml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config/config.yml: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-ar-dunning",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8087,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "dunning",
			Database: "dunning",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			DispatchSubject: "dunning.dispatch",
			EventsSubject:   "ar.events",
		},
		Calendar: CalendarConfig{
			BaseURL: "http://localhost:8090",
			Timeout: 5 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:            time.Hour,
			CandidateLimit:      100,
			WorkerCount:         8,
			LookaheadDays:       7,
			RecentExecutionDays: 30,
			DeferHorizon:        4 * time.Hour,
			MinOutstandingCents: 1000,
			RecentPaymentWindow: 48 * time.Hour,
			MaxDispatchRetries:  3,
			ContinueBatchLimit:  200,
		},
	}
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Service.Environment, "ENVIRONMENT")
	setString(&c.Service.LogLevel, "LOG_LEVEL")
	setInt(&c.Server.Port, "PORT")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Calendar.BaseURL, "CALENDAR_URL")
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Monitor.CandidateLimit <= 0 {
		return fmt.Errorf("monitor candidate_limit must be positive")
	}
	if c.Monitor.WorkerCount <= 0 {
		return fmt.Errorf("monitor worker_count must be positive")
	}
	if c.Monitor.MaxDispatchRetries < 1 {
		return fmt.Errorf("monitor max_dispatch_retries must be at least 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
