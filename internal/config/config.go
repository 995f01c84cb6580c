package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Service       ServiceConfig
	Server        ServerConfig
	Database      DatabaseConfig
	Automation    AutomationConfig
	Notifications NotificationsConfig
	Log           LogConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	AutoMigrate bool
}

// AutomationConfig holds the tunable parameters of the decision pipeline.
// Tolerances are fractions (0.05 = 5%).
type AutomationConfig struct {
	AmountTolerance               float64
	VariableServiceTolerance      float64
	MinConfidence                 float64
	InsufficientHistoryConfidence float64
	BatchSize                     int
	Workers                       int
	SweepInterval                 time.Duration
	ProcessOnIngest               bool
}

type NotificationsConfig struct {
	Primary       string // nats | log
	Fallback      string // log | none
	NATSURL       string
	SubjectPrefix string
	MaxAttempts   int
	RetryBackoff  time.Duration
	QueueSize     int
}

type LogConfig struct {
	Level  string
	Format string
}

// DSN returns the Postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// MigrationURL returns the connection URL understood by the pgx/v5 migrate driver
func (c DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-ap-invoice-automation")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.grpc_port", 9086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "ap_invoices")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("automation.amount_tolerance", 0.05)
	v.SetDefault("automation.variable_service_tolerance", 0.10)
	v.SetDefault("automation.min_confidence", 0.85)
	v.SetDefault("automation.insufficient_history_confidence", 0.1)
	v.SetDefault("automation.batch_size", 50)
	v.SetDefault("automation.workers", 4)
	v.SetDefault("automation.sweep_interval", time.Hour)
	v.SetDefault("automation.process_on_ingest", true)

	v.SetDefault("notifications.primary", "log")
	v.SetDefault("notifications.fallback", "none")
	v.SetDefault("notifications.nats_url", "nats://localhost:4222")
	v.SetDefault("notifications.subject_prefix", "notifications.invoices")
	v.SetDefault("notifications.max_attempts", 3)
	v.SetDefault("notifications.retry_backoff", 2*time.Second)
	v.SetDefault("notifications.queue_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
}

// Load reads configuration from defaults, an optional file, a .env file and
// AP_-prefixed environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("AP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			GRPCPort:        v.GetInt("server.grpc_port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("database.host"),
			Port:        v.GetInt("database.port"),
			User:        v.GetString("database.user"),
			Password:    v.GetString("database.password"),
			Database:    v.GetString("database.database"),
			SSLMode:     v.GetString("database.sslmode"),
			MaxConns:    v.GetInt32("database.max_conns"),
			MinConns:    v.GetInt32("database.min_conns"),
			MaxConnTime: v.GetDuration("database.max_conn_time"),
			MaxIdleTime: v.GetDuration("database.max_idle_time"),
			HealthCheck: v.GetDuration("database.health_check"),
			AutoMigrate: v.GetBool("database.auto_migrate"),
		},
		Automation: AutomationConfig{
			AmountTolerance:               v.GetFloat64("automation.amount_tolerance"),
			VariableServiceTolerance:      v.GetFloat64("automation.variable_service_tolerance"),
			MinConfidence:                 v.GetFloat64("automation.min_confidence"),
			InsufficientHistoryConfidence: v.GetFloat64("automation.insufficient_history_confidence"),
			BatchSize:                     v.GetInt("automation.batch_size"),
			Workers:                       v.GetInt("automation.workers"),
			SweepInterval:                 v.GetDuration("automation.sweep_interval"),
			ProcessOnIngest:               v.GetBool("automation.process_on_ingest"),
		},
		Notifications: NotificationsConfig{
			Primary:       v.GetString("notifications.primary"),
			Fallback:      v.GetString("notifications.fallback"),
			NATSURL:       v.GetString("notifications.nats_url"),
			SubjectPrefix: v.GetString("notifications.subject_prefix"),
			MaxAttempts:   v.GetInt("notifications.max_attempts"),
			RetryBackoff:  v.GetDuration("notifications.retry_backoff"),
			QueueSize:     v.GetInt("notifications.queue_size"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the automation pipeline cannot run with.
func (c *Config) Validate() error {
	a := c.Automation
	if a.AmountTolerance <= 0 || a.AmountTolerance >= 1 {
		return fmt.Errorf("automation.amount_tolerance must be in (0,1), got %v", a.AmountTolerance)
	}
	if a.VariableServiceTolerance <= 0 || a.VariableServiceTolerance >= 1 {
		return fmt.Errorf("automation.variable_service_tolerance must be in (0,1), got %v", a.VariableServiceTolerance)
	}
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("automation.min_confidence must be in [0,1], got %v", a.MinConfidence)
	}
	if a.InsufficientHistoryConfidence < 0 || a.InsufficientHistoryConfidence > 1 {
		return fmt.Errorf("automation.insufficient_history_confidence must be in [0,1], got %v", a.InsufficientHistoryConfidence)
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("automation.batch_size must be positive, got %d", a.BatchSize)
	}
	if a.Workers <= 0 {
		return fmt.Errorf("automation.workers must be positive, got %d", a.Workers)
	}
	if a.SweepInterval <= 0 {
		return fmt.Errorf("automation.sweep_interval must be positive")
	}

	switch c.Notifications.Primary {
	case "nats", "log":
	default:
		return fmt.Errorf("notifications.primary must be nats or log, got %q", c.Notifications.Primary)
	}
	switch c.Notifications.Fallback {
	case "log", "none", "":
	default:
		return fmt.Errorf("notifications.fallback must be log or none, got %q", c.Notifications.Fallback)
	}
	return nil
}
