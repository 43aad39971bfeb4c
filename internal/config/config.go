package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"weather-pipeline/pkg/database"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Database        DatabaseConfig
	Server          ServerConfig
	Logging         LoggingConfig
	Ingestion       IngestionConfig
	Statistics      StatisticsConfig
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the backend and its connection pool.
type DatabaseConfig struct {
	Driver          string
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level string
}

// IngestionConfig tunes the file loader. Workers of 0 means one per CPU.
type IngestionConfig struct {
	DataDir   string
	BatchSize int
	Workers   int
}

type StatisticsConfig struct {
	BatchSize int
}

// LoadConfig reads configuration from environment variables, applying defaults where unset.
func LoadConfig() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		n, err := envInt(key, def)
		errs = append(errs, err)
		return n
	}
	durVar := func(key string, def time.Duration) time.Duration {
		d, err := envDuration(key, def)
		errs = append(errs, err)
		return d
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:          envOrDefault("DATABASE_DRIVER", database.DriverPostgres),
			URL:             os.Getenv("DATABASE_URL"),
			Host:            envOrDefault("DB_HOST", "localhost"),
			Port:            intVar("DB_PORT", 5432),
			User:            envOrDefault("DB_USER", "postgres"),
			Password:        envOrDefault("DB_PASSWORD", "postgres"),
			Database:        envOrDefault("DB_NAME", "weather"),
			SSLMode:         envOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    intVar("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    intVar("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durVar("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: durVar("DB_CONN_MAX_IDLE_TIME", time.Minute),
		},
		Server: ServerConfig{
			Host:         envOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:         intVar("SERVER_PORT", 8080),
			ReadTimeout:  durVar("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: durVar("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  durVar("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level: envOrDefault("LOG_LEVEL", "info"),
		},
		Ingestion: IngestionConfig{
			DataDir:   envOrDefault("WEATHER_DATA_DIR", "wx_data"),
			BatchSize: intVar("INGEST_BATCH_SIZE", 10000),
			Workers:   intVar("INGEST_WORKERS", 0),
		},
		Statistics: StatisticsConfig{
			BatchSize: intVar("STATS_BATCH_SIZE", 50),
		},
		ShutdownTimeout: durVar("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that parsing alone cannot catch.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverMySQL, database.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, mysql, sqlite3: got %q", c.Database.Driver)
	}
	if c.Database.URL == "" && c.Database.Database == "" {
		return errors.New("DB_NAME is required when DATABASE_URL is not set")
	}
	if c.Database.MaxOpenConns < 1 {
		return errors.New("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: got %q", c.Logging.Level)
	}
	if c.Ingestion.BatchSize < 1 {
		return errors.New("INGEST_BATCH_SIZE must be positive")
	}
	if c.Ingestion.Workers < 0 {
		return errors.New("INGEST_WORKERS must not be negative")
	}
	if c.Statistics.BatchSize < 1 {
		return errors.New("STATS_BATCH_SIZE must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// DatabaseOptions converts the database section for database.Open.
func (c *Config) DatabaseOptions() *database.Config {
	d := c.Database
	return &database.Config{
		Driver:          d.Driver,
		URL:             d.URL,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q is not an integer", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
