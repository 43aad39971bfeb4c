package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// Config holds database connection configuration
type Config struct {
	Driver string
	// URL is a driver specific connection string. When empty the DSN is
	// built from the discrete fields below.
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

// DSN returns the connection string for the configured driver
func (c *Config) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}

	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		), nil
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil
	case DriverSQLite:
		if c.Database == "" {
			return "", errors.New("sqlite3 requires DATABASE_URL or DB_NAME (file path)")
		}
		return "file:" + c.Database + "?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// DB wraps sqlx.DB with monitoring, metrics and the backend dialect
type DB struct {
	db        *sqlx.DB
	dialect   *Dialect
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	config    *Config
	stop      chan struct{}
	closeOnce sync.Once
}

// Open creates a new database connection pool for cfg.Driver
func Open(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(ctx, "[DB_INIT] Database connection established", logging.Fields{
		"driver":            cfg.Driver,
		"host":              cfg.Host,
		"database":          cfg.Database,
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := &DB{
		db:      db,
		dialect: dialect,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		stop:    make(chan struct{}),
	}

	go d.monitorConnectionPool(10 * time.Second)

	return d, nil
}

// Close stops pool monitoring and closes the database connection
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stop)
		d.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
			"driver": d.config.Driver,
		})
		err = d.db.Close()
	})
	return err
}

// DB returns the underlying sqlx.DB instance
func (d *DB) DB() *sqlx.DB {
	return d.db
}

// Dialect returns the backend dialect
func (d *DB) Dialect() *Dialect {
	return d.dialect
}

// observe records duration and failure of one statement
func (d *DB) observe(ctx context.Context, queryType, errorType string, start time.Time, err error) {
	d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		d.metrics.RecordDBError(errorType)
		d.logger.Error(ctx, "[DB_ERROR] Statement failed", logging.Fields{
			"query_type": queryType,
			"error_type": errorType,
		}, err)
	}
}

// ExecContext executes a command with context and metrics
func (d *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
	d.observe(ctx, queryType, "exec_error", start, err)
	return result, err
}

// GetContext executes a query that returns a single row
func (d *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := d.db.GetContext(ctx, dest, d.dialect.Rebind(query), args...)
	d.observe(ctx, queryType, "get_error", start, err)
	return err
}

// SelectContext executes a query that returns multiple rows
func (d *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := d.db.SelectContext(ctx, dest, d.dialect.Rebind(query), args...)
	d.observe(ctx, queryType, "select_error", start, err)
	return err
}

// BeginTx begins a new transaction on the pool
func (d *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		d.metrics.RecordDBError("transaction_begin_error")
		d.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}
	return &Tx{tx: tx, db: d}, nil
}

// Session checks out a dedicated connection that the caller owns until Close.
func (d *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := d.db.Connx(ctx)
	if err != nil {
		d.metrics.RecordDBError("conn_error")
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Session{conn: conn, db: d}, nil
}

// DisableIndexes suspends secondary index maintenance for a bulk load.
func (d *DB) DisableIndexes(ctx context.Context) error {
	return d.execAll(ctx, "disable_indexes", d.dialect.disableIndexes)
}

// EnableIndexes restores what DisableIndexes suspended.
func (d *DB) EnableIndexes(ctx context.Context) error {
	return d.execAll(ctx, "enable_indexes", d.dialect.enableIndexes)
}

// EnsureSchema creates the tables if they do not exist
func (d *DB) EnsureSchema(ctx context.Context) error {
	return d.applySchema(ctx, "up")
}

// DropSchema drops all tables
func (d *DB) DropSchema(ctx context.Context) error {
	return d.applySchema(ctx, "down")
}

func (d *DB) applySchema(ctx context.Context, direction string) error {
	stmts, err := d.dialect.SchemaStatements(direction)
	if err != nil {
		return err
	}
	if err := d.execAll(ctx, "schema_"+direction, stmts); err != nil {
		return fmt.Errorf("failed to apply %s schema: %w", direction, err)
	}
	return nil
}

func (d *DB) execAll(ctx context.Context, queryType string, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, queryType, stmt); err != nil {
			return err
		}
	}
	return nil
}

// monitorConnectionPool periodically updates connection pool metrics
func (d *DB) monitorConnectionPool(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		stats := d.db.Stats()
		d.metrics.UpdateDBConnectionPool(stats.InUse, stats.Idle, stats.OpenConnections)

		if stats.MaxOpenConnections <= 0 {
			continue
		}

		// Log warning if connection pool is near capacity
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if utilization > 0.8 {
			d.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    stats.MaxOpenConnections,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
