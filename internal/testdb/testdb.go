// Package testdb opens throwaway SQLite databases with the production schema.
package testdb

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// Logger returns a logger that discards output.
func Logger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("test", "0.0.0", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

// Open creates a file-backed SQLite database in t.TempDir and applies the schema.
func Open(t testing.TB, m *metrics.Collector) *database.DB {
	t.Helper()

	db, err := database.Open(&database.Config{
		Driver:       database.DriverSQLite,
		Database:     filepath.Join(t.TempDir(), "weather.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, Logger(), m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}
