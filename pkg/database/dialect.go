package database

import (
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// Dialect captures the SQL that differs between supported backends.
// Empty index hook lists are valid and make the bulk-load hook a no-op.
type Dialect struct {
	Driver string

	// MaxParams bounds the placeholders used by a single statement.
	MaxParams int

	yearExpr       string
	insertStation  string
	disableIndexes []string
	enableIndexes  []string
}

var dialects = map[string]*Dialect{
	DriverPostgres: {
		Driver:        DriverPostgres,
		MaxParams:     65535,
		yearExpr:      "CAST(EXTRACT(YEAR FROM %s) AS INTEGER)",
		insertStation: "INSERT INTO stations (station_id) VALUES (?) ON CONFLICT (station_id) DO NOTHING",
		// Postgres has no DISABLE KEYS; the secondary date index is dropped
		// for the load and rebuilt afterwards.
		disableIndexes: []string{"DROP INDEX IF EXISTS ix_observations_record_date"},
		enableIndexes:  []string{"CREATE INDEX IF NOT EXISTS ix_observations_record_date ON observations (record_date)"},
	},
	DriverMySQL: {
		Driver:         DriverMySQL,
		MaxParams:      65535,
		yearExpr:       "YEAR(%s)",
		insertStation:  "INSERT IGNORE INTO stations (station_id) VALUES (?)",
		disableIndexes: []string{"ALTER TABLE observations DISABLE KEYS"},
		enableIndexes:  []string{"ALTER TABLE observations ENABLE KEYS"},
	},
	DriverSQLite: {
		Driver:        DriverSQLite,
		MaxParams:     32766,
		yearExpr:      "CAST(strftime('%%Y', %s) AS INTEGER)",
		insertStation: "INSERT INTO stations (station_id) VALUES (?) ON CONFLICT (station_id) DO NOTHING",
	},
}

// DialectFor returns the dialect of a registered driver name.
func DialectFor(driver string) (*Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// Rebind converts '?' placeholders to the driver's bind style.
func (d *Dialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(d.Driver), query)
}

// YearOf returns an integer expression extracting the calendar year of column.
func (d *Dialect) YearOf(column string) string {
	return fmt.Sprintf(d.yearExpr, column)
}

// InsertStationSQL inserts a station id, ignoring an existing row.
func (d *Dialect) InsertStationSQL() string {
	return d.insertStation
}

// SupportsIndexHook reports whether Disable/EnableIndexes do anything.
func (d *Dialect) SupportsIndexHook() bool {
	return len(d.disableIndexes) > 0
}

// SchemaStatements returns the DDL statements for direction "up" or "down".
func (d *Dialect) SchemaStatements(direction string) ([]string, error) {
	if direction != "up" && direction != "down" {
		return nil, fmt.Errorf("invalid schema direction %q", direction)
	}

	content, err := schemaFS.ReadFile(fmt.Sprintf("schema/%s.%s.sql", d.Driver, direction))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s schema: %w", d.Driver, err)
	}

	var stmts []string
	for _, stmt := range strings.Split(string(content), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}
