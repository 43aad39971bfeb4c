package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"weather-pipeline/internal/models"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// maxRowsPerInsert caps the VALUES tuples of one INSERT statement.
const maxRowsPerInsert = 1000

const observationColumns = "station_id, record_date, max_temp_celsius, min_temp_celsius, precipitation_cm"

const statisticsColumns = "station_id, year, avg_max_temp_celsius, avg_min_temp_celsius, total_precipitation_cm, record_count"

// WeatherRepository provides data access for weather data
type WeatherRepository interface {
	// Station operations
	GetStation(ctx context.Context, stationID string) (*models.Station, error)
	ListStationIDs(ctx context.Context) ([]string, error)
	ListStations(ctx context.Context, page models.PageRequest) ([]models.Station, int, error)

	// Observation operations
	GetObservations(ctx context.Context, filter ObservationFilter) ([]models.Observation, int, error)
	ObservedStationIDs(ctx context.Context) ([]string, error)

	// Statistics operations
	DeleteAllStatistics(ctx context.Context) (int64, error)
	CalculateYearlyStatistics(ctx context.Context, stationID string) ([]models.YearlyStatistic, error)
	InsertStatisticsBatch(ctx context.Context, stats []models.YearlyStatistic) error
	GetStatistics(ctx context.Context, filter StatisticsFilter) ([]models.YearlyStatistic, int, error)

	// Bulk load operations
	DisableIndexes(ctx context.Context) error
	EnableIndexes(ctx context.Context) error
	OpenSession(ctx context.Context) (IngestSession, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// IngestSession is the storage handle of one file worker. Each session owns
// a dedicated connection and must not be shared between goroutines.
type IngestSession interface {
	RegisterStation(ctx context.Context, stationID string) error
	ExistingDates(ctx context.Context, stationID string) (map[string]struct{}, error)
	BeginBatch(ctx context.Context) (ObservationBatch, error)
	Close() error
}

// ObservationBatch is one transaction of observation inserts.
type ObservationBatch interface {
	Insert(ctx context.Context, observations []*models.Observation) (int, error)
	Commit() error
	Rollback() error
}

// ObservationFilter defines filters for querying observations
type ObservationFilter struct {
	StationID *string
	From      *time.Time
	To        *time.Time
	Page      models.PageRequest
}

// StatisticsFilter defines filters for querying statistics
type StatisticsFilter struct {
	StationID *string
	Year      *int
	Page      models.PageRequest
}

// weatherRepository implements WeatherRepository
type weatherRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherRepository creates a new weather repository
func NewWeatherRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WeatherRepository {
	return &weatherRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetStation retrieves a weather station by ID
func (r *weatherRepository) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	var station models.Station
	err := r.db.GetContext(ctx, "get_station", &station,
		"SELECT station_id FROM stations WHERE station_id = ?", stationID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{
			Resource: "station",
			ID:       stationID,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}

	return &station, nil
}

// ListStationIDs returns every registered station id
func (r *weatherRepository) ListStationIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, "list_station_ids", &ids, "SELECT station_id FROM stations"); err != nil {
		return nil, fmt.Errorf("failed to list station ids: %w", err)
	}
	return ids, nil
}

// ListStations retrieves weather stations with pagination
func (r *weatherRepository) ListStations(ctx context.Context, page models.PageRequest) ([]models.Station, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_stations", &total, "SELECT COUNT(*) FROM stations"); err != nil {
		return nil, 0, fmt.Errorf("failed to count stations: %w", err)
	}

	var stations []models.Station
	err := r.db.SelectContext(ctx, "list_stations", &stations,
		"SELECT station_id FROM stations ORDER BY station_id LIMIT ? OFFSET ?",
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list stations: %w", err)
	}

	return stations, total, nil
}

// GetObservations retrieves weather observations with filtering and pagination
func (r *weatherRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]models.Observation, int, error) {
	query := "SELECT " + observationColumns + " FROM observations WHERE 1=1"
	args := []interface{}{}

	if filter.StationID != nil {
		query += " AND station_id = ?"
		args = append(args, *filter.StationID)
	}
	if filter.From != nil {
		query += " AND record_date >= ?"
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += " AND record_date <= ?"
		args = append(args, *filter.To)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	if err := r.db.GetContext(ctx, "count_observations", &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count observations: %w", err)
	}

	query += " ORDER BY record_date DESC, station_id LIMIT ? OFFSET ?"
	args = append(args, filter.Page.Limit(), filter.Page.Offset())

	var observations []models.Observation
	if err := r.db.SelectContext(ctx, "get_observations", &observations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get observations: %w", err)
	}

	return observations, total, nil
}

// ObservedStationIDs returns the distinct station ids present in observations, ascending
func (r *weatherRepository) ObservedStationIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, "observed_station_ids", &ids,
		"SELECT DISTINCT station_id FROM observations ORDER BY station_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list observed stations: %w", err)
	}
	return ids, nil
}

// DeleteAllStatistics clears the yearly statistics table
func (r *weatherRepository) DeleteAllStatistics(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "delete_statistics", "DELETE FROM yearly_statistics")
	if err != nil {
		return 0, fmt.Errorf("failed to delete statistics: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// CalculateYearlyStatistics aggregates one station's observations per calendar year.
// AVG and SUM ignore NULLs and yield NULL for a year without any value.
func (r *weatherRepository) CalculateYearlyStatistics(ctx context.Context, stationID string) ([]models.YearlyStatistic, error) {
	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_CALC_STATS] Statistics calculated", logging.Fields{
			"station_id":  stationID,
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	year := r.db.Dialect().YearOf("record_date")
	query := `
		SELECT
			station_id,
			` + year + ` AS year,
			AVG(max_temp_celsius) AS avg_max_temp_celsius,
			AVG(min_temp_celsius) AS avg_min_temp_celsius,
			SUM(precipitation_cm) AS total_precipitation_cm,
			COUNT(*) AS record_count
		FROM observations
		WHERE station_id = ?
		GROUP BY station_id, ` + year + `
		ORDER BY year`

	var stats []models.YearlyStatistic
	if err := r.db.SelectContext(ctx, "calculate_statistics", &stats, query, stationID); err != nil {
		return nil, fmt.Errorf("failed to calculate statistics for %s: %w", stationID, err)
	}
	return stats, nil
}

// InsertStatisticsBatch writes stats in a single committed transaction
func (r *weatherRepository) InsertStatisticsBatch(ctx context.Context, stats []models.YearlyStatistic) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rowsPerStmt := rowsPerStatement(r.db.Dialect(), 6)
	for start := 0; start < len(stats); start += rowsPerStmt {
		end := min(start+rowsPerStmt, len(stats))
		chunk := stats[start:end]

		args := make([]interface{}, 0, len(chunk)*6)
		for _, s := range chunk {
			args = append(args, s.StationID, s.Year, s.AvgMaxTempCelsius, s.AvgMinTempCelsius, s.TotalPrecipitationCm, s.RecordCount)
		}

		query := "INSERT INTO yearly_statistics (" + statisticsColumns + ") VALUES " + placeholders(len(chunk), 6)
		if _, err := tx.ExecContext(ctx, "insert_statistics", query, args...); err != nil {
			return fmt.Errorf("failed to insert statistics: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetStatistics retrieves weather statistics with filtering and pagination
func (r *weatherRepository) GetStatistics(ctx context.Context, filter StatisticsFilter) ([]models.YearlyStatistic, int, error) {
	query := "SELECT " + statisticsColumns + " FROM yearly_statistics WHERE 1=1"
	args := []interface{}{}

	if filter.StationID != nil {
		query += " AND station_id = ?"
		args = append(args, *filter.StationID)
	}
	if filter.Year != nil {
		query += " AND year = ?"
		args = append(args, *filter.Year)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	if err := r.db.GetContext(ctx, "count_statistics", &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count statistics: %w", err)
	}

	query += " ORDER BY year DESC, station_id LIMIT ? OFFSET ?"
	args = append(args, filter.Page.Limit(), filter.Page.Offset())

	var statistics []models.YearlyStatistic
	if err := r.db.SelectContext(ctx, "get_statistics", &statistics, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get statistics: %w", err)
	}

	return statistics, total, nil
}

// DisableIndexes suspends secondary index maintenance on observations
func (r *weatherRepository) DisableIndexes(ctx context.Context) error {
	if err := r.db.DisableIndexes(ctx); err != nil {
		return fmt.Errorf("failed to disable indexes: %w", err)
	}
	return nil
}

// EnableIndexes restores secondary index maintenance on observations
func (r *weatherRepository) EnableIndexes(ctx context.Context) error {
	if err := r.db.EnableIndexes(ctx); err != nil {
		return fmt.Errorf("failed to enable indexes: %w", err)
	}
	return nil
}

// OpenSession checks out a dedicated connection for one ingestion worker
func (r *weatherRepository) OpenSession(ctx context.Context) (IngestSession, error) {
	sess, err := r.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &ingestSession{sess: sess, logger: r.logger}, nil
}

// HealthCheck performs a repository health check
func (r *weatherRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

type ingestSession struct {
	sess   *database.Session
	logger *logging.StructuredLogger
}

func (s *ingestSession) RegisterStation(ctx context.Context, stationID string) error {
	if _, err := s.sess.ExecContext(ctx, "insert_station", s.sess.Dialect().InsertStationSQL(), stationID); err != nil {
		return fmt.Errorf("failed to register station: %w", err)
	}

	s.logger.Debug(ctx, "[REPO_CREATE_STATION] Station registered", logging.Fields{
		"station_id": stationID,
	})
	return nil
}

func (s *ingestSession) ExistingDates(ctx context.Context, stationID string) (map[string]struct{}, error) {
	var dates []time.Time
	err := s.sess.SelectContext(ctx, "existing_dates", &dates,
		"SELECT record_date FROM observations WHERE station_id = ?", stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing dates: %w", err)
	}

	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[models.DateKey(d)] = struct{}{}
	}
	return set, nil
}

func (s *ingestSession) BeginBatch(ctx context.Context) (ObservationBatch, error) {
	tx, err := s.sess.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &observationBatch{tx: tx}, nil
}

func (s *ingestSession) Close() error {
	return s.sess.Close()
}

type observationBatch struct {
	tx *database.Tx
}

// Insert bulk inserts observations using multi-row VALUES statements.
func (b *observationBatch) Insert(ctx context.Context, observations []*models.Observation) (int, error) {
	rowsPerStmt := rowsPerStatement(b.tx.Dialect(), 5)
	inserted := 0

	for start := 0; start < len(observations); start += rowsPerStmt {
		end := min(start+rowsPerStmt, len(observations))
		chunk := observations[start:end]

		args := make([]interface{}, 0, len(chunk)*5)
		for _, o := range chunk {
			args = append(args, o.StationID, o.RecordDate, o.MaxTempCelsius, o.MinTempCelsius, o.PrecipitationCm)
		}

		query := "INSERT INTO observations (" + observationColumns + ") VALUES " + placeholders(len(chunk), 5)
		if _, err := b.tx.ExecContext(ctx, "insert_observations", query, args...); err != nil {
			return inserted, fmt.Errorf("failed to insert observations: %w", err)
		}
		inserted += len(chunk)
	}

	return inserted, nil
}

func (b *observationBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (b *observationBatch) Rollback() error {
	return b.tx.Rollback()
}

func rowsPerStatement(d *database.Dialect, columns int) int {
	return max(1, min(maxRowsPerInsert, d.MaxParams/columns))
}

// placeholders renders "(?, ?), (?, ?)" for rows tuples of cols values.
func placeholders(rows, cols int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"

	var b strings.Builder
	b.Grow(rows * (len(tuple) + 2))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}
