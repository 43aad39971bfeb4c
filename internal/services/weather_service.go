package services

import (
	"context"
	"time"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// ObservationQuery filters observations. Zero values mean "no filter" and
// default paging.
type ObservationQuery struct {
	StationID string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// StatisticsQuery filters yearly statistics
type StatisticsQuery struct {
	StationID string
	Year      *int
	Page      int
	PageSize  int
}

// WeatherService handles read access to observations, statistics and stations
type WeatherService struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherService creates a new weather service
func NewWeatherService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WeatherService {
	return &WeatherService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListObservations returns a page of observations, newest first
func (s *WeatherService) ListObservations(ctx context.Context, q ObservationQuery) (*models.Page[models.Observation], error) {
	page, err := models.NewPageRequest(q.Page, q.PageSize)
	if err != nil {
		return nil, err
	}

	filter := repository.ObservationFilter{From: q.From, To: q.To, Page: page}
	if q.StationID != "" {
		filter.StationID = &q.StationID
	}

	items, total, err := s.repo.GetObservations(ctx, filter)
	if err != nil {
		return nil, err
	}
	return models.NewPage(page, total, items), nil
}

// ListStationObservations is ListObservations for a known station. An
// unregistered station yields *models.NotFoundError.
func (s *WeatherService) ListStationObservations(ctx context.Context, stationID string, q ObservationQuery) (*models.Page[models.Observation], error) {
	if _, err := s.repo.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	q.StationID = stationID
	return s.ListObservations(ctx, q)
}

// ListStatistics returns a page of yearly statistics, latest year first
func (s *WeatherService) ListStatistics(ctx context.Context, q StatisticsQuery) (*models.Page[models.YearlyStatistic], error) {
	page, err := models.NewPageRequest(q.Page, q.PageSize)
	if err != nil {
		return nil, err
	}

	filter := repository.StatisticsFilter{Year: q.Year, Page: page}
	if q.StationID != "" {
		filter.StationID = &q.StationID
	}

	items, total, err := s.repo.GetStatistics(ctx, filter)
	if err != nil {
		return nil, err
	}
	return models.NewPage(page, total, items), nil
}

// ListStationStatistics is ListStatistics for a known station
func (s *WeatherService) ListStationStatistics(ctx context.Context, stationID string, q StatisticsQuery) (*models.Page[models.YearlyStatistic], error) {
	if _, err := s.repo.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	q.StationID = stationID
	return s.ListStatistics(ctx, q)
}

// ListStations returns registered stations ordered by id
func (s *WeatherService) ListStations(ctx context.Context, pageNum, pageSize int) (*models.Page[models.Station], error) {
	page, err := models.NewPageRequest(pageNum, pageSize)
	if err != nil {
		return nil, err
	}

	items, total, err := s.repo.ListStations(ctx, page)
	if err != nil {
		return nil, err
	}
	return models.NewPage(page, total, items), nil
}

// HealthCheck pings the backing store
func (s *WeatherService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
