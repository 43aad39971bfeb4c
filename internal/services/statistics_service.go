package services

import (
	"context"
	"fmt"

	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// DefaultStatsBatchSize is the number of yearly rows written per transaction.
const DefaultStatsBatchSize = 50

// StatisticsService rebuilds yearly statistics from observations
type StatisticsService struct {
	repo      repository.WeatherRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	batchSize int
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, batchSize int) *StatisticsService {
	if batchSize <= 0 {
		batchSize = DefaultStatsBatchSize
	}
	return &StatisticsService{
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
		batchSize: batchSize,
	}
}

// RecomputeStatistics replaces every yearly statistic with a fresh full scan
// and returns the number of rows written. On a storage error it stops and
// returns the rows committed so far alongside the error.
func (s *StatisticsService) RecomputeStatistics(ctx context.Context) (int, error) {
	timer := s.metrics.NewTimer(s.metrics.StatsCalculationDuration)

	s.logger.Info(ctx, "[STATS_CALC_START] Starting statistics calculation", logging.Fields{
		"batch_size": s.batchSize,
		"stage":      "INITIALIZATION",
	})

	deleted, err := s.repo.DeleteAllStatistics(ctx)
	if err != nil {
		return 0, err
	}

	stations, err := s.repo.ObservedStationIDs(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "[STATS_CALC_STATIONS] Stations to aggregate", logging.Fields{
		"station_count":    len(stations),
		"deleted_previous": deleted,
		"stage":            "AGGREGATION",
	})

	total := 0
	for _, stationID := range stations {
		stats, err := s.repo.CalculateYearlyStatistics(ctx, stationID)
		if err != nil {
			s.logger.Error(ctx, "[STATS_CALC_ERROR] Failed to calculate statistics", logging.Fields{
				"station_id": stationID,
			}, err)
			return total, err
		}

		for start := 0; start < len(stats); start += s.batchSize {
			batch := stats[start:min(start+s.batchSize, len(stats))]
			if err := s.repo.InsertStatisticsBatch(ctx, batch); err != nil {
				s.logger.Error(ctx, "[STATS_SAVE_ERROR] Failed to save statistics", logging.Fields{
					"station_id": stationID,
					"written":    total,
				}, err)
				return total, fmt.Errorf("station %s: %w", stationID, err)
			}
			total += len(batch)
			s.metrics.StatsRowsWritten.Add(float64(len(batch)))
		}

		s.logger.Debug(ctx, "[STATS_STATION_COMPLETE] Station statistics calculated", logging.Fields{
			"station_id": stationID,
			"years":      len(stats),
		})
	}

	duration := timer.ObserveDuration()

	s.logger.Info(ctx, "[STATS_CALC_COMPLETE] Statistics calculation completed", logging.Fields{
		"total_stations":   len(stations),
		"total_statistics": total,
		"duration_seconds": duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return total, nil
}
