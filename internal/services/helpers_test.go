package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/testdb"
	"weather-pipeline/pkg/metrics"
)

type testEnv struct {
	repo    repository.WeatherRepository
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := metrics.NewCollectorForTesting()
	db := testdb.Open(t, m)
	return &testEnv{
		repo:    repository.NewWeatherRepository(db, testdb.Logger(), m),
		metrics: m,
	}
}

func (e *testEnv) ingestion(batchSize, workers int) *IngestionService {
	return NewIngestionService(e.repo, testdb.Logger(), e.metrics, IngestionOptions{
		BatchSize: batchSize,
		Workers:   workers,
	})
}

func (e *testEnv) statistics(batchSize int) *StatisticsService {
	return NewStatisticsService(e.repo, testdb.Logger(), e.metrics, batchSize)
}

func (e *testEnv) queries() *WeatherService {
	return NewWeatherService(e.repo, testdb.Logger(), e.metrics)
}

func writeStationFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func appendStationFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
}
