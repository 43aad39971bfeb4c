package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/testdb"
)

func allStatistics(t *testing.T, repo repository.WeatherRepository) []models.YearlyStatistic {
	t.Helper()
	items, _, err := repo.GetStatistics(context.Background(), repository.StatisticsFilter{
		Page: models.PageRequest{Page: 1, PageSize: models.MaxPageSize},
	})
	require.NoError(t, err)
	return items
}

// yearLines returns one observation per year from 1985 with max temperature 1.0.
func yearLines(years int) []string {
	lines := make([]string, years)
	for i := range lines {
		lines[i] = fmt.Sprintf("%d0101\t10\t-9999\t5", 1985+i)
	}
	return lines
}

func TestRecomputeStatistics_Aggregates(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt",
		"19900101\t100\t0\t150",
		"19900601\t200\t-9999\t50",
		"19901231\t-9999\t-9999\t-9999",
		"19910101\t-9999\t-9999\t-9999",
	)
	writeStationFile(t, dir, "S2.txt", "19900101\t10\t10\t10")

	_, err := env.ingestion(0, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)

	n, err := env.statistics(0).RecomputeStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.StatsRowsWritten))

	stats := allStatistics(t, env.repo)
	require.Len(t, stats, 3)

	// year DESC, station_id ASC
	assert.Equal(t, "S1", stats[0].StationID)
	assert.Equal(t, 1991, stats[0].Year)
	assert.Equal(t, 1, stats[0].RecordCount)
	assert.Nil(t, stats[0].AvgMaxTempCelsius)
	assert.Nil(t, stats[0].TotalPrecipitationCm)

	s1990 := stats[1]
	assert.Equal(t, "S1", s1990.StationID)
	assert.Equal(t, 1990, s1990.Year)
	assert.Equal(t, 3, s1990.RecordCount)
	require.NotNil(t, s1990.AvgMaxTempCelsius)
	assert.InDelta(t, 15.0, *s1990.AvgMaxTempCelsius, 1e-9)
	require.NotNil(t, s1990.AvgMinTempCelsius)
	assert.InDelta(t, 0.0, *s1990.AvgMinTempCelsius, 1e-9)
	require.NotNil(t, s1990.TotalPrecipitationCm)
	assert.InDelta(t, 2.0, *s1990.TotalPrecipitationCm, 1e-9)

	assert.Equal(t, "S2", stats[2].StationID)
	assert.Equal(t, 1990, stats[2].Year)
}

func TestRecomputeStatistics_FullReplaceIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", yearLines(4)...)

	_, err := env.ingestion(0, 1).Ingest(context.Background(), dir)
	require.NoError(t, err)

	svc := env.statistics(0)
	first, err := svc.RecomputeStatistics(context.Background())
	require.NoError(t, err)
	before := allStatistics(t, env.repo)

	second, err := svc.RecomputeStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, allStatistics(t, env.repo))
}

func TestRecomputeStatistics_NoObservations(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.InsertStatisticsBatch(context.Background(), []models.YearlyStatistic{
		{StationID: "OLD", Year: 1999, RecordCount: 1},
	}))

	n, err := env.statistics(0).RecomputeStatistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, allStatistics(t, env.repo))
}

// batchRecorder counts statistics writes and fails the failOn-th one.
type batchRecorder struct {
	repository.WeatherRepository
	sizes  []int
	failOn int
}

func (r *batchRecorder) InsertStatisticsBatch(ctx context.Context, stats []models.YearlyStatistic) error {
	r.sizes = append(r.sizes, len(stats))
	if r.failOn > 0 && len(r.sizes) == r.failOn {
		return errors.New("disk full")
	}
	return r.WeatherRepository.InsertStatisticsBatch(ctx, stats)
}

func TestRecomputeStatistics_WritesInBatches(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", yearLines(5)...)
	writeStationFile(t, dir, "S2.txt", yearLines(2)...)

	_, err := env.ingestion(0, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)

	rec := &batchRecorder{WeatherRepository: env.repo}
	svc := NewStatisticsService(rec, testdb.Logger(), env.metrics, 2)

	n, err := svc.RecomputeStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []int{2, 2, 1, 2}, rec.sizes)
}

func TestRecomputeStatistics_StopsOnWriteError(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", yearLines(3)...)
	writeStationFile(t, dir, "S2.txt", yearLines(3)...)

	_, err := env.ingestion(0, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)

	rec := &batchRecorder{WeatherRepository: env.repo, failOn: 3}
	svc := NewStatisticsService(rec, testdb.Logger(), env.metrics, 2)

	n, err := svc.RecomputeStatistics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S2")
	assert.Equal(t, 3, n)
	assert.Len(t, allStatistics(t, env.repo), 3)
}
