package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/testdb"
	"weather-pipeline/pkg/metrics"
)

func newTestRepo(t *testing.T) WeatherRepository {
	t.Helper()
	m := metrics.NewCollectorForTesting()
	return NewWeatherRepository(testdb.Open(t, m), testdb.Logger(), m)
}

func fptr(v float64) *float64 { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seed registers stationID and inserts observations through a session, the way ingestion does.
func seed(t *testing.T, repo WeatherRepository, stationID string, obs ...*models.Observation) {
	t.Helper()
	ctx := context.Background()

	sess, err := repo.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.RegisterStation(ctx, stationID))
	if len(obs) == 0 {
		return
	}

	batch, err := sess.BeginBatch(ctx)
	require.NoError(t, err)
	n, err := batch.Insert(ctx, obs)
	require.NoError(t, err)
	require.Equal(t, len(obs), n)
	require.NoError(t, batch.Commit())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "(?, ?)", placeholders(1, 2))
	assert.Equal(t, "(?, ?, ?), (?, ?, ?)", placeholders(2, 3))
}

func TestSession_ExistingDates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "S1",
		&models.Observation{StationID: "S1", RecordDate: day(1990, 1, 1), MaxTempCelsius: fptr(1)},
		&models.Observation{StationID: "S1", RecordDate: day(1990, 1, 2)},
	)
	seed(t, repo, "S2",
		&models.Observation{StationID: "S2", RecordDate: day(1990, 1, 3)},
	)

	sess, err := repo.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	dates, err := sess.ExistingDates(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, dates, 2)
	assert.Contains(t, dates, "1990-01-01")
	assert.Contains(t, dates, "1990-01-02")
	assert.NotContains(t, dates, "1990-01-03")
}

func TestSession_RegisterStationIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "S1")
	seed(t, repo, "S1")

	ids, err := repo.ListStationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, ids)
}

func TestBatch_InsertChunksAndRollback(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	obs := make([]*models.Observation, 0, 2500)
	start := day(1985, 1, 1)
	for i := 0; i < 2500; i++ {
		obs = append(obs, &models.Observation{StationID: "S1", RecordDate: start.AddDate(0, 0, i)})
	}
	seed(t, repo, "S1", obs...)

	id := "S1"
	_, total, err := repo.GetObservations(ctx, ObservationFilter{StationID: &id, Page: models.PageRequest{Page: 1, PageSize: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2500, total)

	sess, err := repo.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	batch, err := sess.BeginBatch(ctx)
	require.NoError(t, err)
	_, err = batch.Insert(ctx, []*models.Observation{{StationID: "S1", RecordDate: day(2020, 1, 1)}})
	require.NoError(t, err)
	require.NoError(t, batch.Rollback())

	_, total, err = repo.GetObservations(ctx, ObservationFilter{StationID: &id, Page: models.PageRequest{Page: 1, PageSize: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2500, total)
}

func TestBatch_DuplicateKeyFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "S1", &models.Observation{StationID: "S1", RecordDate: day(1990, 1, 1)})

	sess, err := repo.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	batch, err := sess.BeginBatch(ctx)
	require.NoError(t, err)
	defer batch.Rollback()

	_, err = batch.Insert(ctx, []*models.Observation{{StationID: "S1", RecordDate: day(1990, 1, 1)}})
	assert.Error(t, err)
}

func TestGetObservations_FiltersAndOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var obs []*models.Observation
	for i := 1; i <= 10; i++ {
		obs = append(obs, &models.Observation{StationID: "S1", RecordDate: day(2000, 3, i), MaxTempCelsius: fptr(float64(i))})
	}
	seed(t, repo, "S1", obs...)
	seed(t, repo, "S2", &models.Observation{StationID: "S2", RecordDate: day(2000, 3, 5)})

	from, to := day(2000, 3, 3), day(2000, 3, 6)
	id := "S1"
	items, total, err := repo.GetObservations(ctx, ObservationFilter{
		StationID: &id,
		From:      &from,
		To:        &to,
		Page:      models.PageRequest{Page: 1, PageSize: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, items, 4)
	assert.Equal(t, "2000-03-06", models.DateKey(items[0].RecordDate))
	assert.Equal(t, "2000-03-03", models.DateKey(items[3].RecordDate))
	require.NotNil(t, items[0].MaxTempCelsius)
	assert.Equal(t, 6.0, *items[0].MaxTempCelsius)

	// All stations, second page of 5
	items, total, err = repo.GetObservations(ctx, ObservationFilter{Page: models.PageRequest{Page: 2, PageSize: 5}})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, items, 5)
	assert.Equal(t, "2000-03-05", models.DateKey(items[0].RecordDate))
	assert.Equal(t, "S2", items[1].StationID)
}

func TestGetStation_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "S1")

	station, err := repo.GetStation(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", station.StationID)

	_, err = repo.GetStation(ctx, "NOPE")
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "NOPE", nf.ID)
}

func TestListStations_Paged(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seed(t, repo, fmt.Sprintf("S%d", i))
	}

	stations, total, err := repo.ListStations(ctx, models.PageRequest{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []models.Station{{StationID: "S2"}, {StationID: "S3"}}, stations)
}

func TestCalculateYearlyStatistics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "S1",
		&models.Observation{StationID: "S1", RecordDate: day(1990, 1, 1), MaxTempCelsius: fptr(10), MinTempCelsius: fptr(0), PrecipitationCm: fptr(1.5)},
		&models.Observation{StationID: "S1", RecordDate: day(1990, 6, 1), MaxTempCelsius: fptr(20), PrecipitationCm: fptr(0.5)},
		&models.Observation{StationID: "S1", RecordDate: day(1990, 12, 31)},
		&models.Observation{StationID: "S1", RecordDate: day(1991, 1, 1)},
	)

	stats, err := repo.CalculateYearlyStatistics(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	y1990 := stats[0]
	assert.Equal(t, "S1", y1990.StationID)
	assert.Equal(t, 1990, y1990.Year)
	assert.Equal(t, 3, y1990.RecordCount)
	require.NotNil(t, y1990.AvgMaxTempCelsius)
	assert.InDelta(t, 15.0, *y1990.AvgMaxTempCelsius, 1e-9)
	require.NotNil(t, y1990.AvgMinTempCelsius)
	assert.InDelta(t, 0.0, *y1990.AvgMinTempCelsius, 1e-9)
	require.NotNil(t, y1990.TotalPrecipitationCm)
	assert.InDelta(t, 2.0, *y1990.TotalPrecipitationCm, 1e-9)

	y1991 := stats[1]
	assert.Equal(t, 1991, y1991.Year)
	assert.Equal(t, 1, y1991.RecordCount)
	assert.Nil(t, y1991.AvgMaxTempCelsius)
	assert.Nil(t, y1991.AvgMinTempCelsius)
	assert.Nil(t, y1991.TotalPrecipitationCm)
}

func TestStatistics_InsertQueryDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var rows []models.YearlyStatistic
	for _, station := range []string{"B", "A"} {
		for year := 2000; year <= 2002; year++ {
			rows = append(rows, models.YearlyStatistic{StationID: station, Year: year, RecordCount: year - 1999, AvgMaxTempCelsius: fptr(1)})
		}
	}
	require.NoError(t, repo.InsertStatisticsBatch(ctx, rows))
	require.NoError(t, repo.InsertStatisticsBatch(ctx, nil))

	all, total, err := repo.GetStatistics(ctx, StatisticsFilter{Page: models.PageRequest{Page: 1, PageSize: 100}})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, all, 6)
	assert.Equal(t, "A", all[0].StationID)
	assert.Equal(t, 2002, all[0].Year)
	assert.Equal(t, "B", all[1].StationID)
	assert.Equal(t, 2000, all[5].Year)

	year := 2001
	id := "B"
	filtered, total, err := repo.GetStatistics(ctx, StatisticsFilter{StationID: &id, Year: &year, Page: models.PageRequest{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, filtered, 1)
	assert.Equal(t, 2, filtered[0].RecordCount)
	assert.Nil(t, filtered[0].TotalPrecipitationCm)

	deleted, err := repo.DeleteAllStatistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, deleted)

	_, total, err = repo.GetStatistics(ctx, StatisticsFilter{Page: models.PageRequest{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestObservedStationIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "Z1", &models.Observation{StationID: "Z1", RecordDate: day(2000, 1, 1)})
	seed(t, repo, "A1", &models.Observation{StationID: "A1", RecordDate: day(2000, 1, 1)}, &models.Observation{StationID: "A1", RecordDate: day(2000, 1, 2)})
	seed(t, repo, "EMPTY")

	ids, err := repo.ObservedStationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "Z1"}, ids)
}

func TestIndexHookAndHealth(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	assert.NoError(t, repo.DisableIndexes(ctx))
	assert.NoError(t, repo.EnableIndexes(ctx))
	assert.NoError(t, repo.HealthCheck(ctx))
}
