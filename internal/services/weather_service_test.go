package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
)

func seedQueries(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt",
		"19991231\t1\t1\t1",
		"20000101\t2\t2\t2",
		"20000102\t3\t3\t3",
	)
	writeStationFile(t, dir, "S2.txt", "20000101\t4\t4\t4")

	_, err := env.ingestion(0, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)
	_, err = env.statistics(0).RecomputeStatistics(context.Background())
	require.NoError(t, err)
	return env
}

func TestWeatherService_ListObservations(t *testing.T) {
	svc := seedQueries(t).queries()
	ctx := context.Background()

	page, err := svc.ListObservations(ctx, ObservationQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, models.DefaultPage, page.Page)
	assert.Equal(t, models.DefaultPageSize, page.PageSize)
	require.Len(t, page.Items, 4)
	assert.Equal(t, "2000-01-02", models.DateKey(page.Items[0].RecordDate))
	assert.Equal(t, "S1", page.Items[1].StationID)
	assert.Equal(t, "S2", page.Items[2].StationID)

	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err = svc.ListObservations(ctx, ObservationQuery{From: &from, To: &from})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.ListObservations(ctx, ObservationQuery{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestWeatherService_PagingValidation(t *testing.T) {
	svc := seedQueries(t).queries()
	ctx := context.Background()

	tests := []struct {
		name  string
		query ObservationQuery
		field string
	}{
		{"negative page", ObservationQuery{Page: -1}, "page"},
		{"oversized page", ObservationQuery{PageSize: models.MaxPageSize + 1}, "page_size"},
		{"negative page size", ObservationQuery{PageSize: -5}, "page_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ListObservations(ctx, tt.query)
			var vErr *models.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	_, err := svc.ListStations(ctx, 0, 5000)
	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestWeatherService_StationScoped(t *testing.T) {
	svc := seedQueries(t).queries()
	ctx := context.Background()

	page, err := svc.ListStationObservations(ctx, "S1", ObservationQuery{StationID: "S2"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	_, err = svc.ListStationObservations(ctx, "NOPE", ObservationQuery{})
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "station", nf.Resource)

	_, err = svc.ListStationStatistics(ctx, "NOPE", StatisticsQuery{})
	assert.True(t, errors.As(err, &nf))
}

func TestWeatherService_ListStatistics(t *testing.T) {
	svc := seedQueries(t).queries()
	ctx := context.Background()

	page, err := svc.ListStatistics(ctx, StatisticsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, 2000, page.Items[0].Year)
	assert.Equal(t, "S1", page.Items[0].StationID)
	assert.Equal(t, "S2", page.Items[1].StationID)
	assert.Equal(t, 1999, page.Items[2].Year)

	year := 2000
	page, err = svc.ListStationStatistics(ctx, "S1", StatisticsQuery{Year: &year})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, 2, page.Items[0].RecordCount)
}

func TestWeatherService_ListStationsAndHealth(t *testing.T) {
	svc := seedQueries(t).queries()
	ctx := context.Background()

	page, err := svc.ListStations(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, []models.Station{{StationID: "S1"}}, page.Items)

	assert.NoError(t, svc.HealthCheck(ctx))
}
