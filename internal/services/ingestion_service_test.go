package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/testdb"
	"weather-pipeline/pkg/metrics"
)

func countObservations(t *testing.T, repo repository.WeatherRepository, stationID string) int {
	t.Helper()
	filter := repository.ObservationFilter{Page: models.PageRequest{Page: 1, PageSize: 1}}
	if stationID != "" {
		filter.StationID = &stationID
	}
	_, total, err := repo.GetObservations(context.Background(), filter)
	require.NoError(t, err)
	return total
}

func TestIngest_LoadsFilesAndDropsMalformedLines(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	writeStationFile(t, dir, "USC00110072.txt",
		"19850101\t-22\t-128\t94",
		"19850102\t-122\t-217\t0",
		"19850103\t-106",
		"1985O104\t-22\t-128\t94",
	)
	writeStationFile(t, dir, "USC00110187.txt",
		"19850101\t-9999\t-9999\t-9999",
		"19850102\t10\t5\t25",
		"19850103\t20\t15\t0",
	)
	writeStationFile(t, dir, "notes.csv", "19850101\t1\t1\t1")

	result, err := env.ingestion(2, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalFiles)
	assert.Zero(t, result.FailedFiles)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 5, result.Inserted)

	assert.Equal(t, 2, countObservations(t, env.repo, "USC00110072"))
	assert.Equal(t, 3, countObservations(t, env.repo, "USC00110187"))

	ids, err := env.repo.ListStationIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"USC00110072", "USC00110187"}, ids)

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.IngestionFilesTotal.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(env.metrics.IngestionRecordsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.IngestionErrorsTotal.WithLabelValues("parse_error")))
}

func TestIngest_StoresScaledValues(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", "20140630\t212\t-9999\t150")

	_, err := env.ingestion(0, 1).Ingest(context.Background(), dir)
	require.NoError(t, err)

	id := "S1"
	items, _, err := env.repo.GetObservations(context.Background(), repository.ObservationFilter{
		StationID: &id,
		Page:      models.PageRequest{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	obs := items[0]
	assert.Equal(t, "2014-06-30", models.DateKey(obs.RecordDate))
	require.NotNil(t, obs.MaxTempCelsius)
	assert.InDelta(t, 21.2, *obs.MaxTempCelsius, 1e-9)
	assert.Nil(t, obs.MinTempCelsius)
	require.NotNil(t, obs.PrecipitationCm)
	assert.InDelta(t, 1.5, *obs.PrecipitationCm, 1e-9)
}

func TestIngest_RerunIsNoop(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", "20000101\t1\t1\t1", "20000102\t2\t2\t2")
	writeStationFile(t, dir, "S2.txt", "20000101\t1\t1\t1")

	svc := env.ingestion(10, 2)
	first, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)

	second, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.FailedFiles)
	assert.Equal(t, 3, countObservations(t, env.repo, ""))

	appendStationFile(t, dir, "S1.txt", "20000103\t3\t3\t3")
	third, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Processed)
	assert.Equal(t, 4, countObservations(t, env.repo, ""))
}

func TestIngest_RepeatedDateInFileKeepsFirst(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", "20000101\t10\t1\t1", "20000101\t99\t9\t9", "20000102\t2\t2\t2")

	result, err := env.ingestion(0, 1).Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Zero(t, result.FailedFiles)

	id := "S1"
	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	items, _, err := env.repo.GetObservations(context.Background(), repository.ObservationFilter{
		StationID: &id,
		From:      &from,
		To:        &from,
		Page:      models.PageRequest{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.InDelta(t, 1.0, *items[0].MaxTempCelsius, 1e-9)
}

func TestIngest_SameStationAcrossFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", "20000101\t1\t1\t1", "20000102\t2\t2\t2")
	writeStationFile(t, dir, "S1.2001.txt", "20000102\t2\t2\t2", "20010101\t3\t3\t3")

	result, err := env.ingestion(0, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, result.FailedFiles)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, countObservations(t, env.repo, "S1"))
}

func TestIngest_FailingFileDoesNotStopOthers(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeStationFile(t, dir, "GOOD.txt", "20000101\t1\t1\t1", "20000102\t2\t2\t2")
	// A directory matches the glob and fails when read.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "BAD.txt"), 0o755))

	result, err := env.ingestion(0, 2).Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 1, result.FailedFiles)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, countObservations(t, env.repo, "GOOD"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.IngestionFilesTotal.WithLabelValues("failed")))
}

func TestIngest_Directories(t *testing.T) {
	env := newTestEnv(t)
	svc := env.ingestion(0, 0)

	_, err := svc.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrInvalidDirectory)

	file := filepath.Join(t.TempDir(), "S1.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = svc.Ingest(context.Background(), file)
	assert.ErrorIs(t, err, ErrInvalidDirectory)

	result, err := svc.Ingest(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, result.TotalFiles)
	assert.Zero(t, result.Processed)
}

// hookRepo records the index hook and hands out sessions that panic.
type hookRepo struct {
	repository.WeatherRepository
	disabled atomic.Int32
	enabled  atomic.Int32
}

func (r *hookRepo) ListStationIDs(context.Context) ([]string, error) { return nil, nil }

func (r *hookRepo) DisableIndexes(context.Context) error {
	r.disabled.Add(1)
	return nil
}

func (r *hookRepo) EnableIndexes(context.Context) error {
	r.enabled.Add(1)
	return nil
}

func (r *hookRepo) OpenSession(context.Context) (repository.IngestSession, error) {
	return &panicSession{}, nil
}

type panicSession struct{ fakeSession }

func (s *panicSession) RegisterStation(context.Context, string) error {
	panic("connection reset")
}

func TestIngest_IndexesRestoredWhenTasksPanic(t *testing.T) {
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", "20000101\t1\t1\t1")
	writeStationFile(t, dir, "S2.txt", "20000101\t1\t1\t1")

	repo := &hookRepo{}
	svc := NewIngestionService(repo, testdb.Logger(), metrics.NewCollectorForTesting(), IngestionOptions{Workers: 2})

	result, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FailedFiles)
	assert.Zero(t, result.Processed)
	assert.EqualValues(t, 1, repo.disabled.Load())
	assert.EqualValues(t, 1, repo.enabled.Load())
}

type failingSnapshotRepo struct{ hookRepo }

func (r *failingSnapshotRepo) ListStationIDs(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestIngest_SnapshotErrorAbortsBeforeWork(t *testing.T) {
	dir := t.TempDir()
	writeStationFile(t, dir, "S1.txt", "20000101\t1\t1\t1")

	repo := &failingSnapshotRepo{}
	svc := NewIngestionService(repo, testdb.Logger(), metrics.NewCollectorForTesting(), IngestionOptions{})

	_, err := svc.Ingest(context.Background(), dir)
	require.Error(t, err)
	assert.Zero(t, repo.disabled.Load())
}
