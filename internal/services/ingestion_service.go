package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// ErrInvalidDirectory is returned when the ingest directory is missing or not a directory.
var ErrInvalidDirectory = errors.New("data directory not found")

// maxLineBytes bounds a single scanned line.
const maxLineBytes = 1 << 20

// IngestionOptions tunes the file loader
type IngestionOptions struct {
	BatchSize int
	// Workers caps concurrent file tasks. Zero means runtime.NumCPU().
	Workers int
}

// IngestionService loads station files into observations
type IngestionService struct {
	repo      repository.WeatherRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	batchSize int
	workers   int
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles  int
	FailedFiles int
	// Processed is the number of new, parsed records handed to the database.
	Processed int
	Inserted  int
	Duration  time.Duration
}

// FileResult is the outcome of one file task. Failed tasks report zero counts.
type FileResult struct {
	Path      string
	StationID string
	Processed int
	Inserted  int
	Err       error
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts IngestionOptions) *IngestionService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIngestBatchSize
	}
	return &IngestionService{
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
	}
}

// ValidateDirectory reports ErrInvalidDirectory unless dir is an existing directory.
func ValidateDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidDirectory, dir)
	}
	return nil
}

// Ingest loads every *.txt file in dir concurrently, one task per file.
// A failing file does not stop the others; it is counted in FailedFiles.
func (s *IngestionService) Ingest(ctx context.Context, dir string) (*IngestionResult, error) {
	startTime := time.Now()

	if err := ValidateDirectory(dir); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"data_dir":   dir,
		"file_count": len(files),
		"batch_size": s.batchSize,
		"stage":      "FILE_DISCOVERY",
	})

	result := &IngestionResult{TotalFiles: len(files)}
	if len(files) == 0 {
		result.Duration = time.Since(startTime)
		s.logger.Warn(ctx, "[INGEST_EMPTY] No station files found", logging.Fields{
			"data_dir": dir,
		})
		return result, nil
	}

	ids, err := s.repo.ListStationIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	// Files resolving to the same station id run one after another.
	locks := make(map[string]*sync.Mutex)
	for _, path := range files {
		id := models.StationIDFromFileName(filepath.Base(path))
		if _, ok := locks[id]; !ok {
			locks[id] = &sync.Mutex{}
		}
	}

	if err := s.repo.DisableIndexes(ctx); err != nil {
		s.logger.Warn(ctx, "[INGEST_INDEX] Could not disable indexes, loading with maintenance on", logging.Fields{
			"error": err.Error(),
		})
	}
	defer func() {
		if err := s.repo.EnableIndexes(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error(ctx, "[INGEST_INDEX] Failed to re-enable indexes", nil, err)
		}
	}()

	workers := s.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(files))

	s.logger.Info(ctx, "[INGEST_DISPATCH] Dispatching file tasks", logging.Fields{
		"workers": workers,
		"stage":   "FILE_PROCESSING",
	})

	results := make([]FileResult, len(files))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			stationID := models.StationIDFromFileName(filepath.Base(path))
			mu := locks[stationID]
			mu.Lock()
			defer mu.Unlock()

			results[i] = s.ingestFile(ctx, path, stationID, known)
			s.logProgress(ctx, results[i], int(done.Add(1)), len(files))
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			result.FailedFiles++
			continue
		}
		result.Processed += r.Processed
		result.Inserted += r.Inserted
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"total_files":      result.TotalFiles,
		"failed_files":     result.FailedFiles,
		"processed":        result.Processed,
		"inserted":         result.Inserted,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}

// ingestFile runs one file task and converts every failure, panics included,
// into a zero-count FileResult.
func (s *IngestionService) ingestFile(ctx context.Context, path, stationID string, known map[string]struct{}) (res FileResult) {
	res = FileResult{Path: path, StationID: stationID}

	s.metrics.IngestionActiveWorkers.Inc()
	defer s.metrics.IngestionActiveWorkers.Dec()

	defer func() {
		if p := recover(); p != nil {
			res = FileResult{Path: path, StationID: stationID, Err: fmt.Errorf("panic: %v", p)}
		}
		s.metrics.RecordFile(res.Err != nil)
		if res.Err != nil {
			s.metrics.RecordIngestionError("file_error")
		}
	}()

	processed, inserted, err := s.loadFile(ctx, path, stationID, known)
	if err != nil {
		res.Err = err
		return res
	}
	res.Processed = processed
	res.Inserted = inserted
	return res
}

func (s *IngestionService) loadFile(ctx context.Context, path, stationID string, known map[string]struct{}) (int, int, error) {
	sess, err := s.repo.OpenSession(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer sess.Close()

	if _, ok := known[stationID]; !ok {
		if err := sess.RegisterStation(ctx, stationID); err != nil {
			return 0, 0, err
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	seen, err := sess.ExistingDates(ctx, stationID)
	if err != nil {
		return 0, 0, err
	}

	writer := NewBatchWriter(sess, s.batchSize, s.metrics)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		obs, ok := models.ParseLine(stationID, scanner.Text())
		if !ok {
			s.metrics.RecordIngestionError("parse_error")
			continue
		}

		key := models.DateKey(obs.RecordDate)
		if _, dup := seen[key]; dup {
			s.metrics.IngestionSkippedTotal.Inc()
			continue
		}
		seen[key] = struct{}{}

		if err := writer.Add(ctx, obs); err != nil {
			return 0, 0, err
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("error reading file: %w", err)
	}

	if err := writer.Flush(ctx); err != nil {
		return 0, 0, err
	}

	processed, inserted := writer.Counts()
	return processed, inserted, nil
}

func (s *IngestionService) logProgress(ctx context.Context, r FileResult, done, total int) {
	fields := logging.Fields{
		"file_path":   r.Path,
		"station_id":  r.StationID,
		"files_done":  done,
		"files_total": total,
	}
	if r.Err != nil {
		s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", fields, r.Err)
		return
	}
	fields["processed"] = r.Processed
	fields["inserted"] = r.Inserted
	s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested", fields)
}
