package services

import (
	"context"
	"fmt"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/metrics"
)

// DefaultIngestBatchSize is the buffered row count that triggers a flush.
const DefaultIngestBatchSize = 10000

// BatchWriter buffers observations for one file task and flushes each full
// buffer in its own transaction on the task's session.
type BatchWriter struct {
	sess      repository.IngestSession
	threshold int
	metrics   *metrics.Collector

	buf       []*models.Observation
	processed int
	inserted  int
}

// NewBatchWriter creates a writer that flushes every threshold rows
func NewBatchWriter(sess repository.IngestSession, threshold int, metricsCollector *metrics.Collector) *BatchWriter {
	if threshold <= 0 {
		threshold = DefaultIngestBatchSize
	}
	return &BatchWriter{
		sess:      sess,
		threshold: threshold,
		metrics:   metricsCollector,
		buf:       make([]*models.Observation, 0, min(threshold, 1024)),
	}
}

// Add buffers obs and flushes when the buffer reaches the threshold.
func (w *BatchWriter) Add(ctx context.Context, obs *models.Observation) error {
	w.buf = append(w.buf, obs)
	if len(w.buf) >= w.threshold {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows in one committed transaction. A failed
// flush is rolled back and leaves the counts of earlier flushes untouched.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	w.processed += len(w.buf)

	batch, err := w.sess.BeginBatch(ctx)
	if err != nil {
		return err
	}
	defer batch.Rollback()

	n, err := batch.Insert(ctx, w.buf)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.IngestionBatchSize.Observe(float64(n))
		w.metrics.IngestionRecordsTotal.Add(float64(n))
	}
	w.inserted += n
	w.buf = w.buf[:0]
	return nil
}

// Counts returns rows handed to the database and rows committed.
func (w *BatchWriter) Counts() (processed, inserted int) {
	return w.processed, w.inserted
}

// Pending returns the number of buffered rows not yet flushed
func (w *BatchWriter) Pending() int {
	return len(w.buf)
}
