package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"weather-pipeline/internal/models"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// ErrJobInProgress is returned when a job is started while another one runs.
var ErrJobInProgress = errors.New("another job is already running")

// maxJobHistory bounds how many finished jobs stay queryable.
const maxJobHistory = 100

type JobKind string

const (
	JobIngest     JobKind = "ingest"
	JobStatistics JobKind = "calculate_stats"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is the externally visible state of one background run
type Job struct {
	ID         string     `json:"job_id"`
	Kind       JobKind    `json:"kind"`
	Status     JobStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	FilesTotal        int `json:"files_total,omitempty"`
	FilesFailed       int `json:"files_failed,omitempty"`
	RecordsProcessed  int `json:"records_processed,omitempty"`
	RecordsInserted   int `json:"records_inserted,omitempty"`
	StatisticsWritten int `json:"statistics_written,omitempty"`
}

// Ingester loads a directory of station files
type Ingester interface {
	Ingest(ctx context.Context, dir string) (*IngestionResult, error)
}

// StatisticsRecomputer rebuilds the yearly statistics table
type StatisticsRecomputer interface {
	RecomputeStatistics(ctx context.Context) (int, error)
}

// JobRunner runs ingestion and statistics in the background, one at a time.
type JobRunner struct {
	ingester   Ingester
	recomputer StatisticsRecomputer
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	clock      clockwork.Clock

	mu      sync.Mutex
	running bool
	jobs    map[string]*Job
	order   []string
	wg      sync.WaitGroup
}

// NewJobRunner creates a job runner. A nil clock uses the real clock.
func NewJobRunner(ingester Ingester, recomputer StatisticsRecomputer, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, clock clockwork.Clock) *JobRunner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JobRunner{
		ingester:   ingester,
		recomputer: recomputer,
		logger:     logger,
		metrics:    metricsCollector,
		clock:      clock,
		jobs:       make(map[string]*Job),
	}
}

// StartIngest validates dir and starts ingesting it in the background.
func (r *JobRunner) StartIngest(ctx context.Context, dir string) (*Job, error) {
	if err := ValidateDirectory(dir); err != nil {
		return nil, err
	}
	return r.start(ctx, JobIngest, func(ctx context.Context, job *Job) error {
		res, err := r.ingester.Ingest(ctx, dir)
		if res != nil {
			job.FilesTotal = res.TotalFiles
			job.FilesFailed = res.FailedFiles
			job.RecordsProcessed = res.Processed
			job.RecordsInserted = res.Inserted
		}
		return err
	})
}

// StartStatistics starts a full statistics rebuild in the background.
func (r *JobRunner) StartStatistics(ctx context.Context) (*Job, error) {
	return r.start(ctx, JobStatistics, func(ctx context.Context, job *Job) error {
		n, err := r.recomputer.RecomputeStatistics(ctx)
		job.StatisticsWritten = n
		return err
	})
}

// Get returns a snapshot of the job with the given id
func (r *JobRunner) Get(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "job", ID: id}
	}
	snapshot := *job
	return &snapshot, nil
}

// Running reports whether a job is in progress
func (r *JobRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until the running job, if any, has finished or ctx is done.
func (r *JobRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *JobRunner) start(ctx context.Context, kind JobKind, run func(context.Context, *Job) error) (*Job, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrJobInProgress
	}

	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobRunning,
		StartedAt: r.clock.Now().UTC(),
	}
	r.running = true
	r.remember(job)
	snapshot := *job
	r.wg.Add(1)
	r.mu.Unlock()

	// The job outlives the request that started it.
	jobCtx := context.WithoutCancel(ctx)

	jobLog := r.logger.WithFields(logging.Fields{
		"job_id": job.ID,
		"kind":   string(kind),
	})
	jobLog.Info(jobCtx, "[JOB_START] Background job started", nil)

	go func() {
		defer r.wg.Done()

		// run writes into a private copy so Get never races with it.
		work := snapshot
		err := run(jobCtx, &work)

		r.mu.Lock()
		finished := r.clock.Now().UTC()
		work.FinishedAt = &finished
		work.Status = JobSucceeded
		if err != nil {
			work.Status = JobFailed
			work.Error = err.Error()
		}
		*job = work
		r.running = false
		r.mu.Unlock()

		r.metrics.RecordJob(string(kind), string(work.Status))
		fields := logging.Fields{
			"status":           string(work.Status),
			"duration_seconds": finished.Sub(work.StartedAt).Seconds(),
		}
		if err != nil {
			jobLog.Error(jobCtx, "[JOB_FAILED] Background job failed", fields, err)
			return
		}
		jobLog.Info(jobCtx, "[JOB_COMPLETE] Background job finished", fields)
	}()

	return &snapshot, nil
}

// remember stores job and evicts the oldest finished jobs past maxJobHistory.
// Callers hold r.mu.
func (r *JobRunner) remember(job *Job) {
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)

	for len(r.order) > maxJobHistory {
		oldest := r.order[0]
		if r.jobs[oldest].Status == JobRunning {
			break
		}
		delete(r.jobs, oldest)
		r.order = r.order[1:]
	}
}
