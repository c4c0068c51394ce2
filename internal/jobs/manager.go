// Package jobs runs background maintenance jobs and persists their state machine:
// pending -> running -> completed | failed | cancelled.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/storage"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// Job types.
const (
	TypeReindexAll     = "reindex_all"
	TypeReindex        = "reindex"
	TypeRebuildLexical = "rebuild_lexical"
)

// RestartMessage is recorded on jobs that were unfinished when the process stopped.
const RestartMessage = "server restarted"

var (
	// ErrJobNotFound means no job has the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished means the job already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
	// ErrUnknownJobType means no handler is registered for the type.
	ErrUnknownJobType = errors.New("unknown job type")
)

// Store persists jobs.
type Store interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	FailUnfinishedJobs(ctx context.Context, message string) (int64, error)
	DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reporter updates a running job's progress (0..100) and message.
type Reporter func(progress int, message string)

// Handler executes one job. The returned map becomes the job result.
type Handler func(ctx context.Context, params map[string]string, report Reporter) (map[string]interface{}, error)

// Manager runs jobs in goroutines.
type Manager struct {
	store    Store
	handlers map[string]Handler
	now      func() time.Time
	onFinish func(*models.Job)
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithFinishHook calls fn with every job that reaches a terminal status.
func WithFinishHook(fn func(*models.Job)) Option {
	return func(m *Manager) { m.onFinish = fn }
}

// NewManager creates a job manager.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		handlers: make(map[string]Handler),
		now:      time.Now,
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrNop(m.logger)
	return m
}

// Register sets the handler for a job type.
func (m *Manager) Register(jobType string, h Handler) {
	m.handlers[jobType] = h
}

// Recover marks jobs left pending or running by a previous process as failed.
func (m *Manager) Recover(ctx context.Context) (int64, error) {
	n, err := m.store.FailUnfinishedJobs(ctx, RestartMessage)
	if err != nil {
		return 0, fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		m.logger.Warn("marked interrupted jobs as failed", zap.Int64("jobs", n))
	}
	return n, nil
}

// Submit persists a pending job and starts it in the background.
func (m *Manager) Submit(ctx context.Context, jobType string, params map[string]string) (*models.Job, error) {
	h, ok := m.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	job := &models.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    models.JobPending,
		Params:    params,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	snapshot := *job
	m.wg.Add(1)
	go m.run(runCtx, job, h)
	return &snapshot, nil
}

func (m *Manager) run(ctx context.Context, job *models.Job, h Handler) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.cancels[job.ID]; ok {
			cancel()
			delete(m.cancels, job.ID)
		}
		m.mu.Unlock()
	}()
	logger := m.logger.With(zap.String("job_id", job.ID), zap.String("type", job.Type))

	started := m.now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &started
	m.save(job)
	logger.Info("job started")

	var jobMu sync.Mutex
	report := func(progress int, message string) {
		jobMu.Lock()
		defer jobMu.Unlock()
		progress = max(0, min(100, progress))
		if progress == job.Progress && message == job.Message {
			return
		}
		job.Progress = progress
		job.Message = message
		m.save(job)
	}

	result, err := h(ctx, job.Params, report)

	jobMu.Lock()
	defer jobMu.Unlock()
	finished := m.now().UTC()
	job.FinishedAt = &finished
	job.Result = result
	switch {
	case ctx.Err() != nil:
		job.Status = models.JobCancelled
		job.Message = "cancelled"
		logger.Info("job cancelled")
	case err != nil:
		job.Status = models.JobFailed
		job.Error = err.Error()
		logger.Warn("job failed", zap.Error(err))
	default:
		job.Status = models.JobCompleted
		job.Progress = 100
		logger.Info("job completed", zap.Duration("took", finished.Sub(started)))
	}
	m.save(job)
	if m.onFinish != nil {
		m.onFinish(job)
	}
}

func (m *Manager) save(job *models.Job) {
	if err := m.store.SaveJob(context.Background(), job); err != nil {
		m.logger.Error("saving job state failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// List returns the most recent jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*models.Job, error) {
	jobs, err := m.store.ListJobs(ctx, limit)
	if jobs == nil && err == nil {
		jobs = []*models.Job{}
	}
	return jobs, err
}

// Cancel stops a pending or running job. The job's goroutine records the cancelled state.
// A job without a live goroutine (left over from another process) is marked cancelled
// directly.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, job.Status)
	}
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	// the goroutine may have finished since the first read
	if job, err = m.Get(ctx, id); err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, job.Status)
	}
	finished := m.now().UTC()
	job.Status = models.JobCancelled
	job.FinishedAt = &finished
	return m.store.SaveJob(ctx, job)
}

// Cleanup deletes finished jobs older than maxAge.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := m.store.DeleteFinishedJobsBefore(ctx, m.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Debug("purged finished jobs", zap.Int64("jobs", n))
	}
	return n, nil
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels all running jobs and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
