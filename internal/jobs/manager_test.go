package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store)
	t.Cleanup(m.Close)
	return m, store
}

func TestSubmit_completes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Register(TypeReindex, func(ctx context.Context, params map[string]string, report Reporter) (map[string]interface{}, error) {
		report(50, "halfway")
		return map[string]interface{}{"kb_id": params["kb_id"], "chunks": 3}, nil
	})

	job, err := m.Submit(ctx, TypeReindex, map[string]string{"kb_id": "produkte"})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.NotEmpty(t, job.ID)
	m.Wait()

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "produkte", got.Result["kb_id"])
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	err = m.Cancel(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrJobFinished), "err = %v", err)
}

func TestSubmit_fails(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Register(TypeRebuildLexical, func(context.Context, map[string]string, Reporter) (map[string]interface{}, error) {
		return nil, errors.New("disk full")
	})

	job, err := m.Submit(ctx, TypeRebuildLexical, nil)
	require.NoError(t, err)
	m.Wait()

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "disk full", got.Error)
}

func TestCancel_runningJob(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	started := make(chan struct{})
	m.Register(TypeReindexAll, func(ctx context.Context, _ map[string]string, _ Reporter) (map[string]interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job, err := m.Submit(ctx, TypeReindexAll, nil)
	require.NoError(t, err)
	<-started
	require.NoError(t, m.Cancel(ctx, job.ID))
	m.Wait()

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)
}

func TestSubmit_unknownType(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Submit(context.Background(), "defragment", nil)
	assert.True(t, errors.Is(err, ErrUnknownJobType))
}

func TestGet_notFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(m.Cancel(context.Background(), "missing"), ErrJobNotFound))
}

func TestRecover_marksInterruptedJobsFailed(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "a", Type: TypeReindexAll, Status: models.JobRunning, CreatedAt: now, StartedAt: &now}))
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "b", Type: TypeReindex, Status: models.JobPending, CreatedAt: now}))
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "c", Type: TypeReindex, Status: models.JobCompleted, CreatedAt: now, FinishedAt: &now}))

	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for id, want := range map[string]models.JobStatus{"a": models.JobFailed, "b": models.JobFailed, "c": models.JobCompleted} {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}
	got, _ := m.Get(ctx, "a")
	assert.Equal(t, RestartMessage, got.Error)
}

func TestCleanup(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).UTC()
	recent := time.Now().UTC()
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "old", Type: TypeReindex, Status: models.JobCompleted, CreatedAt: old, FinishedAt: &old}))
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "new", Type: TypeReindex, Status: models.JobCompleted, CreatedAt: recent, FinishedAt: &recent}))

	n, err := m.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	jobs, err := m.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "new", jobs[0].ID)
}

func TestFinishHook(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var finished []models.JobStatus
	m := NewManager(store, WithFinishHook(func(j *models.Job) { finished = append(finished, j.Status) }))
	t.Cleanup(m.Close)
	m.Register(TypeReindexAll, func(context.Context, map[string]string, Reporter) (map[string]interface{}, error) {
		return nil, nil
	})

	_, err = m.Submit(context.Background(), TypeReindexAll, nil)
	require.NoError(t, err)
	m.Wait()
	assert.Equal(t, []models.JobStatus{models.JobCompleted}, finished)
}
