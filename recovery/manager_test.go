package recovery_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/progress"
	"github.com/xraph/batch/queue"
	"github.com/xraph/batch/recovery"
)

type fixture struct {
	dir     string
	store   *recovery.FileStore
	queue   *queue.Queue
	tracker *progress.Tracker
	manager *recovery.Manager
}

func newFixture(t *testing.T, dir string) *fixture {
	t.Helper()
	store, err := recovery.NewFileStore(dir)
	require.NoError(t, err)
	f := &fixture{
		dir:     dir,
		store:   store,
		queue:   queue.New(),
		tracker: progress.NewTracker(),
	}
	f.manager = recovery.NewManager(store, f.queue, f.tracker)
	t.Cleanup(func() { _ = f.manager.Close() })
	return f
}

func addJob(t *testing.T, q *queue.Queue, id string) {
	t.Helper()
	require.NoError(t, q.Add(job.New(job.TypeMock, id+".stl", id+".json", job.WithID(id))))
}

// run claims the next pending job and marks it started, as the manager
// does at dispatch.
func run(t *testing.T, f *fixture) job.Job {
	t.Helper()
	j, ok := f.queue.Claim(nil)
	require.True(t, ok)
	started := time.Now()
	require.True(t, f.queue.UpdateState(j.ID, job.StatusRunning, queue.WithStartedAt(started)))
	j.StartedAt = &started
	f.tracker.Start(j)
	return j
}

func TestRoundTrip_RunningJobsBecomePending(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := newFixture(t, dir)

	for _, id := range []string{"j1", "j2", "j3", "j4", "j5"} {
		addJob(t, f.queue, id)
		f.tracker.Track(mustGet(t, f.queue, id))
	}
	require.Equal(t, "j1", run(t, f).ID)
	require.Equal(t, "j2", run(t, f).ID)
	require.True(t, f.tracker.Update("j1", 40, "halfway"))

	require.NoError(t, f.manager.Checkpoint(ctx))
	require.True(t, f.manager.CanRecover(ctx))
	require.NoError(t, f.manager.Close())

	// Simulated crash: a fresh process over the same directory.
	g := newFixture(t, dir)
	rec, err := g.manager.RecoverSession(ctx)
	require.NoError(t, err)

	assert.Equal(t, f.manager.SessionID(), rec.SessionID)
	assert.Equal(t, rec.SessionID, g.manager.SessionID())
	assert.ElementsMatch(t, []string{"j1", "j2"}, rec.Reset)
	assert.Len(t, rec.Jobs, 5)
	assert.Zero(t, rec.Skipped)

	counts := g.queue.Counts()
	assert.Equal(t, 5, counts.Total)
	assert.Equal(t, 5, counts.Pending)
	assert.Zero(t, counts.Running)

	seen := map[string]bool{}
	for _, j := range g.queue.All() {
		assert.False(t, seen[j.ID], "duplicate %s", j.ID)
		seen[j.ID] = true
		assert.Equal(t, job.StatusPending, j.Status)
		assert.Nil(t, j.StartedAt, "job %s", j.ID)
		assert.Zero(t, j.Progress)
	}
	assert.Len(t, seen, 5)

	for _, id := range []string{"j1", "j2"} {
		p, ok := g.tracker.Get(id)
		require.True(t, ok)
		assert.Zero(t, p.Progress)
		assert.Nil(t, p.StartedAt)
		assert.Equal(t, job.StatusPending, p.Status)
	}
}

func TestRecover_TerminalJobsKeepTheirCollections(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := newFixture(t, dir)

	for _, id := range []string{"a", "b", "c"} {
		addJob(t, f.queue, id)
	}
	now := time.Now()
	require.True(t, f.queue.UpdateState("a", job.StatusCompleted, queue.WithCompletedAt(now), queue.WithProgress(100)))
	require.True(t, f.queue.UpdateState("b", job.StatusFailed, queue.WithErrorMessage("boom")))
	require.NoError(t, f.manager.Checkpoint(ctx))
	require.NoError(t, f.manager.Close())

	g := newFixture(t, dir)
	_, err := g.manager.RecoverSession(ctx)
	require.NoError(t, err)

	counts := g.queue.Counts()
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 1, counts.Pending)

	b, ok := g.queue.Get("b")
	require.True(t, ok)
	assert.Equal(t, "boom", b.ErrorMessage)
	assert.Equal(t, []string{"c"}, g.queue.PendingIDs())
}

func TestRecover_ReplacesCurrentState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())
	addJob(t, f.queue, "kept")
	require.NoError(t, f.manager.Checkpoint(ctx))

	addJob(t, f.queue, "later")
	_, err := f.manager.RecoverSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, f.queue.PendingIDs())
}

func TestCanRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("empty directory", func(t *testing.T) {
		f := newFixture(t, t.TempDir())
		assert.False(t, f.manager.CanRecover(ctx))
		_, err := f.manager.RecoverSession(ctx)
		assert.ErrorIs(t, err, batch.ErrNoRecoverableSession)
	})

	t.Run("missing progress", func(t *testing.T) {
		f := newFixture(t, t.TempDir())
		addJob(t, f.queue, "x")
		require.NoError(t, f.manager.Checkpoint(ctx))
		require.NoError(t, os.Remove(filepath.Join(f.dir, recovery.ProgressFile)))
		assert.False(t, f.manager.CanRecover(ctx))
	})

	t.Run("corrupt jobs", func(t *testing.T) {
		f := newFixture(t, t.TempDir())
		require.NoError(t, f.manager.Checkpoint(ctx))
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, recovery.JobsFile), []byte("{not json"), 0o644))
		assert.False(t, f.manager.CanRecover(ctx))
	})

	t.Run("session file optional", func(t *testing.T) {
		f := newFixture(t, t.TempDir())
		require.NoError(t, f.manager.Checkpoint(ctx))
		require.NoError(t, os.Remove(filepath.Join(f.dir, recovery.SessionFile)))
		assert.True(t, f.manager.CanRecover(ctx))
	})
}

func TestEndSession_RemovesCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())
	addJob(t, f.queue, "x")
	require.NoError(t, f.manager.Checkpoint(ctx))
	for _, name := range recovery.Documents {
		assert.FileExists(t, filepath.Join(f.dir, name))
	}

	require.NoError(t, f.manager.EndSession(ctx))
	assert.False(t, f.manager.CanRecover(ctx))
	assert.Empty(t, f.manager.SessionID())
	for _, name := range recovery.Documents {
		assert.NoFileExists(t, filepath.Join(f.dir, name))
	}
}

func TestStartSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := newFixture(t, dir)

	sid, err := f.manager.StartSession(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sid, "sess_"), sid)
	assert.FileExists(t, filepath.Join(dir, recovery.MetadataFile))

	other := newFixture(t, dir)
	_, err = other.manager.StartSession(ctx)
	assert.ErrorIs(t, err, batch.ErrSessionLocked)

	require.NoError(t, f.manager.Close())
	_, err = other.manager.StartSession(ctx)
	assert.NoError(t, err)
}

func TestCheckpoint_StartsSession(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.Empty(t, f.manager.SessionID())
	require.NoError(t, f.manager.Checkpoint(context.Background()))
	assert.NotEmpty(t, f.manager.SessionID())
}

func TestRecoveryInfo(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store, err := recovery.NewFileStore(dir)
	require.NoError(t, err)
	q := queue.New()
	tr := progress.NewTracker()
	m := recovery.NewManager(store, q, tr, recovery.WithClock(func() time.Time { return clock }))
	t.Cleanup(func() { _ = m.Close() })

	addJob(t, q, "a")
	addJob(t, q, "b")
	require.True(t, q.UpdateState("a", job.StatusCompleted))
	require.NoError(t, m.Checkpoint(ctx))

	info, err := m.RecoveryInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.SessionID(), info.SessionID)
	assert.Equal(t, clock, info.LastCheckpoint)
	assert.Equal(t, 2, info.TotalJobs)
	assert.Equal(t, 1, info.ByStatus[job.StatusCompleted])
	assert.Equal(t, 1, info.Pending())
}

func TestFileStore_ReadMissing(t *testing.T) {
	store, err := recovery.NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Read(context.Background(), recovery.JobsFile)
	assert.ErrorIs(t, err, recovery.ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, store.Delete(context.Background(), recovery.JobsFile))
}

func mustGet(t *testing.T, q *queue.Queue, id string) job.Job {
	t.Helper()
	j, ok := q.Get(id)
	require.True(t, ok)
	return j
}
