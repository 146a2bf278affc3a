package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/store"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DataDir = dataDir
	cfg.Storage.UploadDir = filepath.Join(dataDir, "uploads")
	cfg.Storage.OutputDir = filepath.Join(dataDir, "outputs")
	cfg.Retention.Schedule = "@hourly"
	cfg.Retention.UploadMaxAge = time.Hour
	cfg.Retention.ArtifactMaxAge = time.Hour
	cfg.Retention.HistoryMaxAge = 24 * time.Hour

	require.NoError(t, os.MkdirAll(cfg.Storage.UploadDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Storage.OutputDir, 0o755))

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewRunner(cfg, st, zaptest.NewLogger(t))
}

func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func TestSweepRemovesExpiredFiles(t *testing.T) {
	r := newTestRunner(t)

	expiredUpload := writeAgedFile(t, r.storage.UploadDir, "old.pdf", 2*time.Hour)
	freshUpload := writeAgedFile(t, r.storage.UploadDir, "new.pdf", time.Minute)
	expiredExport := writeAgedFile(t, r.storage.OutputDir, "old_20260826_100000.csv", 2*time.Hour)

	r.Sweep()

	assert.NoFileExists(t, expiredUpload)
	assert.FileExists(t, freshUpload)
	assert.NoFileExists(t, expiredExport)
}

func TestSweepIgnoresDirectories(t *testing.T) {
	r := newTestRunner(t)

	nested := filepath.Join(r.storage.UploadDir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	stamp := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(nested, stamp, stamp))

	r.Sweep()

	assert.DirExists(t, nested)
}

func TestSweepPrunesHistory(t *testing.T) {
	r := newTestRunner(t)

	require.NoError(t, r.store.SaveJob(jobs.Job{
		ID: "stale", Filename: "a.pdf", Status: jobs.StatusCompleted,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, r.store.SaveJob(jobs.Job{
		ID: "fresh", Filename: "b.pdf", Status: jobs.StatusCompleted,
		CreatedAt: time.Now(),
	}))

	r.Sweep()

	records, err := r.store.History(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].ID)
}

func TestSweepDisabledByZeroAges(t *testing.T) {
	r := newTestRunner(t)
	r.retention.UploadMaxAge = 0
	r.retention.HistoryMaxAge = 0

	kept := writeAgedFile(t, r.storage.UploadDir, "ancient.pdf", 1000*time.Hour)
	require.NoError(t, r.store.SaveJob(jobs.Job{
		ID: "ancient", Filename: "a.pdf", Status: jobs.StatusCompleted,
		CreatedAt: time.Now().Add(-1000 * time.Hour),
	}))

	r.Sweep()

	assert.FileExists(t, kept)
	records, err := r.store.History(10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSweepMissingDirectory(t *testing.T) {
	r := newTestRunner(t)
	require.NoError(t, os.RemoveAll(r.storage.UploadDir))

	// Must not panic or error out the whole sweep.
	r.Sweep()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := newTestRunner(t)
	r.retention.Schedule = "every so often"

	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid retention schedule")
	assert.False(t, r.IsRunning())
}

func TestStartAndStop(t *testing.T) {
	r := newTestRunner(t)

	require.NoError(t, r.Start())
	assert.True(t, r.IsRunning())

	err := r.Start()
	require.Error(t, err)

	r.Stop()
	assert.False(t, r.IsRunning())

	// Stopping twice is a no-op.
	r.Stop()
}
