package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jobflow/internal/storage"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := newTestJournal(t)

	id, err := j.BeginRun(ctx, Run{
		Fingerprint: "abc",
		Mode:        "substitute",
		Command:     []string{"gzip", "{}"},
		Workers:     4,
		Skip:        10,
		StateFile:   "/tmp/run.state",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := j.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, []string{"gzip", "{}"}, run.Command)
	assert.Equal(t, uint64(10), run.Skip)
	assert.Equal(t, "/tmp/run.state", run.StateFile)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, j.FinishRun(ctx, id, Stats{Consumed: 30, Dispatched: 20, SpawnFailures: 1}, nil))

	run, err = j.GetRun(ctx, id[:8])
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, uint64(30), run.Consumed)
	assert.Equal(t, uint64(20), run.Dispatched)
	assert.Equal(t, uint64(1), run.SpawnFailures)
	assert.NotNil(t, run.FinishedAt)
	assert.Nil(t, run.LastError)
}

func TestFinishRunWithError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := newTestJournal(t)

	id, err := j.BeginRun(ctx, Run{Fingerprint: "f", Mode: "cat", Workers: 1})
	require.NoError(t, err)
	require.NoError(t, j.FinishRun(ctx, id, Stats{}, errors.New("line too long for buffer")))

	run, err := j.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "line too long for buffer", *run.LastError)

	assert.ErrorIs(t, j.FinishRun(ctx, "missing", Stats{}, nil), ErrRunNotFound)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()
	j := newTestJournal(t)
	_, err := j.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetRunAmbiguousPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := newTestJournal(t)

	for _, id := range []string{"run-aa", "run-ab"} {
		_, err := j.BeginRun(ctx, Run{ID: id, Fingerprint: "f", Mode: "cat", Workers: 1})
		require.NoError(t, err)
	}
	_, err := j.GetRun(ctx, "run-a")
	assert.ErrorContains(t, err, "ambiguous")

	run, err := j.GetRun(ctx, "run-ab")
	require.NoError(t, err)
	assert.Equal(t, "run-ab", run.ID)
}

func TestExitsAndSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := newTestJournal(t)

	id, err := j.BeginRun(ctx, Run{Fingerprint: "f", Mode: "substitute", Workers: 2})
	require.NoError(t, err)

	start := time.Now().Add(-time.Second)
	exits := []WorkerExit{
		{RunID: id, Slot: 0, PID: 100, Record: 1, ExitCode: 0},
		{RunID: id, Slot: 1, PID: 101, Record: 2, ExitCode: 2},
		{RunID: id, Slot: 0, PID: 102, Record: 3, ExitCode: -1, Signal: "killed"},
		{RunID: id, Slot: 1, PID: 100, Record: 4, ExitCode: 0},
	}
	for _, e := range exits {
		e.StartedAt = start
		e.FinishedAt = time.Now()
		require.NoError(t, j.RecordExit(ctx, e))
	}

	all, err := j.Exits(ctx, id, false)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, uint64(4), all[3].Record, "exits come back in reap order")

	failed, err := j.Exits(ctx, id, true)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.True(t, failed[0].Failed())
	assert.Equal(t, "killed", failed[1].Signal)

	sum, err := j.Summarize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Summary{Workers: 4, Succeeded: 2, Failed: 1, Signaled: 1}, sum)
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := newTestJournal(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"first", "second", "third"} {
		_, err := j.BeginRun(ctx, Run{ID: id, Fingerprint: "f", Mode: "cat", Workers: 1, StartedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	runs, err := j.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].ID)
	assert.Equal(t, "second", runs[1].ID)
}

func TestBeginRunValidates(t *testing.T) {
	t.Parallel()
	j := newTestJournal(t)
	_, err := j.BeginRun(context.Background(), Run{Mode: "cat", Workers: 1})
	assert.Error(t, err)
	_, err = j.BeginRun(context.Background(), Run{Fingerprint: "f", Mode: "cat"})
	assert.Error(t, err)
}
