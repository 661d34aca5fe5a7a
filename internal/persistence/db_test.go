package persistence

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/goal-arbiter/internal/engine"
	"github.com/talgya/goal-arbiter/internal/goals"
)

func tempDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func completedRun(t *testing.T) *engine.Run {
	t.Helper()
	s, err := engine.NewSession("hunger",
		[]goals.Goal{{Name: "Eat", Insistence: 4}, {Name: "Sleep", Insistence: 3}},
		map[string]map[string]float64{
			"get raw food":  {"Eat": -3},
			"get snack":     {"Eat": -2},
			"sleep in bed":  {"Sleep": -4},
			"sleep on sofa": {"Sleep": -2},
		})
	require.NoError(t, err)
	run, err := engine.NewEngine().Run(context.Background(), s)
	require.NoError(t, err)
	return run
}

func TestSaveAndLoadRun(t *testing.T) {
	db := tempDB(t)
	run := completedRun(t)

	require.NoError(t, db.SaveRun(run))

	got, err := db.LoadRun(run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.Session, got.Session)
	assert.Equal(t, run.Policy, got.Policy)
	assert.Equal(t, engine.StatusSatisfied, got.Status)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, run.Initial, got.Initial)
	assert.Equal(t, run.Final, got.Final)
	assert.Equal(t, run.Steps, got.Steps)
}

func TestSaveRunReplaces(t *testing.T) {
	db := tempDB(t)
	run := completedRun(t)
	require.NoError(t, db.SaveRun(run))

	run.Steps = run.Steps[:1]
	run.Status = engine.StatusStopped
	require.NoError(t, db.SaveRun(run))

	got, err := db.LoadRun(run.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 1)
	assert.Equal(t, engine.StatusStopped, got.Status)
}

func TestLoadRunNotFound(t *testing.T) {
	db := tempDB(t)
	_, err := db.LoadRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecentRuns(t *testing.T) {
	db := tempDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		run := completedRun(t)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		run.FinishedAt = run.StartedAt.Add(time.Second)
		require.NoError(t, db.SaveRun(run))
		ids = append(ids, run.ID)
	}

	runs, err := db.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Equal(t, 3, runs[0].StepCount)
	assert.Equal(t, "satisfied", runs[0].Status)
	assert.True(t, base.Add(2*time.Minute).Equal(runs[0].StartedAt))
}

func TestMeta(t *testing.T) {
	db := tempDB(t)

	v, err := db.GetMeta("last_run")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SaveMeta("last_run", "abc"))
	require.NoError(t, db.SaveMeta("last_run", "def"))
	v, err = db.GetMeta("last_run")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}

func TestSaveRunRejectsUnencodableStep(t *testing.T) {
	db := tempDB(t)
	run := completedRun(t)
	run.Steps[1].After = goals.Snapshot{"Eat": math.NaN()}

	assert.Error(t, db.SaveRun(run))

	_, err := db.LoadRun(run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecentRunsReportsCorruptTimestamps(t *testing.T) {
	db := tempDB(t)
	run := completedRun(t)
	require.NoError(t, db.SaveRun(run))

	_, err := db.conn.Exec("UPDATE runs SET started_at = 'yesterday' WHERE id = ?", run.ID)
	require.NoError(t, err)

	_, err = db.RecentRuns(10)
	assert.ErrorContains(t, err, "parse started_at")
}
