package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/goal-arbiter/internal/arbiter"
	"github.com/talgya/goal-arbiter/internal/drift"
	"github.com/talgya/goal-arbiter/internal/goals"
)

var hungerActions = map[string]map[string]float64{
	"get raw food":  {"Eat": -3},
	"get snack":     {"Eat": -2},
	"sleep in bed":  {"Sleep": -4},
	"sleep on sofa": {"Sleep": -2},
}

func newHungerSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession("hunger",
		[]goals.Goal{{Name: "Eat", Insistence: 4}, {Name: "Sleep", Insistence: 3}},
		hungerActions)
	require.NoError(t, err)
	return s
}

func TestRunConvergesOnHungerScenario(t *testing.T) {
	s := newHungerSession(t)

	run, err := NewEngine().Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StatusSatisfied, run.Status)
	assert.LessOrEqual(t, len(run.Steps), 4)
	assert.Equal(t, goals.Snapshot{"Eat": 0, "Sleep": 0}, run.Final)
	assert.NotEmpty(t, run.ID)

	want := []Step{
		{Number: 1, Goal: "Eat", Insistence: 4, Action: "get raw food", Utility: 3,
			Before: goals.Snapshot{"Eat": 4, "Sleep": 3}, After: goals.Snapshot{"Eat": 1, "Sleep": 3}},
		{Number: 2, Goal: "Sleep", Insistence: 3, Action: "sleep in bed", Utility: 4,
			Before: goals.Snapshot{"Eat": 1, "Sleep": 3}, After: goals.Snapshot{"Eat": 1, "Sleep": 0}},
		{Number: 3, Goal: "Eat", Insistence: 1, Action: "get raw food", Utility: 3,
			Before: goals.Snapshot{"Eat": 1, "Sleep": 0}, After: goals.Snapshot{"Eat": 0, "Sleep": 0}},
	}
	if diff := cmp.Diff(want, run.Steps); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIsReproducible(t *testing.T) {
	first, err := NewEngine().Run(context.Background(), newHungerSession(t))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := NewEngine().Run(context.Background(), newHungerSession(t))
		require.NoError(t, err)
		assert.Equal(t, first.Actions(), again.Actions())
	}
}

func TestRunAlreadySatisfied(t *testing.T) {
	_, err := NewSession("done", []goals.Goal{{Name: "Eat", Insistence: 0}}, hungerActions)
	require.ErrorIs(t, err, goals.ErrUnknownGoal, "catalog references Sleep which is not declared")

	s, err := NewSession("done",
		[]goals.Goal{{Name: "Eat", Insistence: 0}, {Name: "Sleep", Insistence: 0}},
		hungerActions)
	require.NoError(t, err)

	run, err := NewEngine().Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusSatisfied, run.Status)
	assert.Empty(t, run.Steps)
}

func TestRunConvergenceFailure(t *testing.T) {
	s, err := NewSession("stuck",
		[]goals.Goal{{Name: "Eat", Insistence: 1}},
		map[string]map[string]float64{"stare at fridge": {"Eat": 0}})
	require.NoError(t, err)

	eng := NewEngine()
	eng.MaxSteps = 7
	run, err := eng.Run(context.Background(), s)
	require.ErrorIs(t, err, ErrConvergenceFailure)
	assert.Equal(t, StatusConvergenceFailure, run.Status)
	assert.Len(t, run.Steps, 7)
	assert.NotEmpty(t, run.Error)
}

func TestRunNoApplicableAction(t *testing.T) {
	s, err := NewSession("gap",
		[]goals.Goal{{Name: "Eat", Insistence: 1}, {Name: "Drink", Insistence: 5}},
		map[string]map[string]float64{"get snack": {"Eat": -2}})
	require.NoError(t, err)

	run, err := NewEngine().Run(context.Background(), s)
	require.ErrorIs(t, err, arbiter.ErrNoApplicableAction)
	assert.Equal(t, StatusError, run.Status)
	assert.Empty(t, run.Steps)
}

func TestRunNoGoals(t *testing.T) {
	s, err := NewSession("empty", nil, map[string]map[string]float64{})
	require.NoError(t, err)

	// An empty store is vacuously satisfied; a direct step still reports it.
	_, err = s.Step()
	assert.ErrorIs(t, err, arbiter.ErrNoGoalsDefined)
}

func TestRunHonoursContext(t *testing.T) {
	s := newHungerSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := NewEngine().Run(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusStopped, run.Status)
	assert.Empty(t, run.Steps)
}

func TestRunStop(t *testing.T) {
	s, err := NewSession("stuck",
		[]goals.Goal{{Name: "Eat", Insistence: 1}},
		map[string]map[string]float64{"stare at fridge": {"Eat": 0}})
	require.NoError(t, err)

	eng := NewEngine()
	eng.MaxSteps = 1000
	eng.OnStep = func(run *Run, st Step) {
		if st.Number == 3 {
			eng.Stop()
		}
	}
	run, err := eng.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, run.Status)
	assert.Len(t, run.Steps, 3)
}

func TestRunOnStepSeesEveryStep(t *testing.T) {
	var seen []string
	eng := NewEngine()
	eng.Interval = time.Millisecond
	eng.OnStep = func(run *Run, st Step) {
		seen = append(seen, st.Action)
		assert.Equal(t, int(st.Number), len(run.Steps))
	}

	run, err := eng.Run(context.Background(), newHungerSession(t))
	require.NoError(t, err)
	assert.Equal(t, run.Actions(), seen)
}

func TestRunFirstCandidatePolicy(t *testing.T) {
	s := newHungerSession(t)
	s.SetPolicy(arbiter.PolicyFirstCandidate)

	run, err := NewEngine().Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "first", run.Policy)
	// First candidates happen to be the argmax choices for this catalog.
	assert.Equal(t, []string{"get raw food", "sleep in bed", "get raw food"}, run.Actions())
}

func TestSessionPreviewAndReset(t *testing.T) {
	s := newHungerSession(t)

	c, err := s.Preview()
	require.NoError(t, err)
	assert.Equal(t, "get raw food", c.Action)
	assert.Equal(t, goals.Snapshot{"Eat": 4, "Sleep": 3}, s.Snapshot(), "preview must not apply")

	_, err = s.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.StepCount())
	assert.Len(t, s.History(0), 1)

	s.Reset()
	assert.Equal(t, goals.Snapshot{"Eat": 4, "Sleep": 3}, s.Snapshot())
	assert.Equal(t, uint64(0), s.StepCount())
	assert.Empty(t, s.History(0))
}

func TestSessionStepAfterSatisfied(t *testing.T) {
	s := newHungerSession(t)
	_, err := NewEngine().Run(context.Background(), s)
	require.NoError(t, err)

	_, err = s.Step()
	assert.ErrorIs(t, err, arbiter.ErrSatisfied)
}

func TestSessionHistoryLimit(t *testing.T) {
	s, err := NewSession("stuck",
		[]goals.Goal{{Name: "Eat", Insistence: 1}},
		map[string]map[string]float64{"stare at fridge": {"Eat": 0}})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Step()
		require.NoError(t, err)
	}
	h := s.History(2)
	require.Len(t, h, 2)
	assert.Equal(t, uint64(4), h[0].Number)
	assert.Equal(t, uint64(5), h[1].Number)
}

func TestSessionDriftRaisesBeforeChoosing(t *testing.T) {
	s := newHungerSession(t)
	s.SetDrift(drift.NewNoise(3, 2))

	st, err := s.Step()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Before["Eat"], 4.0)
	assert.GreaterOrEqual(t, st.Before["Sleep"], 3.0)
}

func TestSessionConcurrentSteps(t *testing.T) {
	s, err := NewSession("busy",
		[]goals.Goal{{Name: "Eat", Insistence: 1000}},
		map[string]map[string]float64{"nibble": {"Eat": -1}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = s.Step()
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(200), s.StepCount())
	assert.Equal(t, goals.Snapshot{"Eat": 800}, s.Snapshot())
}

func TestSessionFailedStepLeavesStateUnchanged(t *testing.T) {
	s, err := NewSession("thirsty",
		[]goals.Goal{{Name: "Eat", Insistence: 1}, {Name: "Drink", Insistence: 5}},
		map[string]map[string]float64{"snack": {"Eat": -1}})
	require.NoError(t, err)
	s.SetDrift(drift.NewNoise(3, 2))

	for i := 0; i < 5; i++ {
		_, err := s.Step()
		require.ErrorIs(t, err, arbiter.ErrNoApplicableAction)
	}
	assert.Equal(t, goals.Snapshot{"Eat": 1, "Drink": 5}, s.Snapshot())
	assert.Equal(t, uint64(0), s.StepCount())
	assert.Empty(t, s.History(0))
}

func TestRunDriftOutpacesRemedies(t *testing.T) {
	s := newHungerSession(t)
	s.SetDrift(drift.NewNoise(7, 50))

	eng := NewEngine()
	eng.MaxSteps = 5
	run, err := eng.Run(context.Background(), s)
	require.ErrorIs(t, err, ErrConvergenceFailure)
	assert.Equal(t, StatusConvergenceFailure, run.Status)
	assert.Len(t, run.Steps, 5)
	assert.False(t, run.Final.Satisfied())
}

func TestRunSharedSessionFinishedByAnotherCaller(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := newHungerSession(t)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if _, err := s.Step(); err != nil {
						return
					}
				}
			}()
		}

		run, err := NewEngine().Run(context.Background(), s)
		wg.Wait()

		require.NoError(t, err)
		assert.Equal(t, StatusSatisfied, run.Status)
		assert.True(t, s.IsSatisfied())
	}
}
