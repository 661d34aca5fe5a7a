// Package engine provides the step loop that drives a session until every
// goal is satisfied.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/goal-arbiter/internal/arbiter"
	"github.com/talgya/goal-arbiter/internal/goals"
)

// DefaultMaxSteps caps a run when no limit is configured.
const DefaultMaxSteps = 100

// ErrConvergenceFailure is returned when a run hits its step cap before
// every goal reaches zero.
var ErrConvergenceFailure = errors.New("goals did not converge")

// Status is the terminal state of a run.
type Status string

const (
	StatusRunning            Status = "running"
	StatusSatisfied          Status = "satisfied"
	StatusConvergenceFailure Status = "convergence_failure"
	StatusStopped            Status = "stopped"
	StatusError              Status = "error"
)

// Run is the record of one run-to-completion.
type Run struct {
	ID         string         `json:"id"`
	Session    string         `json:"session"`
	Policy     string         `json:"policy"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Initial    goals.Snapshot `json:"initial"`
	Final      goals.Snapshot `json:"final"`
	Steps      []Step         `json:"steps"`
}

// Engine drives a session forward one step at a time.
type Engine struct {
	MaxSteps uint64        // Step cap; 0 means DefaultMaxSteps
	Interval time.Duration // Pause between steps (0 = run flat out)

	// OnStep is called after every applied step, on the Run goroutine.
	OnStep func(run *Run, step Step)

	stopped atomic.Bool
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		MaxSteps: DefaultMaxSteps,
	}
}

// Stop makes a running loop return after its current step.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Run steps the session until every goal is zero, the step cap is reached,
// a decision fails, Stop is called or ctx is done. The returned Run is
// always non-nil and holds the steps applied so far.
func (e *Engine) Run(ctx context.Context, s *Session) (*Run, error) {
	e.stopped.Store(false)

	maxSteps := e.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	run := &Run{
		ID:        uuid.New().String(),
		Session:   s.Name,
		Policy:    s.Policy().String(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		Initial:   s.Snapshot(),
	}
	slog.Info("run started", "run", run.ID, "session", s.Name, "max_steps", maxSteps, "policy", run.Policy)

	err := e.loop(ctx, s, run, maxSteps)

	run.FinishedAt = time.Now().UTC()
	run.Final = s.Snapshot()
	if err != nil {
		run.Error = err.Error()
	}

	slog.Info("run finished",
		"run", run.ID,
		"status", run.Status,
		"steps", len(run.Steps),
		"elapsed", run.FinishedAt.Sub(run.StartedAt),
	)
	return run, err
}

func (e *Engine) loop(ctx context.Context, s *Session, run *Run, maxSteps uint64) error {
	for {
		if s.IsSatisfied() {
			run.Status = StatusSatisfied
			return nil
		}
		if uint64(len(run.Steps)) >= maxSteps {
			run.Status = StatusConvergenceFailure
			return fmt.Errorf("%w after %d steps", ErrConvergenceFailure, maxSteps)
		}
		if e.stopped.Load() {
			run.Status = StatusStopped
			return nil
		}
		if err := ctx.Err(); err != nil {
			run.Status = StatusStopped
			return err
		}

		st, err := s.Step()
		if errors.Is(err, arbiter.ErrSatisfied) {
			// Another caller sharing the session finished the job.
			run.Status = StatusSatisfied
			return nil
		}
		if err != nil {
			run.Status = StatusError
			return fmt.Errorf("step %d: %w", len(run.Steps)+1, err)
		}
		run.Steps = append(run.Steps, st)
		if e.OnStep != nil {
			e.OnStep(run, st)
		}

		if e.Interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.Interval):
			}
		}
	}
}

// Actions returns the chosen action of every step, in order.
func (r *Run) Actions() []string {
	out := make([]string, len(r.Steps))
	for i, st := range r.Steps {
		out[i] = st.Action
	}
	return out
}
