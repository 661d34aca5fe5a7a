// Session ties a goal store and an action catalog together and applies one
// decision at a time.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/goal-arbiter/internal/arbiter"
	"github.com/talgya/goal-arbiter/internal/drift"
	"github.com/talgya/goal-arbiter/internal/goals"
)

// maxHistory bounds the in-memory step history kept per session.
const maxHistory = 1000

// Step records one applied decision.
type Step struct {
	Number     uint64         `json:"number"`
	Goal       string         `json:"goal"`
	Insistence float64        `json:"insistence"`
	Action     string         `json:"action"`
	Utility    float64        `json:"utility"`
	Before     goals.Snapshot `json:"before"`
	After      goals.Snapshot `json:"after"`
}

// Session owns the goal store for one agent. Every method takes the session
// lock, so choosing and applying an action is a single atomic step even when
// the session is shared with HTTP handlers.
type Session struct {
	Name string

	mu      sync.Mutex
	initial []goals.Goal
	store   *goals.Store
	catalog *goals.Catalog
	policy  arbiter.Policy
	drift   *drift.Noise
	step    uint64
	history []Step
}

// NewSession builds a session from initial goals (in tie-break order) and an
// action catalog definition. Actions that reference unknown goals are rejected.
func NewSession(name string, initial []goals.Goal, actions map[string]map[string]float64) (*Session, error) {
	store, err := goals.NewStore(initial)
	if err != nil {
		return nil, fmt.Errorf("goals: %w", err)
	}
	catalog, err := goals.NewCatalog(actions)
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	if err := catalog.Validate(store); err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}

	return &Session{
		Name:    name,
		initial: store.Goals(),
		store:   store,
		catalog: catalog,
	}, nil
}

// SetPolicy changes how the winning action is picked.
func (s *Session) SetPolicy(p arbiter.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Policy returns the action selection policy.
func (s *Session) Policy() arbiter.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetDrift enables insistence regeneration before every step. Nil disables it.
func (s *Session) SetDrift(d *drift.Noise) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drift = d
}

// Step regenerates drift (if enabled), chooses the best action and applies
// its effects. The step runs against a copy of the store that replaces it
// only on success, so a failed step leaves the session unchanged.
func (s *Session) Step() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.step + 1
	next := s.store.Clone()
	if err := s.drift.Apply(next, n); err != nil {
		return Step{}, fmt.Errorf("drift: %w", err)
	}

	before := next.Snapshot()
	choice, err := arbiter.Choose(next, s.catalog, s.policy)
	if err != nil {
		return Step{}, err
	}

	effects, err := s.catalog.EffectsOf(choice.Action)
	if err != nil {
		return Step{}, err
	}
	if err := next.ApplyEffects(effects); err != nil {
		return Step{}, fmt.Errorf("apply %q: %w", choice.Action, err)
	}

	s.store = next
	s.step = n
	st := Step{
		Number:     n,
		Goal:       choice.Goal,
		Insistence: choice.Insistence,
		Action:     choice.Action,
		Utility:    choice.Utility,
		Before:     before,
		After:      s.store.Snapshot(),
	}

	s.history = append(s.history, st)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}

	slog.Debug("step applied", "session", s.Name, "step", n, "goal", st.Goal, "action", st.Action, "utility", st.Utility)
	return st, nil
}

// Preview returns the decision the next step would make, without applying it
// or advancing drift.
func (s *Session) Preview() (arbiter.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return arbiter.Choose(s.store, s.catalog, s.policy)
}

// Reset restores the initial insistence values and clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Initial goals were already validated, so this cannot fail.
	store, _ := goals.NewStore(s.initial)
	s.store = store
	s.step = 0
	s.history = nil
}

// IsSatisfied reports whether every goal is at zero.
func (s *Session) IsSatisfied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.IsSatisfied()
}

// Snapshot returns the current insistence values.
func (s *Session) Snapshot() goals.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// Goals returns the current goals in declaration order.
func (s *Session) Goals() []goals.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Goals()
}

// Actions returns the catalog in enumeration order.
func (s *Session) Actions() []goals.Action {
	return s.catalog.Actions()
}

// StepCount returns the number of steps applied since creation or reset.
func (s *Session) StepCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// History returns up to limit of the most recent steps, oldest first.
// A limit of zero or less returns everything kept.
func (s *Session) History(limit int) []Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]Step, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}
