// Package goals provides the goal store and the static action catalog.
// Goals carry an insistence level; actions carry fixed per-goal deltas.
package goals

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownGoal        = errors.New("unknown goal")
	ErrUnknownAction      = errors.New("unknown action")
	ErrDuplicateGoal      = errors.New("duplicate goal")
	ErrNegativeInsistence = errors.New("negative insistence")
	ErrEmptyEffects       = errors.New("action has no effects")
	ErrNotFinite          = errors.New("value is not a finite number")
)

// Goal is a named quantity of unmet need. Higher insistence is more urgent.
type Goal struct {
	Name       string  `json:"name" yaml:"name"`
	Insistence float64 `json:"insistence" yaml:"insistence"`
}

// Store holds the current insistence of every goal.
// Goals are fixed at construction; only Apply and ApplyEffects mutate values.
// Store is not safe for concurrent use.
type Store struct {
	order  []string
	values map[string]float64
}

// NewStore creates a store from goals in declaration order.
// Declaration order is the tie-break order for goal selection.
func NewStore(initial []Goal) (*Store, error) {
	s := &Store{
		order:  make([]string, 0, len(initial)),
		values: make(map[string]float64, len(initial)),
	}
	for _, g := range initial {
		if _, ok := s.values[g.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateGoal, g.Name)
		}
		if !finite(g.Insistence) {
			return nil, fmt.Errorf("%w: %q = %v", ErrNotFinite, g.Name, g.Insistence)
		}
		if g.Insistence < 0 {
			return nil, fmt.Errorf("%w: %q = %v", ErrNegativeInsistence, g.Name, g.Insistence)
		}
		s.order = append(s.order, g.Name)
		s.values[g.Name] = g.Insistence
	}
	return s, nil
}

// Get returns the current insistence of a goal.
func (s *Store) Get(name string) (float64, error) {
	v, ok := s.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownGoal, name)
	}
	return v, nil
}

// Apply adds delta to a goal, clamping at zero, and returns the new value.
func (s *Store) Apply(name string, delta float64) (float64, error) {
	v, ok := s.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownGoal, name)
	}
	if !finite(delta) {
		return 0, fmt.Errorf("%w: delta %v for %q", ErrNotFinite, delta, name)
	}
	v = clamp(v + delta)
	s.values[name] = v
	return v, nil
}

// ApplyEffects applies every delta of an effect set. All goal names are
// checked before any value changes, so an unknown goal leaves the store intact.
func (s *Store) ApplyEffects(effects map[string]float64) error {
	for name, delta := range effects {
		if _, ok := s.values[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGoal, name)
		}
		if !finite(delta) {
			return fmt.Errorf("%w: delta %v for %q", ErrNotFinite, delta, name)
		}
	}
	for name, delta := range effects {
		s.values[name] = clamp(s.values[name] + delta)
	}
	return nil
}

// IsSatisfied reports whether every goal is at zero.
func (s *Store) IsSatisfied() bool {
	for _, v := range s.values {
		if v != 0 {
			return false
		}
	}
	return true
}

// Has reports whether the store tracks a goal.
func (s *Store) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Len returns the number of goals.
func (s *Store) Len() int {
	return len(s.order)
}

// Names returns goal names in declaration order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Goals returns the current goals in declaration order.
func (s *Store) Goals() []Goal {
	out := make([]Goal, len(s.order))
	for i, name := range s.order {
		out[i] = Goal{Name: name, Insistence: s.values[name]}
	}
	return out
}

// Snapshot returns a copy of the current insistence values.
func (s *Store) Snapshot() Snapshot {
	out := make(Snapshot, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Snapshot is a point-in-time copy of goal insistence values.
type Snapshot map[string]float64

// Satisfied reports whether every goal in the snapshot is at zero.
func (s Snapshot) Satisfied() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	c := &Store{
		order:  append([]string(nil), s.order...),
		values: make(map[string]float64, len(s.values)),
	}
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
