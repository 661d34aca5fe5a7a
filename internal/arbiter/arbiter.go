// Package arbiter chooses the single best action for the most insistent goal.
// Each call is a one-step greedy decision; there is no lookahead.
package arbiter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/goal-arbiter/internal/goals"
)

var (
	ErrNoGoalsDefined     = errors.New("no goals defined")
	ErrNoApplicableAction = errors.New("no applicable action")
	ErrSatisfied          = errors.New("all goals satisfied")
)

// Policy controls how the winning action is picked among candidates.
type Policy uint8

const (
	PolicyArgmax         Policy = iota // Highest utility; ties go to the first candidate
	PolicyFirstCandidate               // First candidate in enumeration order, utility ignored
)

// String returns the policy's config name.
func (p Policy) String() string {
	switch p {
	case PolicyArgmax:
		return "argmax"
	case PolicyFirstCandidate:
		return "first"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "argmax":
		return PolicyArgmax, nil
	case "first":
		return PolicyFirstCandidate, nil
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// Candidate is one scored action.
type Candidate struct {
	Action  string  `json:"action"`
	Delta   float64 `json:"delta"`
	Utility float64 `json:"utility"`
}

// Choice is the outcome of one decision.
type Choice struct {
	Goal       string      `json:"goal"`
	Insistence float64     `json:"insistence"`
	Action     string      `json:"action"`
	Utility    float64     `json:"utility"`
	Candidates []Candidate `json:"candidates"` // Enumeration order
}

// Utility scores reducing a goal at level current by delta.
// A delta that leaves current-delta positive is worth -delta; anything else
// is worth nothing.
func Utility(delta, current float64) float64 {
	if current-delta > 0 {
		return -delta
	}
	return 0
}

// SelectGoal returns the most insistent goal. Ties go to the goal declared
// first.
func SelectGoal(store *goals.Store) (goals.Goal, error) {
	all := store.Goals()
	if len(all) == 0 {
		return goals.Goal{}, ErrNoGoalsDefined
	}
	best := all[0]
	for _, g := range all[1:] {
		if g.Insistence > best.Insistence {
			best = g
		}
	}
	return best, nil
}

// ChooseAction picks the action that best serves the most insistent goal
// using PolicyArgmax.
func ChooseAction(store *goals.Store, catalog *goals.Catalog) (Choice, error) {
	return Choose(store, catalog, PolicyArgmax)
}

// Choose picks an action for the most insistent goal under the given policy.
// It never mutates the store.
func Choose(store *goals.Store, catalog *goals.Catalog, policy Policy) (Choice, error) {
	target, err := SelectGoal(store)
	if err != nil {
		return Choice{}, err
	}
	if store.IsSatisfied() {
		return Choice{}, ErrSatisfied
	}

	slog.Debug("best goal", "goal", target.Name, "insistence", target.Insistence)

	choice := Choice{Goal: target.Name, Insistence: target.Insistence}
	found := false
	for _, id := range catalog.AllActionIDs() {
		delta, ok := catalog.Delta(id, target.Name)
		if !ok {
			continue
		}
		u := Utility(delta, target.Insistence)
		choice.Candidates = append(choice.Candidates, Candidate{Action: id, Delta: delta, Utility: u})

		switch {
		case !found:
			choice.Action, choice.Utility = id, u
			found = true
		case policy == PolicyArgmax && u > choice.Utility:
			choice.Action, choice.Utility = id, u
		}
	}

	if !found {
		return Choice{}, fmt.Errorf("%w for goal %q", ErrNoApplicableAction, target.Name)
	}
	return choice, nil
}
