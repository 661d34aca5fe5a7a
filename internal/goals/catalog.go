package goals

import (
	"fmt"
	"sort"
)

// Action is a named operation with fixed effects on one or more goals.
type Action struct {
	Name    string
	Effects map[string]float64 // goal name → signed delta
}

// Catalog is the read-only set of available actions.
type Catalog struct {
	ids     []string // sorted
	effects map[string]map[string]float64
}

// NewCatalog builds a catalog. Effect sets are copied in, so later changes
// to the input maps do not leak into the catalog.
func NewCatalog(actions map[string]map[string]float64) (*Catalog, error) {
	c := &Catalog{
		ids:     make([]string, 0, len(actions)),
		effects: make(map[string]map[string]float64, len(actions)),
	}
	for name, eff := range actions {
		if len(eff) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyEffects, name)
		}
		for goal, d := range eff {
			if !finite(d) {
				return nil, fmt.Errorf("%w: %q on %q = %v", ErrNotFinite, name, goal, d)
			}
		}
		c.ids = append(c.ids, name)
		c.effects[name] = copyEffects(eff)
	}
	sort.Strings(c.ids)
	return c, nil
}

// EffectsOf returns a copy of an action's effect set.
func (c *Catalog) EffectsOf(name string) (map[string]float64, error) {
	eff, ok := c.effects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return copyEffects(eff), nil
}

// Delta returns the effect of an action on one goal and whether the action
// affects that goal at all.
func (c *Catalog) Delta(action, goal string) (float64, bool) {
	d, ok := c.effects[action][goal]
	return d, ok
}

// AllActionIDs returns action names in lexicographic order. This is the
// enumeration order used for tie-breaking.
func (c *Catalog) AllActionIDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Actions returns every action in enumeration order.
func (c *Catalog) Actions() []Action {
	out := make([]Action, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, Action{Name: id, Effects: copyEffects(c.effects[id])})
	}
	return out
}

// Len returns the number of actions.
func (c *Catalog) Len() int {
	return len(c.ids)
}

// Validate checks that every goal named by an action exists in the store.
func (c *Catalog) Validate(s *Store) error {
	for _, id := range c.ids {
		for goal := range c.effects[id] {
			if !s.Has(goal) {
				return fmt.Errorf("action %q: %w: %q", id, ErrUnknownGoal, goal)
			}
		}
	}
	return nil
}

func copyEffects(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
