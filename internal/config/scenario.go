package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/goal-arbiter/internal/goals"
)

// Scenario is the static input to a session: starting goals and the action
// catalog. Goal order in the file is the tie-break order.
type Scenario struct {
	Name    string                        `yaml:"name"`
	Goals   []goals.Goal                  `yaml:"goals"`
	Actions map[string]map[string]float64 `yaml:"actions"`
}

// DefaultScenario is the hungry-and-tired agent: two goals, two remedies each.
func DefaultScenario() Scenario {
	return Scenario{
		Name: "default",
		Goals: []goals.Goal{
			{Name: "Eat", Insistence: 4},
			{Name: "Sleep", Insistence: 3},
		},
		Actions: map[string]map[string]float64{
			"get raw food":  {"Eat": -3},
			"get snack":     {"Eat": -2},
			"sleep in bed":  {"Sleep": -4},
			"sleep on sofa": {"Sleep": -2},
		},
	}
}

// LoadScenario reads a scenario from a YAML file. The file name is used when
// the scenario has no name of its own.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks the scenario shape and that goal values and action deltas
// are usable, so a bad file fails at load time rather than mid-run.
func (sc Scenario) Validate() error {
	if len(sc.Goals) == 0 {
		return errors.New("scenario needs at least one goal")
	}
	if len(sc.Actions) == 0 {
		return errors.New("scenario needs at least one action")
	}
	for _, g := range sc.Goals {
		if g.Name == "" {
			return errors.New("goal with empty name")
		}
	}
	store, err := goals.NewStore(sc.Goals)
	if err != nil {
		return fmt.Errorf("goals: %w", err)
	}
	catalog, err := goals.NewCatalog(sc.Actions)
	if err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	if err := catalog.Validate(store); err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	return nil
}
