// Package drift regenerates goal insistence between decision steps, the
// way hunger returns over time. Without drift a run only ever moves goals
// toward zero.
package drift

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/goal-arbiter/internal/goals"
)

// Noise adds smooth pseudo-random insistence to every goal each step.
// The same seed always produces the same sequence.
type Noise struct {
	Amplitude float64 // Maximum insistence added per goal per step
	Frequency float64 // Step-axis sampling frequency (default 0.3)

	noise opensimplex.Noise
}

// NewNoise creates a drift source. Returns nil if amplitude is not positive,
// so callers can treat a nil *Noise as "drift disabled".
func NewNoise(seed int64, amplitude float64) *Noise {
	if amplitude <= 0 {
		return nil
	}
	return &Noise{
		Amplitude: amplitude,
		Frequency: 0.3,
		noise:     opensimplex.NewNormalized(seed),
	}
}

// Sample returns the insistence added to goal index i at the given step.
func (n *Noise) Sample(i int, step uint64) float64 {
	if n == nil {
		return 0
	}
	v := n.noise.Eval2(float64(step)*n.Frequency, float64(i)*7.3)
	// Clamp to [0, 1].
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return n.Amplitude * v
}

// Apply adds one step of drift to every goal in the store.
func (n *Noise) Apply(store *goals.Store, step uint64) error {
	if n == nil {
		return nil
	}
	for i, name := range store.Names() {
		if _, err := store.Apply(name, n.Sample(i, step)); err != nil {
			return err
		}
	}
	return nil
}
