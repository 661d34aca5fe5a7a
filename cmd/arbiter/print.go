package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/talgya/goal-arbiter/internal/engine"
	"github.com/talgya/goal-arbiter/internal/goals"
)

var rule = strings.Repeat("-", 40)

func goalNames(gs []goals.Goal) []string {
	names := make([]string, len(gs))
	for i, g := range gs {
		names[i] = g.Name
	}
	return names
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatSnapshot renders goal values in declaration order.
func formatSnapshot(names []string, snap goals.Snapshot) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+": "+formatNumber(snap[n]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatEffects(effects map[string]float64) string {
	keys := make([]string, 0, len(effects))
	for k := range effects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return formatSnapshot(keys, effects)
}

func printActions(w io.Writer, actions []goals.Action) {
	fmt.Fprintln(w, "ACTIONS:")
	for _, a := range actions {
		fmt.Fprintf(w, " * [%s]: %s\n", a.Name, formatEffects(a.Effects))
	}
}

func printStep(w io.Writer, names []string, st engine.Step, verbose bool) {
	fmt.Fprintln(w, "GOALS:", formatSnapshot(names, st.Before))
	if verbose {
		fmt.Fprintln(w, "BEST_GOAL:", st.Goal, formatNumber(st.Insistence))
	}
	fmt.Fprintln(w, "BEST ACTION:", st.Action)
	fmt.Fprintln(w, "NEW GOALS:", formatSnapshot(names, st.After))
	fmt.Fprintln(w, rule)
}
