package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/goal-arbiter/internal/persistence"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the history database",
	Args:  cobra.NoArgs,
	RunE:  showHistory,
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Print the scenario's goals and action catalog",
	Args:  cobra.NoArgs,
	RunE:  showActions,
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return fmt.Errorf("no run history at %s", cfg.DBPath)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := db.RecentRuns(limit)
	if err != nil {
		return err
	}
	lastRun, err := db.GetMeta("last_run")
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), runs, lastRun)
	return nil
}

// printHistory lists runs newest first. The run saved most recently by
// "arbiter run" is marked with "*".
func printHistory(w io.Writer, runs []persistence.RunSummary, lastRun string) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tSESSION\tPOLICY\tSTATUS\tSTEPS\tSTARTED")
	for _, r := range runs {
		mark := ""
		if r.ID == lastRun {
			mark = "*"
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			mark, id, r.Session, r.Policy, r.Status,
			humanize.Comma(int64(r.StepCount)), humanize.Time(r.StartedAt))
	}
	tw.Flush()
}

func showActions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sess, sc, err := newSession(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "SCENARIO: %s\n", sc.Name)
	fmt.Fprintln(out, "GOALS:", formatSnapshot(goalNames(sess.Goals()), sess.Snapshot()))
	printActions(out, sess.Actions())
	return nil
}
