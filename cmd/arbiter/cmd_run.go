package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/goal-arbiter/internal/engine"
	"github.com/talgya/goal-arbiter/internal/persistence"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenario until every goal is satisfied",
	Long: `Prints the action catalog, then one block per step:
the goals before, the chosen action and the goals after.

Exits non-zero if the step cap is reached or a goal has no remedy.`,
	Args: cobra.NoArgs,
	RunE: runScenario,
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sess, _, err := newSession(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	names := goalNames(sess.Goals())

	printActions(out, sess.Actions())
	fmt.Fprintln(out, ">> Start <<")
	fmt.Fprintln(out, rule)

	eng := engine.NewEngine()
	eng.MaxSteps = cfg.MaxSteps
	eng.Interval = cfg.Interval
	eng.OnStep = func(_ *engine.Run, st engine.Step) {
		printStep(out, names, st, cfg.Verbose)
	}

	// An interrupt finishes the current step, then the run is saved as stopped.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		eng.Stop()
	}()

	run, runErr := eng.Run(context.Background(), sess)

	if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave && cfg.DBPath != "" {
		if err := saveRun(cfg.DBPath, run); err != nil {
			slog.Error("failed to save run", "run", run.ID, "error", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, engine.ErrConvergenceFailure) {
			fmt.Fprintf(out, ">> Gave up after %d steps <<\n", len(run.Steps))
		}
		return runErr
	}
	if run.Status == engine.StatusStopped {
		fmt.Fprintln(out, ">> Stopped <<")
		return nil
	}
	fmt.Fprintln(out, ">> Done! <<")
	return nil
}

func saveRun(path string, run *engine.Run) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	db, err := persistence.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveRun(run); err != nil {
		return err
	}
	return db.SaveMeta("last_run", run.ID)
}
