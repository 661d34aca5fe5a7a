// Command arbiter drives a goal-arbitration session: it repeatedly picks the
// most insistent goal, applies the action that best reduces it, and stops
// when every goal is satisfied.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/goal-arbiter/internal/arbiter"
	"github.com/talgya/goal-arbiter/internal/config"
	"github.com/talgya/goal-arbiter/internal/drift"
	"github.com/talgya/goal-arbiter/internal/engine"
)

var (
	scenarioPath string
	dbPath       string
	maxSteps     uint64
	policyName   string
	quiet        bool
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Greedy goal arbitration: satisfy the most insistent goal first",
	Long: `arbiter runs a single agent with competing goals against a fixed
catalog of actions. Each step it picks the goal with the highest insistence,
scores every action that affects it, and applies the best one.

Settings come from ARBITER_* environment variables; flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&scenarioPath, "scenario", "s", "", "Scenario YAML file (default: built-in hungry-and-tired agent)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite run history path (or set ARBITER_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	runCmd.Flags().Uint64Var(&maxSteps, "max-steps", 0, "Step cap before reporting a convergence failure")
	runCmd.Flags().StringVar(&policyName, "policy", "", "Action selection policy: argmax or first")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print BEST_GOAL lines")
	runCmd.Flags().Bool("no-save", false, "Do not store the run in the history database")

	historyCmd.Flags().Int("limit", 10, "Number of runs to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(actionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies any flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("scenario") {
		cfg.Scenario = scenarioPath
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("max-steps") {
		cfg.MaxSteps = maxSteps
	}
	if flags.Changed("policy") {
		cfg.Policy = policyName
	}
	if flags.Changed("quiet") {
		cfg.Verbose = !quiet
	}
	return cfg, nil
}

// loadScenario returns the configured scenario file or the built-in default.
func loadScenario(cfg config.Config) (config.Scenario, error) {
	if cfg.Scenario == "" {
		return config.DefaultScenario(), nil
	}
	return config.LoadScenario(cfg.Scenario)
}

// newSession builds a session from config: scenario, policy and drift.
func newSession(cfg config.Config) (*engine.Session, config.Scenario, error) {
	sc, err := loadScenario(cfg)
	if err != nil {
		return nil, config.Scenario{}, err
	}
	sess, err := engine.NewSession(sc.Name, sc.Goals, sc.Actions)
	if err != nil {
		return nil, config.Scenario{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	policy, err := arbiter.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, config.Scenario{}, err
	}
	sess.SetPolicy(policy)

	if d := drift.NewNoise(cfg.DriftSeed, cfg.DriftAmplitude); d != nil {
		sess.SetDrift(d)
		slog.Info("insistence drift enabled", "amplitude", cfg.DriftAmplitude, "seed", cfg.DriftSeed)
	}
	return sess, sc, nil
}
