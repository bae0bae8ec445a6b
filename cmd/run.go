// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/agent"
	"github.com/xkilldash9x/browserpilot/internal/observability"
	"github.com/xkilldash9x/browserpilot/internal/service"
)

// cliChatID marks runs started from the command line in the run store.
const cliChatID int64 = 0

// newRunCmd creates the `run` command, which executes one task and prints its result.
func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		headless      bool
		maxIterations int
		showHistory   bool
	)

	runCmd := &cobra.Command{
		Use:   "run <task...>",
		Short: "Carry out a single natural-language task in the browser",
		Long: `Run starts the browser, executes the task to a terminal state and prints the result.
The words after "run" are joined into the task, e.g.

  browserpilot run open the latest video from the Go channel on youtube`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("max-iterations") {
				if maxIterations <= 0 {
					return fmt.Errorf("--max-iterations must be positive, got %d", maxIterations)
				}
				cfg.SetAgentMaxIterations(maxIterations)
			}

			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return fmt.Errorf("task must not be empty")
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			res := components.Controller.Execute(ctx, task)
			components.Record(cliChatID, res)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Message)
			if showHistory {
				for i, entry := range res.History {
					fmt.Fprintf(out, "%3d. %s\n", i+1, entry)
				}
			}

			logger.Info("Run complete.",
				zap.String("run_id", res.RunID),
				zap.String("outcome", string(res.Outcome)),
				zap.Int("iterations", res.Iterations))

			if !succeeded(res.Outcome) {
				if cause := context.Cause(ctx); cause != nil {
					return fmt.Errorf("run %s ended as %s: %w", res.RunID, res.Outcome, cause)
				}
				return fmt.Errorf("run %s ended as %s", res.RunID, res.Outcome)
			}
			return nil
		},
	}

	runCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "Iteration ceiling of the general loop. (Overrides config/env)")
	runCmd.Flags().BoolVar(&showHistory, "history", false, "Print the run's action history after the result.")

	return runCmd
}

// succeeded reports whether an outcome counts as success for the exit status.
// An uncertain run stopped verifying and assumed success.
func succeeded(o agent.Outcome) bool {
	return o == agent.OutcomeCompleted || o == agent.OutcomeUncertain
}
