package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/converge/internal/constants"
	"github.com/Kocoro-lab/converge/internal/temporal"
	"github.com/Kocoro-lab/converge/internal/workflows"
)

var replayCmd = &cobra.Command{
	Use:   "replay <history.json>",
	Short: "Replay an exported workflow history against the current workflow code",
	Long: `Replays a history exported with "temporal workflow show --output json".
Fails when the current ResearchWorkflow code is non-deterministic against it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replayer := worker.NewWorkflowReplayer()
		replayer.RegisterWorkflowWithOptions(workflows.ResearchWorkflow, workflow.RegisterOptions{
			Name: constants.ResearchWorkflowName,
		})
		// activities are not executed during replay
		if err := replayer.ReplayWorkflowHistoryFromJSONFile(temporal.NewZapAdapter(newLogger(cmd)), args[0]); err != nil {
			return fmt.Errorf("replay failed (non-deterministic change or invalid history): %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replay succeeded for %s\n", args[0])
		return nil
	},
}
