package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <description>",
	Short: "Start a new workflow for a feature description",
	Long: `Create a fresh workflow state in .specflow/state.yaml and run it
through the phase sequence. The workflow halts on manual gates (unless
--auto is set), on unanswered questions without a terminal, and on any
critical failure. Halted workflows resume with 'specflow continue'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&flagAuto, "auto", false, "Skip manual gates automatically")
	startCmd.Flags().BoolVar(&flagSkipClarify, "skip-clarify", false, "Skip the clarify phase")
	startCmd.Flags().IntVar(&flagWorkers, "workers", 0, "Max concurrent workers per layer")
	startCmd.Flags().StringVar(&flagWorkerCmd, "worker-command", "", "Subprocess worker command (default: API worker)")
}

func runStart(cmd *cobra.Command, args []string) error {
	description := strings.Join(args, " ")

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.close()

	if e.store.Exists() {
		return fmt.Errorf("a workflow already exists at %s; run 'specflow continue' or remove it first", e.store.Path())
	}

	return e.orchestrator.Start(cmd.Context(), description)
}
