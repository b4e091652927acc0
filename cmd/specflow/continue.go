package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Resume an interrupted workflow",
	Long: `Resume the workflow exactly where it halted. Completed phases are
never re-executed; an in-flight phase re-derives its remaining work from
item status. A workflow halted on a critical failure is re-entered with
only the failed items requeued.`,
	Args: cobra.NoArgs,
	RunE: runContinue,
}

func init() {
	continueCmd.Flags().BoolVar(&flagAuto, "auto", false, "Skip manual gates automatically")
	continueCmd.Flags().IntVar(&flagWorkers, "workers", 0, "Max concurrent workers per layer")
	continueCmd.Flags().StringVar(&flagWorkerCmd, "worker-command", "", "Subprocess worker command (default: API worker)")
}

func runContinue(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.close()

	if !e.store.Exists() {
		return fmt.Errorf("no workflow found; run 'specflow start <description>' first")
	}

	return e.orchestrator.Resume(cmd.Context())
}
