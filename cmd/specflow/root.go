package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "specflow",
	Short: "Phase-based workflow orchestration engine",
	Long: `Specflow delivers a feature through an ordered sequence of phases
(spec, clarify, plan, tasks, analyze, implement, optimize, ship, finalize),
delegating each phase's work to isolated, stateless workers.

All progress is persisted to .specflow/state.yaml, so execution can be
interrupted at any point and resumed with 'specflow continue'. Phases with
a manual gate (plan, ship) halt until 'specflow approve' unless --auto is
set. Work items with independent dependencies run in parallel layers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
