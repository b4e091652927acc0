package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/orchestrator"
	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/pkg/models"
)

var approveCmd = &cobra.Command{
	Use:   "approve <phase>",
	Short: "Approve a pending phase gate",
	Long: `Satisfy the manual gate on a phase (plan or ship). A workflow
halted on the gate picks the approval up on 'specflow continue'; a
workflow still running with a gate wait picks it up immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	phase := models.PhaseName(args[0])
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", args[0])
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	store := state.NewStore(state.DefaultPath(cwd))
	if !store.Exists() {
		return fmt.Errorf("no workflow found; run 'specflow start <description>' first")
	}

	if err := orchestrator.Approve(cmd.Context(), store, phase, "user"); err != nil {
		return err
	}

	fmt.Printf("%s %s gate approved\n", color.GreenString("✓"), phase)
	return nil
}
