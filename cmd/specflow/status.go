package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/journal"
	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/pkg/models"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflow progress",
	Long: `Display the current workflow state: phase progress, work items,
pending questions, and gates. With --history, also show the most recent
entries of the execution journal.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 0, "Show the last N journal entries")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	store := state.NewStore(state.DefaultPath(cwd))
	if !store.Exists() {
		fmt.Println("No workflow. Run 'specflow start <description>' to begin.")
		return nil
	}

	s, err := store.Read()
	if err != nil {
		return err
	}

	displayWorkflow(s)

	if statusHistory > 0 {
		if err := displayHistory(cmd, cwd, statusHistory); err != nil {
			return err
		}
	}
	return nil
}

func displayWorkflow(s *models.WorkflowState) {
	bold := color.New(color.Bold)

	bold.Printf("Workflow: %s\n", s.Description)
	fmt.Printf("Current phase: %s (version %d)\n\n", s.CurrentPhase, s.Version)

	for _, name := range models.PhaseSequence {
		rec := s.Phase(name)
		if rec == nil {
			continue
		}
		fmt.Printf("  %s %-10s %s%s\n",
			phaseSymbol(rec.Status), name, phaseStatusText(rec.Status), gateSuffix(rec))

		items := s.ItemsForPhase(name)
		if len(items) == 0 || rec.Status == models.PhaseStatusPending {
			continue
		}
		counts := map[models.WorkItemStatus]int{}
		for _, item := range items {
			counts[item.Status]++
		}
		fmt.Printf("      items: %d total", len(items))
		for _, st := range []models.WorkItemStatus{
			models.WorkItemCompleted, models.WorkItemInProgress,
			models.WorkItemPending, models.WorkItemFailedRetriable,
			models.WorkItemFailedCritical,
		} {
			if counts[st] > 0 {
				fmt.Printf(", %d %s", counts[st], st)
			}
		}
		fmt.Println()

		for _, item := range items {
			if item.Status == models.WorkItemFailedCritical {
				color.Red("      ✗ %s: %s", item.ID, item.FailureReason)
				if item.RecoveryHint != "" {
					fmt.Printf("        hint: %s\n", item.RecoveryHint)
				}
			}
		}
	}

	pending := 0
	for _, q := range s.InteractionQueue {
		if !q.Answered() {
			pending++
		}
	}
	if pending > 0 {
		color.Yellow("\n%d questions pending; run 'specflow continue' in a terminal", pending)
	}
}

func phaseSymbol(status models.PhaseStatus) string {
	switch status {
	case models.PhaseStatusCompleted:
		return color.GreenString("✓")
	case models.PhaseStatusInProgress:
		return color.YellowString("→")
	case models.PhaseStatusFailed:
		return color.RedString("✗")
	case models.PhaseStatusAutoSkipped:
		return color.New(color.Faint).Sprint("-")
	default:
		return " "
	}
}

func phaseStatusText(status models.PhaseStatus) string {
	if status == models.PhaseStatusPending {
		return ""
	}
	return string(status)
}

func gateSuffix(rec *models.PhaseRecord) string {
	if !rec.Gate.Required {
		return ""
	}
	switch rec.Gate.Status {
	case models.GateStatusApproved:
		return color.New(color.Faint).Sprintf("  [gate approved by %s]", rec.Gate.ApprovedBy)
	case models.GateStatusAutoSkipped:
		return color.New(color.Faint).Sprint("  [gate auto-skipped]")
	default:
		return color.YellowString("  [gate pending]")
	}
}

func displayHistory(cmd *cobra.Command, cwd string, limit int) error {
	j, err := journal.Open(journal.DefaultPath(cwd))
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.History(cmd.Context(), limit)
	if err != nil {
		return err
	}

	fmt.Println()
	color.New(color.Bold).Println("History:")
	for _, e := range entries {
		fmt.Printf("  %s  %-10s %-12s %s\n",
			e.At.Local().Format("15:04:05"), e.Kind, e.Subject, e.Detail)
	}
	return nil
}
