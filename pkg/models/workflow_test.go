package models

import (
	"testing"
	"time"
)

func TestNewWorkflowState(t *testing.T) {
	now := time.Now()
	state := NewWorkflowState("add search", now)

	if state.CurrentPhase != PhaseSpec {
		t.Errorf("expected current phase %q, got %q", PhaseSpec, state.CurrentPhase)
	}
	if len(state.Phases) != len(PhaseSequence) {
		t.Errorf("expected %d phase records, got %d", len(PhaseSequence), len(state.Phases))
	}
	for _, name := range PhaseSequence {
		rec := state.Phase(name)
		if rec == nil {
			t.Fatalf("missing record for phase %q", name)
		}
		if rec.Status != PhaseStatusPending {
			t.Errorf("phase %q status = %q, want pending", name, rec.Status)
		}
		if GatedPhases[name] != rec.Gate.Required {
			t.Errorf("phase %q gate required = %v, want %v", name, rec.Gate.Required, GatedPhases[name])
		}
	}

	if err := state.Validate(); err != nil {
		t.Errorf("fresh state should validate: %v", err)
	}
}

func TestWorkflowStateLookups(t *testing.T) {
	state := NewWorkflowState("x", time.Now())
	state.WorkItems = []*WorkItem{
		{ID: "a", Phase: PhaseImplement, Status: WorkItemPending},
		{ID: "b", Phase: PhaseImplement, Status: WorkItemPending},
		{ID: "c", Phase: PhasePlan, Status: WorkItemCompleted},
	}

	if state.Item("b") == nil {
		t.Error("expected to find item b")
	}
	if state.Item("zzz") != nil {
		t.Error("expected nil for unknown item")
	}
	if got := len(state.ItemsForPhase(PhaseImplement)); got != 2 {
		t.Errorf("expected 2 implement items, got %d", got)
	}
}

func TestWorkflowStateCloneIsDeep(t *testing.T) {
	state := NewWorkflowState("x", time.Now())
	state.WorkItems = []*WorkItem{{
		ID:           "a",
		Phase:        PhaseImplement,
		Status:       WorkItemInProgress,
		Lock:         &Lock{OwnerID: "w1", ExpiresAt: time.Now().Add(time.Minute)},
		Dependencies: []string{"b"},
		Answers:      map[string][]string{"q1": {"yes"}},
	}}
	state.InteractionQueue = []*Question{{
		ID:         "q1",
		WorkItemID: "a",
		Text:       "which?",
		Options:    []QuestionOption{{Label: "yes"}, {Label: "no"}},
	}}

	clone := state.Clone()
	clone.WorkItems[0].Lock.OwnerID = "w2"
	clone.WorkItems[0].Dependencies[0] = "changed"
	clone.WorkItems[0].Answers["q1"][0] = "no"
	clone.InteractionQueue[0].Options[0].Label = "maybe"
	clone.Phases[PhasePlan].Status = PhaseStatusInProgress

	if state.WorkItems[0].Lock.OwnerID != "w1" {
		t.Error("clone shares lock with original")
	}
	if state.WorkItems[0].Dependencies[0] != "b" {
		t.Error("clone shares dependencies slice with original")
	}
	if state.WorkItems[0].Answers["q1"][0] != "yes" {
		t.Error("clone shares answers map with original")
	}
	if state.InteractionQueue[0].Options[0].Label != "yes" {
		t.Error("clone shares question options with original")
	}
	if state.Phases[PhasePlan].Status != PhaseStatusPending {
		t.Error("clone shares phase records with original")
	}
}

func TestValidateRejectsTwoInProgressPhases(t *testing.T) {
	state := NewWorkflowState("x", time.Now())
	state.Phases[PhaseSpec].Status = PhaseStatusInProgress
	state.Phases[PhasePlan].Status = PhaseStatusInProgress

	if err := state.Validate(); err == nil {
		t.Error("expected validation failure with two in_progress phases")
	}
}

func TestValidateRejectsLockWithoutClaim(t *testing.T) {
	state := NewWorkflowState("x", time.Now())
	state.WorkItems = []*WorkItem{{
		ID:     "a",
		Phase:  PhaseImplement,
		Status: WorkItemPending,
		Lock:   &Lock{OwnerID: "w1", ExpiresAt: time.Now()},
	}}

	if err := state.Validate(); err == nil {
		t.Error("expected validation failure for lock on non-claimed item")
	}
}

func TestValidateRejectsDuplicateItemIDs(t *testing.T) {
	state := NewWorkflowState("x", time.Now())
	state.WorkItems = []*WorkItem{
		{ID: "a", Status: WorkItemPending},
		{ID: "a", Status: WorkItemPending},
	}

	if err := state.Validate(); err == nil {
		t.Error("expected validation failure for duplicate item ids")
	}
}

func TestValidateRejectsOrphanQuestion(t *testing.T) {
	state := NewWorkflowState("x", time.Now())
	state.InteractionQueue = []*Question{{ID: "q1", WorkItemID: "missing"}}

	if err := state.Validate(); err == nil {
		t.Error("expected validation failure for question on unknown item")
	}
}
