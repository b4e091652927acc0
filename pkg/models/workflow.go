// Package models defines the shared data model for the specflow engine:
// the workflow state document, phases, work items, and queued questions.
package models

import (
	"fmt"
	"time"
)

// WorkflowState is the root of one workflow instance's persisted state.
// It is mutated only through the state store's atomic update operation.
type WorkflowState struct {
	// Description is the feature description the workflow was started with.
	Description string `yaml:"description"`
	// CurrentPhase is the phase the orchestrator is in or will enter next.
	CurrentPhase PhaseName `yaml:"phase"`
	// Phases maps phase names to their progress records.
	Phases map[PhaseName]*PhaseRecord `yaml:"phases"`
	// WorkItems are all schedulable units across phases.
	WorkItems []*WorkItem `yaml:"work_items"`
	// InteractionQueue holds questions waiting to be surfaced to a human.
	InteractionQueue []*Question `yaml:"interaction_queue,omitempty"`
	// Version is a monotonic counter used for optimistic concurrency.
	Version int64 `yaml:"version"`
	// CreatedAt is when the workflow was started.
	CreatedAt time.Time `yaml:"created_at"`
	// UpdatedAt is when the state was last committed.
	UpdatedAt time.Time `yaml:"updated_at"`
}

// NewWorkflowState creates the initial state for a workflow instance.
// Every phase in the sequence gets a pending record; gated phases get a
// required gate in pending status.
func NewWorkflowState(description string, now time.Time) *WorkflowState {
	phases := make(map[PhaseName]*PhaseRecord, len(PhaseSequence))
	for _, name := range PhaseSequence {
		rec := &PhaseRecord{Name: name, Status: PhaseStatusPending}
		if GatedPhases[name] {
			rec.Gate = Gate{Required: true, Status: GateStatusPending}
		}
		phases[name] = rec
	}
	return &WorkflowState{
		Description:  description,
		CurrentPhase: PhaseSpec,
		Phases:       phases,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Phase returns the record for the given phase, or nil if absent.
func (s *WorkflowState) Phase(name PhaseName) *PhaseRecord {
	return s.Phases[name]
}

// Item returns the work item with the given ID, or nil if absent.
func (s *WorkflowState) Item(id string) *WorkItem {
	for _, item := range s.WorkItems {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// ItemsForPhase returns the work items belonging to the given phase.
func (s *WorkflowState) ItemsForPhase(phase PhaseName) []*WorkItem {
	var items []*WorkItem
	for _, item := range s.WorkItems {
		if item.Phase == phase {
			items = append(items, item)
		}
	}
	return items
}

// Question returns the queued question with the given ID, or nil.
func (s *WorkflowState) Question(id string) *Question {
	for _, q := range s.InteractionQueue {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// Clone returns a deep copy of the state. The store hands mutators a clone
// so a failed update never leaves partial changes visible.
func (s *WorkflowState) Clone() *WorkflowState {
	out := *s
	out.Phases = make(map[PhaseName]*PhaseRecord, len(s.Phases))
	for name, rec := range s.Phases {
		cp := *rec
		if rec.StartedAt != nil {
			t := *rec.StartedAt
			cp.StartedAt = &t
		}
		if rec.CompletedAt != nil {
			t := *rec.CompletedAt
			cp.CompletedAt = &t
		}
		if rec.Gate.ApprovedAt != nil {
			t := *rec.Gate.ApprovedAt
			cp.Gate.ApprovedAt = &t
		}
		out.Phases[name] = &cp
	}
	out.WorkItems = make([]*WorkItem, len(s.WorkItems))
	for i, item := range s.WorkItems {
		out.WorkItems[i] = item.Clone()
	}
	out.InteractionQueue = make([]*Question, len(s.InteractionQueue))
	for i, q := range s.InteractionQueue {
		out.InteractionQueue[i] = q.Clone()
	}
	return &out
}

// Validate checks the structural invariants of the state document.
// It is called on every store commit so that no mutation, including a
// hand-edit, can persist an inconsistent document.
func (s *WorkflowState) Validate() error {
	if !s.CurrentPhase.Valid() {
		return fmt.Errorf("unknown current phase %q", s.CurrentPhase)
	}

	inProgress := 0
	for name, rec := range s.Phases {
		if rec == nil {
			return fmt.Errorf("phase %q has no record", name)
		}
		if !rec.Status.Valid() {
			return fmt.Errorf("phase %q has unknown status %q", name, rec.Status)
		}
		if rec.Status == PhaseStatusInProgress {
			inProgress++
		}
		if rec.Gate.Status != "" && !rec.Gate.Status.Valid() {
			return fmt.Errorf("phase %q has unknown gate status %q", name, rec.Gate.Status)
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("%d phases are in_progress, want at most 1", inProgress)
	}

	seen := make(map[string]bool, len(s.WorkItems))
	for _, item := range s.WorkItems {
		if item.ID == "" {
			return fmt.Errorf("work item with empty id")
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate work item id %q", item.ID)
		}
		seen[item.ID] = true
		if !item.Status.Valid() {
			return fmt.Errorf("work item %s has unknown status %q", item.ID, item.Status)
		}
		if item.Lock != nil && item.Status != WorkItemInProgress {
			return fmt.Errorf("work item %s holds a lock while %s", item.ID, item.Status)
		}
	}

	for _, q := range s.InteractionQueue {
		if q.ID == "" {
			return fmt.Errorf("queued question with empty id")
		}
		if q.WorkItemID != "" && !seen[q.WorkItemID] {
			return fmt.Errorf("question %s references unknown work item %q", q.ID, q.WorkItemID)
		}
	}

	return nil
}
