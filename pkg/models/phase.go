package models

import "time"

// PhaseName identifies a stage in the delivery state machine.
type PhaseName string

const (
	// PhaseSpec produces the feature specification.
	PhaseSpec PhaseName = "spec"
	// PhaseClarify resolves ambiguities found in the spec. Optional.
	PhaseClarify PhaseName = "clarify"
	// PhasePlan produces the implementation plan. Carries a manual gate.
	PhasePlan PhaseName = "plan"
	// PhaseTasks breaks the plan into schedulable work items.
	PhaseTasks PhaseName = "tasks"
	// PhaseAnalyze cross-checks the plan and tasks for consistency.
	PhaseAnalyze PhaseName = "analyze"
	// PhaseImplement executes the task graph.
	PhaseImplement PhaseName = "implement"
	// PhaseOptimize reviews and improves the implementation.
	PhaseOptimize PhaseName = "optimize"
	// PhaseShip prepares the release. Carries a manual gate.
	PhaseShip PhaseName = "ship"
	// PhaseFinalize wraps up artifacts and notes.
	PhaseFinalize PhaseName = "finalize"
	// PhaseComplete is the terminal success state.
	PhaseComplete PhaseName = "complete"
	// PhaseFailed is the absorbing failure state, reachable from any phase.
	PhaseFailed PhaseName = "failed"
)

// PhaseSequence is the ordered list of phases a workflow moves through.
// PhaseFailed is not part of the sequence; it is reachable from anywhere.
var PhaseSequence = []PhaseName{
	PhaseSpec,
	PhaseClarify,
	PhasePlan,
	PhaseTasks,
	PhaseAnalyze,
	PhaseImplement,
	PhaseOptimize,
	PhaseShip,
	PhaseFinalize,
	PhaseComplete,
}

// Valid returns true if the phase name is a known value.
func (p PhaseName) Valid() bool {
	if p == PhaseFailed {
		return true
	}
	for _, name := range PhaseSequence {
		if p == name {
			return true
		}
	}
	return false
}

// Terminal returns true if no further phase follows.
func (p PhaseName) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Next returns the phase that follows p in the sequence.
// The second return value is false for terminal or unknown phases.
func (p PhaseName) Next() (PhaseName, bool) {
	for i, name := range PhaseSequence {
		if p == name && i+1 < len(PhaseSequence) {
			return PhaseSequence[i+1], true
		}
	}
	return "", false
}

// PhaseStatus represents the current state of a phase.
type PhaseStatus string

const (
	// PhaseStatusPending indicates the phase has not started.
	PhaseStatusPending PhaseStatus = "pending"
	// PhaseStatusInProgress indicates the phase is being worked on.
	PhaseStatusInProgress PhaseStatus = "in_progress"
	// PhaseStatusCompleted indicates the phase finished successfully.
	PhaseStatusCompleted PhaseStatus = "completed"
	// PhaseStatusFailed indicates the phase halted on a critical failure.
	PhaseStatusFailed PhaseStatus = "failed"
	// PhaseStatusAutoSkipped indicates the phase was skipped automatically.
	PhaseStatusAutoSkipped PhaseStatus = "auto_skipped"
)

// Valid returns true if the status is a known value.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseStatusPending, PhaseStatusInProgress, PhaseStatusCompleted,
		PhaseStatusFailed, PhaseStatusAutoSkipped:
		return true
	default:
		return false
	}
}

// GateStatus represents the state of a manual gate on a phase.
type GateStatus string

const (
	// GateStatusPending indicates approval has not been given yet.
	GateStatusPending GateStatus = "pending"
	// GateStatusApproved indicates a human approved the phase transition.
	GateStatusApproved GateStatus = "approved"
	// GateStatusAutoSkipped indicates auto mode waived the gate.
	GateStatusAutoSkipped GateStatus = "auto_skipped"
)

// Valid returns true if the status is a known value.
func (s GateStatus) Valid() bool {
	switch s {
	case GateStatusPending, GateStatusApproved, GateStatusAutoSkipped:
		return true
	default:
		return false
	}
}

// Gate describes the manual approval requirement on a phase transition.
type Gate struct {
	// Required indicates whether the phase needs approval before advancing.
	Required bool `yaml:"required"`
	// Status is the current gate state.
	Status GateStatus `yaml:"status,omitempty"`
	// ApprovedBy records who satisfied the gate ("user" or "auto").
	ApprovedBy string `yaml:"approved_by,omitempty"`
	// ApprovedAt is when the gate was satisfied.
	ApprovedAt *time.Time `yaml:"approved_at,omitempty"`
}

// Satisfied returns true if the gate no longer blocks the phase.
func (g Gate) Satisfied() bool {
	if !g.Required {
		return true
	}
	return g.Status == GateStatusApproved || g.Status == GateStatusAutoSkipped
}

// PhaseRecord tracks the progress of a single phase.
type PhaseRecord struct {
	// Name is the phase this record describes.
	Name PhaseName `yaml:"name"`
	// Status is the current state of the phase.
	Status PhaseStatus `yaml:"status"`
	// StartedAt is when the phase entered in_progress.
	StartedAt *time.Time `yaml:"started_at,omitempty"`
	// CompletedAt is when the phase reached a terminal status.
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
	// Gate is the manual approval requirement for leaving this phase.
	Gate Gate `yaml:"gate"`
}

// GatedPhases lists the phases that require manual approval by default.
var GatedPhases = map[PhaseName]bool{
	PhasePlan: true,
	PhaseShip: true,
}
