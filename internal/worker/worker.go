// Package worker defines the execution boundary between the orchestration
// engine and the processes that do actual work. A worker performs exactly
// one claim-execute-update cycle and exits; the concrete executor is
// injected behind the Worker interface so it can be swapped (subprocess,
// in-process function, API call) without touching the orchestrator.
package worker

import (
	"context"

	"github.com/specflow/specflow/pkg/models"
)

// Input is everything a worker execution receives for one unit of work.
type Input struct {
	// UnitID is the work item being executed.
	UnitID string `json:"unit_id"`
	// Kind is the work item kind (phase, sprint, feature, task).
	Kind string `json:"kind"`
	// Phase is the phase the item belongs to.
	Phase string `json:"phase"`
	// Title is the item's short description.
	Title string `json:"title"`
	// Description holds the detailed instructions for the unit.
	Description string `json:"description,omitempty"`
	// ContextRefs point at artifacts from earlier units and phases.
	ContextRefs []string `json:"context_refs,omitempty"`
	// AccumulatedAnswers carries every recorded answer for this unit,
	// keyed by question id. A resumed execution sees all prior answers.
	AccumulatedAnswers map[string][]string `json:"accumulated_answers,omitempty"`
	// ResumeMarker indicates where a suspended execution should continue.
	ResumeMarker string `json:"resume_marker,omitempty"`
}

// ResultKind discriminates the tagged union of worker outcomes.
type ResultKind string

const (
	// ResultCompleted indicates the unit finished successfully.
	ResultCompleted ResultKind = "COMPLETED"
	// ResultNeedsInput indicates the worker suspended on questions it
	// cannot answer itself.
	ResultNeedsInput ResultKind = "NEEDS_INPUT"
	// ResultFailed indicates the unit failed, retriably or critically.
	ResultFailed ResultKind = "FAILED"
)

// NewItem describes a follow-on work item produced by a completed unit.
// The tasks phase uses this to plant the implement-phase task graph.
type NewItem struct {
	// ID is the new item's unique id.
	ID string `json:"id"`
	// Title is the item's short description.
	Title string `json:"title,omitempty"`
	// Description holds the detailed instructions for the unit.
	Description string `json:"description,omitempty"`
	// Phase the item belongs to. Defaults to implement.
	Phase string `json:"phase,omitempty"`
	// Kind of the item. Defaults to task.
	Kind string `json:"kind,omitempty"`
	// Dependencies are ids of items that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Result is the outcome of one worker execution. Exactly one of the
// kind-specific field groups is meaningful.
type Result struct {
	// Kind discriminates the outcome.
	Kind ResultKind `json:"kind"`

	// Artifacts lists outputs of a completed unit.
	Artifacts []string `json:"artifacts,omitempty"`
	// Summary describes what a completed unit did.
	Summary string `json:"summary,omitempty"`
	// NewItems are follow-on work items to append to the workflow.
	NewItems []NewItem `json:"new_items,omitempty"`

	// Questions are raised by a NEEDS_INPUT outcome.
	Questions []*models.Question `json:"questions,omitempty"`
	// ResumeMarker tells a later execution where to continue.
	ResumeMarker string `json:"resume_marker,omitempty"`

	// Reason explains a failure.
	Reason string `json:"reason,omitempty"`
	// RecoveryHint suggests how to recover from a critical failure.
	RecoveryHint string `json:"recovery_hint,omitempty"`
	// Retriable marks a failure as eligible for bounded retry.
	Retriable bool `json:"retriable,omitempty"`
}

// Worker executes one unit of work in isolation.
type Worker interface {
	Execute(ctx context.Context, input Input) (*Result, error)
}

// Func adapts a plain function to the Worker interface.
// Used heavily by orchestration tests.
type Func func(ctx context.Context, input Input) (*Result, error)

// Execute calls the underlying function.
func (f Func) Execute(ctx context.Context, input Input) (*Result, error) {
	return f(ctx, input)
}
