package models

import "time"

// WorkItemStatus represents the current state of a work item.
type WorkItemStatus string

const (
	// WorkItemPending indicates the item has not been claimed.
	WorkItemPending WorkItemStatus = "pending"
	// WorkItemInProgress indicates a worker holds a claim on the item.
	WorkItemInProgress WorkItemStatus = "in_progress"
	// WorkItemCompleted indicates the item finished successfully.
	WorkItemCompleted WorkItemStatus = "completed"
	// WorkItemFailedRetriable indicates a failure that may be retried.
	WorkItemFailedRetriable WorkItemStatus = "failed_retriable"
	// WorkItemFailedCritical indicates a failure that halts the workflow.
	WorkItemFailedCritical WorkItemStatus = "failed_critical"
)

// Valid returns true if the status is a known value.
func (s WorkItemStatus) Valid() bool {
	switch s {
	case WorkItemPending, WorkItemInProgress, WorkItemCompleted,
		WorkItemFailedRetriable, WorkItemFailedCritical:
		return true
	default:
		return false
	}
}

// Terminal returns true if the item needs no further execution.
func (s WorkItemStatus) Terminal() bool {
	return s == WorkItemCompleted || s == WorkItemFailedCritical
}

// WorkItemKind categorizes a work item.
type WorkItemKind string

const (
	// KindPhase is a single-unit item backing a whole phase.
	KindPhase WorkItemKind = "phase"
	// KindSprint groups related tasks produced by planning.
	KindSprint WorkItemKind = "sprint"
	// KindFeature is a user-visible slice of work.
	KindFeature WorkItemKind = "feature"
	// KindTask is the smallest schedulable unit.
	KindTask WorkItemKind = "task"
)

// Lock is an exclusive, time-bounded claim on a work item.
type Lock struct {
	// OwnerID identifies the worker holding the claim.
	OwnerID string `yaml:"owner_id"`
	// ExpiresAt is when the claim lapses if not released.
	ExpiresAt time.Time `yaml:"expires_at"`
}

// Expired returns true if the lock has lapsed at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	if l == nil {
		return true
	}
	return !now.Before(l.ExpiresAt)
}

// WorkItem is an atomic, independently schedulable unit of work.
type WorkItem struct {
	// ID is the unique identifier for this item.
	ID string `yaml:"id"`
	// Kind categorizes the item (phase, sprint, feature, task).
	Kind WorkItemKind `yaml:"kind"`
	// Phase is the phase this item belongs to.
	Phase PhaseName `yaml:"phase"`
	// Title is the short description of the item.
	Title string `yaml:"title"`
	// Description provides detailed instructions for the worker.
	Description string `yaml:"description,omitempty"`
	// Status is the current state of the item.
	Status WorkItemStatus `yaml:"status"`
	// Dependencies lists item IDs that must complete before this item.
	Dependencies []string `yaml:"dependencies,omitempty"`
	// Lock is the live claim on this item, if any.
	Lock *Lock `yaml:"lock,omitempty"`
	// RetryCount is the number of retriable failures recorded so far.
	RetryCount int `yaml:"retry_count,omitempty"`
	// StallCount is the number of times a claim on this item expired.
	StallCount int `yaml:"stall_count,omitempty"`
	// LayerIndex is the execution layer assigned by the planner.
	LayerIndex int `yaml:"layer_index"`
	// Answers accumulates recorded answers keyed by question ID.
	Answers map[string][]string `yaml:"answers,omitempty"`
	// ResumeMarker indicates where a suspended execution should continue.
	ResumeMarker string `yaml:"resume_marker,omitempty"`
	// Artifacts lists the outputs of a completed execution.
	Artifacts []string `yaml:"artifacts,omitempty"`
	// Summary is the worker's summary of a completed execution.
	Summary string `yaml:"summary,omitempty"`
	// FailureReason explains the most recent failure.
	FailureReason string `yaml:"failure_reason,omitempty"`
	// RecoveryHint is the worker's suggestion for recovering from a
	// critical failure.
	RecoveryHint string `yaml:"recovery_hint,omitempty"`
	// CreatedAt is when the item was created.
	CreatedAt time.Time `yaml:"created_at"`
	// CompletedAt is when the item reached a terminal status.
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
}

// Claimable returns true if a worker may attempt to claim the item.
// Items in failed_retriable remain claimable while under the retry limit;
// the dispatcher normally requeues them to pending first, but hand-edited
// state documents may leave them as-is.
func (w *WorkItem) Claimable(maxRetries int) bool {
	switch w.Status {
	case WorkItemPending:
		return true
	case WorkItemFailedRetriable:
		return w.RetryCount < maxRetries
	default:
		return false
	}
}

// Clone returns a deep copy of the work item.
func (w *WorkItem) Clone() *WorkItem {
	out := *w
	if w.Lock != nil {
		lock := *w.Lock
		out.Lock = &lock
	}
	out.Dependencies = append([]string(nil), w.Dependencies...)
	out.Artifacts = append([]string(nil), w.Artifacts...)
	if w.Answers != nil {
		out.Answers = make(map[string][]string, len(w.Answers))
		for id, ans := range w.Answers {
			out.Answers[id] = append([]string(nil), ans...)
		}
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
