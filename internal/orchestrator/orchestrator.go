package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specflow/specflow/internal/broker"
	"github.com/specflow/specflow/internal/dispatch"
	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/internal/worker"
	"github.com/specflow/specflow/pkg/models"
)

// ErrGatePending indicates a manual gate is blocking the workflow and no
// approval channel is available. Callers match it with errors.Is.
var ErrGatePending = errors.New("phase gate pending approval")

// GatePendingError reports which phase is halted on its gate.
type GatePendingError struct {
	// Phase is the gated phase awaiting approval.
	Phase models.PhaseName
}

func (e *GatePendingError) Error() string {
	return fmt.Sprintf("phase %s is awaiting approval; run 'specflow approve %s' and then 'specflow continue'", e.Phase, e.Phase)
}

// Is lets errors.Is(err, ErrGatePending) match.
func (e *GatePendingError) Is(target error) bool {
	return target == ErrGatePending
}

// Committer signals version control after a phase completes. The engine
// consumes only whether the commit succeeded; everything else about
// version control is outside the core.
type Committer interface {
	Commit(ctx context.Context, message string) (bool, error)
}

// Recorder receives execution history for the journal. All methods are
// best-effort from the orchestrator's point of view: a journal failure
// never halts the workflow.
type Recorder interface {
	RecordTransition(ctx context.Context, phase, status string) error
	RecordRun(ctx context.Context, itemID, outcome, detail string) error
	RecordGate(ctx context.Context, phase, decision, by string) error
}

// Config contains the orchestrator's collaborators and tuning knobs.
type Config struct {
	// Auto turns pending gates into auto_skipped instead of halting.
	// It never suppresses a halt on a critical failure.
	Auto bool
	// SkipClarify forces the clarify phase to be skipped even when the
	// spec phase planted clarification units.
	SkipClarify bool
	// QuestionBatch caps questions surfaced per interaction round.
	// Zero means the broker default.
	QuestionBatch int
	// PollInterval is the wait between dispatch passes when a layer is
	// blocked on live claims held by another process.
	PollInterval time.Duration
	// GateWait, when positive, makes a halted gate watch the state file
	// for an external approval instead of returning immediately.
	GateWait time.Duration
	// Dispatch tunes the worker dispatcher.
	Dispatch dispatch.Config

	// Asker is the synchronous human-input channel. Nil means questions
	// cannot be answered in this process.
	Asker broker.Asker
	// Committer is the version-control collaborator. Nil disables
	// per-phase commits.
	Committer Committer
	// Recorder is the execution journal. Nil disables history.
	Recorder Recorder
	// Logger is the debug logger. Nil means no debug output.
	Logger *DebugLogger
	// EventBuffer sizes the event channel. Zero means 64.
	EventBuffer int
}

// Orchestrator sequences a workflow's phases. It owns the interactive
// surface: work dispatch is parallel, but questions and gates are always
// resolved here, single-threaded.
type Orchestrator struct {
	store      *state.Store
	dispatcher *dispatch.Dispatcher
	broker     *broker.Broker
	cfg        Config
	emitter    *EventEmitter
	now        func() time.Time
}

// New creates an orchestrator over the given store and worker executor.
func New(store *state.Store, w worker.Worker, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	d := dispatch.New(store, w, cfg.Dispatch)
	if cfg.Logger != nil {
		setPackageLogger(cfg.Logger)
		d.SetLog(cfg.Logger.Log)
	}

	return &Orchestrator{
		store:      store,
		dispatcher: d,
		broker:     broker.New(store),
		cfg:        cfg,
		emitter:    NewEventEmitter(cfg.EventBuffer),
		now:        time.Now,
	}
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Close ends the event stream. Call once the run loop has returned;
// subscribers draining Events see the channel close.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

func (o *Orchestrator) emit(event Event) {
	event.Timestamp = o.now()
	o.emitter.Emit(event)
}

// Start creates a fresh workflow for the description and runs it.
func (o *Orchestrator) Start(ctx context.Context, description string) error {
	if _, err := o.store.Create(description); err != nil {
		return err
	}
	debugLog("[orchestrator] workflow started: %s", description)
	return o.Run(ctx)
}

// Resume continues an interrupted workflow exactly where it halted.
// Completed phases never re-run; a phase halted on a critical failure is
// re-entered with only its failed items requeued. Calling Resume twice
// with no intervening change performs no duplicate work and asks no
// duplicate questions.
func (o *Orchestrator) Resume(ctx context.Context) error {
	s, err := o.store.Read()
	if err != nil {
		return err
	}
	if s.CurrentPhase == models.PhaseComplete {
		o.emit(Event{Type: EventWorkflowDone, Phase: models.PhaseComplete, Message: "workflow already complete"})
		return nil
	}
	if s.CurrentPhase == models.PhaseFailed {
		if err := o.requeueFailed(ctx); err != nil {
			return err
		}
	}
	debugLog("[orchestrator] resuming")
	return o.Run(ctx)
}

// requeueFailed points the workflow back at the phase that failed and
// requeues its critically failed items. Completed items in that phase
// keep their status, so the retry touches only the failed units.
func (o *Orchestrator) requeueFailed(ctx context.Context) error {
	_, err := o.store.Mutate(ctx, func(s *models.WorkflowState) error {
		failed := failedPhase(s)
		if failed == "" {
			return fmt.Errorf("workflow is failed but no phase record is failed")
		}
		s.CurrentPhase = failed
		rec := s.Phase(failed)
		rec.Status = models.PhaseStatusInProgress
		rec.CompletedAt = nil

		for _, item := range s.ItemsForPhase(failed) {
			if item.Status != models.WorkItemFailedCritical {
				continue
			}
			debugLog("[orchestrator] requeueing failed item %s", item.ID)
			item.Status = models.WorkItemPending
			item.RetryCount = 0
			item.StallCount = 0
			item.FailureReason = ""
			item.RecoveryHint = ""
		}
		return nil
	})
	return err
}

// failedPhase returns the phase whose record is failed, in sequence order.
func failedPhase(s *models.WorkflowState) models.PhaseName {
	for _, name := range models.PhaseSequence {
		if rec := s.Phase(name); rec != nil && rec.Status == models.PhaseStatusFailed {
			return name
		}
	}
	return ""
}

// Run executes phases from current_phase until the workflow completes,
// fails critically, or halts on an unapproved gate.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := o.store.Read()
		if err != nil {
			return err
		}

		phase := s.CurrentPhase
		switch phase {
		case models.PhaseComplete:
			if err := o.finishWorkflow(ctx); err != nil {
				return err
			}
			return nil
		case models.PhaseFailed:
			return fmt.Errorf("workflow is failed at phase %s; fix the cause, then run 'specflow continue'", failedPhase(s))
		}

		if err := o.runPhase(ctx, phase); err != nil {
			return err
		}
	}
}

// finishWorkflow marks the terminal phase record and emits completion.
func (o *Orchestrator) finishWorkflow(ctx context.Context) error {
	_, err := o.store.Mutate(ctx, func(s *models.WorkflowState) error {
		rec := s.Phase(models.PhaseComplete)
		if rec.Status == models.PhaseStatusCompleted {
			return nil
		}
		rec.Status = models.PhaseStatusCompleted
		now := o.now()
		rec.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	o.recordTransition(ctx, models.PhaseComplete, models.PhaseStatusCompleted)
	o.emit(Event{Type: EventWorkflowDone, Phase: models.PhaseComplete, Message: "workflow complete"})
	debugLog("[orchestrator] workflow complete")
	return nil
}

func (o *Orchestrator) recordTransition(ctx context.Context, phase models.PhaseName, status models.PhaseStatus) {
	if o.cfg.Recorder == nil {
		return
	}
	if err := o.cfg.Recorder.RecordTransition(ctx, string(phase), string(status)); err != nil {
		debugLog("[orchestrator] journal transition failed: %v", err)
	}
}

func (o *Orchestrator) recordRun(ctx context.Context, itemID, outcome, detail string) {
	if o.cfg.Recorder == nil {
		return
	}
	if err := o.cfg.Recorder.RecordRun(ctx, itemID, outcome, detail); err != nil {
		debugLog("[orchestrator] journal run failed: %v", err)
	}
}

func (o *Orchestrator) recordGate(ctx context.Context, phase models.PhaseName, decision, by string) {
	if o.cfg.Recorder == nil {
		return
	}
	if err := o.cfg.Recorder.RecordGate(ctx, string(phase), decision, by); err != nil {
		debugLog("[orchestrator] journal gate failed: %v", err)
	}
}
