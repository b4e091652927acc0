package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/pkg/models"
)

// resolveGate settles a phase's manual gate after its work completes.
// Auto mode waives the gate; otherwise the workflow halts until an
// external approval lands, optionally watching the state file for it.
func (o *Orchestrator) resolveGate(ctx context.Context, phase models.PhaseName) error {
	s, err := o.store.Read()
	if err != nil {
		return err
	}
	rec := s.Phase(phase)
	if rec.Gate.Satisfied() {
		return nil
	}

	if o.cfg.Auto {
		_, err := o.store.Mutate(ctx, func(next *models.WorkflowState) error {
			gate := &next.Phase(phase).Gate
			if gate.Satisfied() {
				return nil
			}
			gate.Status = models.GateStatusAutoSkipped
			gate.ApprovedBy = "auto"
			now := o.now()
			gate.ApprovedAt = &now
			return nil
		})
		if err != nil {
			return err
		}
		o.recordGate(ctx, phase, string(models.GateStatusAutoSkipped), "auto")
		o.emit(Event{Type: EventGateResolved, Phase: phase, Message: "gate auto-skipped"})
		debugLog("[orchestrator] gate on %s auto-skipped", phase)
		return nil
	}

	o.emit(Event{Type: EventGatePending, Phase: phase})
	debugLog("[orchestrator] gate on %s pending approval", phase)

	if o.cfg.GateWait > 0 {
		approved, err := o.awaitApproval(ctx, phase)
		if err != nil {
			return err
		}
		if approved {
			o.emit(Event{Type: EventGateResolved, Phase: phase, Message: "gate approved"})
			return nil
		}
	}
	return &GatePendingError{Phase: phase}
}

// awaitApproval watches the state document for an external 'specflow
// approve' while the gate is pending. The store commits by renaming a
// temp file into place, so the watch covers the state directory rather
// than the file itself. Returns false when GateWait elapses unapproved.
func (o *Orchestrator) awaitApproval(ctx context.Context, phase models.PhaseName) (bool, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("watch state file: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(o.store.Path())); err != nil {
		return false, fmt.Errorf("watch state file: %w", err)
	}

	deadline := time.NewTimer(o.cfg.GateWait)
	defer deadline.Stop()

	for {
		s, err := o.store.Read()
		if err != nil {
			return false, err
		}
		if s.Phase(phase).Gate.Satisfied() {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case event := <-watcher.Events:
			debugLog("[orchestrator] state change while gated: %s", event)
		case err := <-watcher.Errors:
			debugLog("[orchestrator] gate watcher error: %v", err)
		}
	}
}

// Approve satisfies a pending gate from outside a run, typically the
// 'specflow approve' command in another terminal.
func Approve(ctx context.Context, store *state.Store, phase models.PhaseName, by string) error {
	_, err := store.Mutate(ctx, func(s *models.WorkflowState) error {
		rec := s.Phase(phase)
		if rec == nil {
			return fmt.Errorf("unknown phase %q", phase)
		}
		if !rec.Gate.Required {
			return fmt.Errorf("phase %s has no gate", phase)
		}
		if rec.Gate.Status == models.GateStatusApproved {
			return nil
		}
		rec.Gate.Status = models.GateStatusApproved
		rec.Gate.ApprovedBy = by
		now := time.Now()
		rec.Gate.ApprovedAt = &now
		return nil
	})
	return err
}
