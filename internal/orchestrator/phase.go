package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specflow/specflow/internal/graph"
	"github.com/specflow/specflow/pkg/models"
)

// runPhase takes one phase from entry to completion: seed its work items,
// plan layers, dispatch each layer to termination, resolve the gate, then
// advance current_phase. A critical failure marks the phase failed and
// propagates.
func (o *Orchestrator) runPhase(ctx context.Context, phase models.PhaseName) error {
	skip, err := o.maybeSkipClarify(ctx, phase)
	if err != nil || skip {
		return err
	}

	if err := o.enterPhase(ctx, phase); err != nil {
		return err
	}

	layers, err := o.planLayers(ctx, phase)
	if err != nil {
		return err
	}

	for i, layer := range layers {
		o.emit(Event{Type: EventLayerStarted, Phase: phase, Layer: i,
			Message: fmt.Sprintf("layer %d: %s", i, strings.Join(layer, ", "))})
		if err := o.runLayer(ctx, phase, i, layer); err != nil {
			return err
		}
		o.emit(Event{Type: EventLayerCompleted, Phase: phase, Layer: i})
	}

	if err := o.resolveGate(ctx, phase); err != nil {
		return err
	}
	return o.completePhase(ctx, phase)
}

// maybeSkipClarify handles the one optional phase in the sequence. Clarify
// runs only when the spec phase planted clarification units; an empty
// clarify phase, or a forced skip, is recorded auto_skipped and passed over.
func (o *Orchestrator) maybeSkipClarify(ctx context.Context, phase models.PhaseName) (bool, error) {
	if phase != models.PhaseClarify {
		return false, nil
	}

	s, err := o.store.Read()
	if err != nil {
		return false, err
	}
	if !o.cfg.SkipClarify && len(s.ItemsForPhase(models.PhaseClarify)) > 0 {
		return false, nil
	}

	_, err = o.store.Mutate(ctx, func(next *models.WorkflowState) error {
		rec := next.Phase(models.PhaseClarify)
		rec.Status = models.PhaseStatusAutoSkipped
		now := o.now()
		rec.CompletedAt = &now
		return advancePhase(next, models.PhaseClarify)
	})
	if err != nil {
		return false, err
	}

	o.recordTransition(ctx, models.PhaseClarify, models.PhaseStatusAutoSkipped)
	o.emit(Event{Type: EventPhaseSkipped, Phase: models.PhaseClarify, Message: "nothing to clarify"})
	debugLog("[orchestrator] clarify skipped")
	return true, nil
}

// enterPhase marks the phase in_progress and seeds its work-item set when
// empty. Most phases are a single synthetic unit; the implement phase's
// items are planted by the tasks phase output, so an empty implement phase
// still gets a synthetic fallback unit covering the whole phase.
func (o *Orchestrator) enterPhase(ctx context.Context, phase models.PhaseName) error {
	entered := false
	_, err := o.store.Mutate(ctx, func(s *models.WorkflowState) error {
		rec := s.Phase(phase)
		if rec == nil {
			return fmt.Errorf("phase %s has no record", phase)
		}
		if rec.Status != models.PhaseStatusInProgress {
			rec.Status = models.PhaseStatusInProgress
			if rec.StartedAt == nil {
				now := o.now()
				rec.StartedAt = &now
			}
			entered = true
		}

		if len(s.ItemsForPhase(phase)) == 0 {
			s.WorkItems = append(s.WorkItems, &models.WorkItem{
				ID:          string(phase),
				Kind:        models.KindPhase,
				Phase:       phase,
				Title:       fmt.Sprintf("%s phase", phase),
				Description: s.Description,
				Status:      models.WorkItemPending,
				CreatedAt:   o.now(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if entered {
		o.recordTransition(ctx, phase, models.PhaseStatusInProgress)
		o.emit(Event{Type: EventPhaseStarted, Phase: phase})
		debugLog("[orchestrator] phase %s started", phase)
	}
	return nil
}

// planLayers runs the layer planner over the phase's items and persists
// each item's layer index. Graph errors surface before any dispatch.
func (o *Orchestrator) planLayers(ctx context.Context, phase models.PhaseName) ([][]string, error) {
	s, err := o.store.Read()
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(s.ItemsForPhase(phase))
	if err != nil {
		return nil, fmt.Errorf("plan %s phase: %w", phase, err)
	}
	layers := g.Layers()

	_, err = o.store.Mutate(ctx, func(next *models.WorkflowState) error {
		for _, item := range next.ItemsForPhase(phase) {
			if idx, ok := g.LayerOf(item.ID); ok {
				item.LayerIndex = idx
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	debugLog("[orchestrator] phase %s planned into %d layers", phase, len(layers))
	return layers, nil
}

// runLayer dispatches one layer until every item is terminal, resolving
// interaction rounds between passes. A layer blocked only on live claims
// held elsewhere waits a poll interval and retries; a critical failure
// marks the phase failed and propagates.
func (o *Orchestrator) runLayer(ctx context.Context, phase models.PhaseName, index int, layer []string) error {
	for {
		result, err := o.dispatcher.Dispatch(ctx, layer)
		if err != nil {
			return err
		}

		for _, id := range result.Completed {
			o.recordRun(ctx, id, "completed", "")
		}

		if result.Critical != nil {
			o.recordRun(ctx, result.Critical.ItemID, "failed_critical", result.Critical.Reason)
			if err := o.failPhase(ctx, phase, result.Critical); err != nil {
				return err
			}
			return result.Critical
		}
		if result.Done(len(layer)) {
			return nil
		}

		if len(result.NeedsInput) > 0 {
			asked, err := o.askRound(ctx, phase)
			if err != nil {
				return err
			}
			if asked {
				continue
			}
		}

		// Remaining items hold live claims owned by another process, or
		// questions are pending with no channel to answer them here.
		debugLog("[orchestrator] layer %d of %s blocked, polling", index, phase)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// askRound surfaces one FIFO batch of pending questions through the
// configured Asker and records the answers. Returns false when there is
// nothing to ask or no channel to ask through.
func (o *Orchestrator) askRound(ctx context.Context, phase models.PhaseName) (bool, error) {
	batch, err := o.broker.NextBatch(o.cfg.QuestionBatch)
	if err != nil {
		return false, err
	}
	if len(batch) == 0 {
		return false, nil
	}
	if o.cfg.Asker == nil {
		return false, fmt.Errorf("phase %s has %d unanswered questions and no interactive channel; run 'specflow continue' in a terminal", phase, len(batch))
	}

	o.emit(Event{Type: EventQuestionsAsked, Phase: phase,
		Message: fmt.Sprintf("%d questions pending", len(batch))})
	debugLog("[orchestrator] asking %d questions", len(batch))

	answers, err := o.cfg.Asker.Ask(ctx, batch)
	if err != nil {
		return false, fmt.Errorf("collect answers: %w", err)
	}
	if err := o.broker.RecordAnswers(ctx, answers); err != nil {
		return false, err
	}
	return true, nil
}

// failPhase records a critical failure: the phase record becomes failed
// and current_phase moves to the absorbing failed state. The failing
// item's status, reason, and hint are already persisted by the dispatcher.
func (o *Orchestrator) failPhase(ctx context.Context, phase models.PhaseName, cause error) error {
	_, err := o.store.Mutate(ctx, func(s *models.WorkflowState) error {
		rec := s.Phase(phase)
		rec.Status = models.PhaseStatusFailed
		now := o.now()
		rec.CompletedAt = &now
		s.CurrentPhase = models.PhaseFailed
		return nil
	})
	if err != nil {
		return err
	}

	o.recordTransition(ctx, phase, models.PhaseStatusFailed)
	o.emit(Event{Type: EventPhaseFailed, Phase: phase, Error: cause})
	debugLog("[orchestrator] phase %s failed: %v", phase, cause)
	return nil
}

// completePhase marks the phase completed, asks version control for a
// durable commit, and advances current_phase.
func (o *Orchestrator) completePhase(ctx context.Context, phase models.PhaseName) error {
	_, err := o.store.Mutate(ctx, func(s *models.WorkflowState) error {
		rec := s.Phase(phase)
		rec.Status = models.PhaseStatusCompleted
		now := o.now()
		rec.CompletedAt = &now
		return advancePhase(s, phase)
	})
	if err != nil {
		return err
	}

	o.recordTransition(ctx, phase, models.PhaseStatusCompleted)
	o.emit(Event{Type: EventPhaseCompleted, Phase: phase})
	debugLog("[orchestrator] phase %s completed", phase)

	if o.cfg.Committer != nil {
		ok, err := o.cfg.Committer.Commit(ctx, fmt.Sprintf("specflow: complete %s phase", phase))
		if err != nil {
			debugLog("[orchestrator] commit after %s failed: %v", phase, err)
		} else if ok {
			o.emit(Event{Type: EventCommitted, Phase: phase})
		}
	}
	return nil
}

// advancePhase moves current_phase to the successor of the given phase.
func advancePhase(s *models.WorkflowState, phase models.PhaseName) error {
	next, ok := phase.Next()
	if !ok {
		return fmt.Errorf("phase %s has no successor", phase)
	}
	s.CurrentPhase = next
	return nil
}
