// Package dispatch runs one execution layer at a time: it spawns bounded,
// isolated worker executions, each of which claims exactly one work item
// through the state store's optimistic update, executes it, writes the
// outcome, and exits. Claim races and expired leases are absorbed here;
// critical failures abort the layer and propagate.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specflow/specflow/internal/broker"
	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/internal/worker"
	"github.com/specflow/specflow/pkg/models"
)

// Config contains the dispatcher's tuning knobs.
type Config struct {
	// MaxWorkers caps concurrent worker executions per layer.
	MaxWorkers int
	// LeaseDuration is how long a claim stays valid without an update.
	LeaseDuration time.Duration
	// MaxRetries bounds total attempts per item: the item is promoted to
	// critical when its retriable failure count reaches this value, so
	// MaxRetries of 3 means at most 3 executions.
	MaxRetries int
	// StallThreshold bounds expired claims per item before promotion to
	// critical.
	StallThreshold int
}

// withDefaults fills zero fields with the standard values.
func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 3
	}
	return c
}

// CriticalFailure halts the owning layer and the whole orchestrator.
// It carries the failing unit, its last known state, and the resume
// instruction; the engine never fabricates completion for a failed unit.
type CriticalFailure struct {
	// ItemID is the failing unit.
	ItemID string
	// Reason explains the failure.
	Reason string
	// RecoveryHint is the worker's suggestion, if any.
	RecoveryHint string
}

func (e *CriticalFailure) Error() string {
	msg := fmt.Sprintf("work item %s failed critically: %s", e.ItemID, e.Reason)
	if e.RecoveryHint != "" {
		msg += fmt.Sprintf(" (hint: %s)", e.RecoveryHint)
	}
	return msg + "; fix the cause, then run 'specflow continue' to resume at the failed item"
}

// LayerResult summarizes one dispatch pass over a layer.
type LayerResult struct {
	// Completed lists items that finished in this pass or earlier.
	Completed []string
	// NeedsInput lists items suspended on unanswered questions.
	NeedsInput []string
	// Critical is set when any item in the layer failed critically.
	Critical *CriticalFailure
}

// Done reports whether the layer needs no further dispatch rounds.
func (r *LayerResult) Done(layerSize int) bool {
	return r.Critical == nil && len(r.Completed) == layerSize
}

// Dispatcher executes layers of work items.
type Dispatcher struct {
	store  *state.Store
	worker worker.Worker
	cfg    Config
	now    func() time.Time
	log    func(format string, args ...interface{})
}

// New creates a dispatcher over the given store and worker executor.
func New(store *state.Store, w worker.Worker, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:  store,
		worker: w,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		log:    func(format string, args ...interface{}) {},
	}
}

// SetLog sets the debug logging function.
func (d *Dispatcher) SetLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		d.log = fn
	}
}

// Dispatch runs one pass over the given layer: it reaps expired claims,
// then spawns up to MaxWorkers concurrent claim-execute-update cycles until
// no claimable item remains. It returns once every spawned worker has
// exited. Items suspended on questions are reported in the result, not
// retried here; the orchestrator resolves the questions and calls Dispatch
// again.
func (d *Dispatcher) Dispatch(ctx context.Context, layer []string) (*LayerResult, error) {
	if err := d.reapExpired(ctx, layer); err != nil {
		return nil, err
	}

	// A layer that already holds a critical failure, whether carried in
	// from a previous pass or produced by the reap above, gets no further
	// claims.
	halted, err := d.layerHasCritical(layer)
	if err != nil {
		return nil, err
	}
	if halted {
		return d.collectResult(layer)
	}

	layerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i := 0; i < d.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.workerSlot(layerCtx, layer, cancel); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.collectResult(layer)
}

// workerSlot repeatedly claims and executes items until no claimable item
// remains or the layer is cancelled. Each iteration is one isolated worker
// lifecycle.
func (d *Dispatcher) workerSlot(ctx context.Context, layer []string, abortLayer context.CancelFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		claimed, input, err := d.claimNext(ctx, layer)
		if err != nil {
			return err
		}
		if claimed == "" {
			// Idle: nothing claimable right now.
			return nil
		}

		critical, err := d.executeClaim(ctx, claimed, input)
		if err != nil {
			return err
		}
		if critical {
			// No further claims in this layer.
			abortLayer()
			return nil
		}
	}
}

// claimNext performs the claim protocol: read the current state, select the
// first claimable item in layer order, and attempt the atomic transition to
// in_progress with a fresh lease. A version conflict means another worker
// won the race; re-read and try the next candidate. Returns an empty id
// when no candidate remains.
func (d *Dispatcher) claimNext(ctx context.Context, layer []string) (string, worker.Input, error) {
	owner := "worker-" + uuid.New().String()[:8]

	for {
		if err := ctx.Err(); err != nil {
			return "", worker.Input{}, nil
		}

		s, err := d.store.Read()
		if err != nil {
			return "", worker.Input{}, err
		}

		candidate := d.firstClaimable(s, layer)
		if candidate == nil {
			return "", worker.Input{}, nil
		}

		id := candidate.ID
		expires := d.now().Add(d.cfg.LeaseDuration)
		_, err = d.store.Update(s.Version, func(next *models.WorkflowState) error {
			item := next.Item(id)
			if item == nil {
				return fmt.Errorf("work item %s disappeared", id)
			}
			if !item.Claimable(d.cfg.MaxRetries) {
				// Lost a race that the version check did not catch
				// (same-version hand edit); treat as conflict.
				return fmt.Errorf("item %s no longer claimable: %w", id, state.ErrConflict)
			}
			item.Status = models.WorkItemInProgress
			item.Lock = &models.Lock{OwnerID: owner, ExpiresAt: expires}
			return nil
		})
		if errors.Is(err, state.ErrConflict) {
			d.log("[dispatch] claim race on %s, retrying with next candidate", id)
			continue
		}
		if err != nil {
			return "", worker.Input{}, err
		}

		d.log("[dispatch] %s claimed %s until %s", owner, id, expires.Format(time.RFC3339))
		return id, buildInput(s, candidate), nil
	}
}

// firstClaimable returns the first item in layer order that may be claimed:
// claimable status, every dependency completed, and no unanswered question
// pending. The question check keeps a suspended unit from being re-invoked
// before its answers arrive.
func (d *Dispatcher) firstClaimable(s *models.WorkflowState, layer []string) *models.WorkItem {
	unanswered := make(map[string]bool)
	for _, q := range s.InteractionQueue {
		if !q.Answered() {
			unanswered[q.WorkItemID] = true
		}
	}

	for _, id := range layer {
		item := s.Item(id)
		if item == nil || !item.Claimable(d.cfg.MaxRetries) || unanswered[id] {
			continue
		}
		ready := true
		for _, dep := range item.Dependencies {
			depItem := s.Item(dep)
			if depItem == nil || depItem.Status != models.WorkItemCompleted {
				ready = false
				break
			}
		}
		if ready {
			return item
		}
	}
	return nil
}

// buildInput assembles the worker invocation document for a claimed item.
// Context refs point at the artifacts of completed dependencies.
func buildInput(s *models.WorkflowState, item *models.WorkItem) worker.Input {
	var refs []string
	for _, dep := range item.Dependencies {
		if depItem := s.Item(dep); depItem != nil {
			refs = append(refs, depItem.Artifacts...)
		}
	}
	return worker.Input{
		UnitID:             item.ID,
		Kind:               string(item.Kind),
		Phase:              string(item.Phase),
		Title:              item.Title,
		Description:        item.Description,
		ContextRefs:        refs,
		AccumulatedAnswers: item.Answers,
		ResumeMarker:       item.ResumeMarker,
	}
}

// executeClaim runs the worker for a claimed item and commits the outcome.
// Returns true when the outcome was a critical failure.
func (d *Dispatcher) executeClaim(ctx context.Context, id string, input worker.Input) (bool, error) {
	result, err := d.worker.Execute(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			// Dying with the claim held is fine: the lease expires and
			// the item becomes claimable again. Release eagerly since
			// this process is still alive to do it.
			d.releaseClaim(id)
			return false, nil
		}
		// Executor infrastructure failure: requeue the item without
		// consuming a retry and surface the error.
		d.log("[dispatch] executor error on %s: %v", id, err)
		d.releaseClaim(id)
		return false, err
	}

	return d.commitOutcome(ctx, id, result)
}

// commitOutcome writes a worker result to the state document in one atomic
// update.
func (d *Dispatcher) commitOutcome(ctx context.Context, id string, result *worker.Result) (bool, error) {
	now := d.now()
	critical := false

	_, err := d.store.Mutate(ctx, func(s *models.WorkflowState) error {
		critical = false
		item := s.Item(id)
		if item == nil {
			return fmt.Errorf("work item %s disappeared", id)
		}
		item.Lock = nil

		switch result.Kind {
		case worker.ResultCompleted:
			item.Status = models.WorkItemCompleted
			item.Artifacts = append([]string(nil), result.Artifacts...)
			item.Summary = result.Summary
			item.FailureReason = ""
			item.RecoveryHint = ""
			completed := now
			item.CompletedAt = &completed
			appendNewItems(s, item, result.NewItems, now)

		case worker.ResultNeedsInput:
			// Suspend: the unit goes back to pending and will be
			// re-invoked with accumulated answers once the questions
			// are resolved.
			item.Status = models.WorkItemPending
			if err := broker.AppendQuestions(s, id, result.ResumeMarker, result.Questions, now); err != nil {
				return err
			}

		case worker.ResultFailed:
			if result.Retriable {
				item.RetryCount++
				if item.RetryCount >= d.cfg.MaxRetries {
					item.Status = models.WorkItemFailedCritical
					item.FailureReason = fmt.Sprintf("retry limit reached (%d): %s", item.RetryCount, result.Reason)
					item.RecoveryHint = result.RecoveryHint
					critical = true
				} else {
					item.Status = models.WorkItemPending
					item.FailureReason = result.Reason
				}
			} else {
				item.Status = models.WorkItemFailedCritical
				item.FailureReason = result.Reason
				item.RecoveryHint = result.RecoveryHint
				critical = true
			}

		default:
			return fmt.Errorf("worker returned unknown result kind %q", result.Kind)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	d.log("[dispatch] %s -> %s", id, result.Kind)
	return critical, nil
}

// appendNewItems plants follow-on work items produced by a completed unit,
// typically the implement-phase task graph emitted by the tasks phase.
// Ids already present are left alone so a replayed outcome stays idempotent.
func appendNewItems(s *models.WorkflowState, parent *models.WorkItem, newItems []worker.NewItem, now time.Time) {
	for _, ni := range newItems {
		if s.Item(ni.ID) != nil {
			continue
		}
		phase := models.PhaseName(ni.Phase)
		if phase == "" {
			phase = models.PhaseImplement
		}
		kind := models.WorkItemKind(ni.Kind)
		if kind == "" {
			kind = models.KindTask
		}
		s.WorkItems = append(s.WorkItems, &models.WorkItem{
			ID:           ni.ID,
			Kind:         kind,
			Phase:        phase,
			Title:        ni.Title,
			Description:  ni.Description,
			Status:       models.WorkItemPending,
			Dependencies: append([]string(nil), ni.Dependencies...),
			CreatedAt:    now,
		})
	}
}

// releaseClaim puts a claimed item back to pending. Used when this process
// knows the execution did not produce an outcome.
func (d *Dispatcher) releaseClaim(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.store.Mutate(ctx, func(s *models.WorkflowState) error {
		item := s.Item(id)
		if item == nil || item.Status != models.WorkItemInProgress {
			return nil
		}
		item.Lock = nil
		item.Status = models.WorkItemPending
		return nil
	})
	if err != nil {
		d.log("[dispatch] release claim on %s failed: %v", id, err)
	}
}

// reapExpired requeues layer items whose claim lapsed, counting the stall.
// An item stalling past the threshold is promoted to failed_critical
// instead of being silently requeued forever.
func (d *Dispatcher) reapExpired(ctx context.Context, layer []string) error {
	now := d.now()
	_, err := d.store.Mutate(ctx, func(s *models.WorkflowState) error {
		for _, id := range layer {
			item := s.Item(id)
			if item == nil || item.Status != models.WorkItemInProgress {
				continue
			}
			if !item.Lock.Expired(now) {
				continue
			}
			item.Lock = nil
			item.StallCount++
			if item.StallCount >= d.cfg.StallThreshold {
				item.Status = models.WorkItemFailedCritical
				item.FailureReason = fmt.Sprintf("claim expired %d times without an outcome", item.StallCount)
			} else {
				d.log("[dispatch] claim on %s expired, requeueing (stall %d)", id, item.StallCount)
				item.Status = models.WorkItemPending
			}
		}
		return nil
	})
	return err
}

// layerHasCritical reports whether any item in the layer has already
// failed critically.
func (d *Dispatcher) layerHasCritical(layer []string) (bool, error) {
	s, err := d.store.Read()
	if err != nil {
		return false, err
	}
	for _, id := range layer {
		if item := s.Item(id); item != nil && item.Status == models.WorkItemFailedCritical {
			return true, nil
		}
	}
	return false, nil
}

// collectResult derives the layer outcome from the persisted state.
func (d *Dispatcher) collectResult(layer []string) (*LayerResult, error) {
	s, err := d.store.Read()
	if err != nil {
		return nil, err
	}

	unanswered := make(map[string]bool)
	for _, q := range s.InteractionQueue {
		if !q.Answered() {
			unanswered[q.WorkItemID] = true
		}
	}

	result := &LayerResult{}
	for _, id := range layer {
		item := s.Item(id)
		if item == nil {
			return nil, fmt.Errorf("work item %s disappeared", id)
		}
		switch {
		case item.Status == models.WorkItemCompleted:
			result.Completed = append(result.Completed, id)
		case item.Status == models.WorkItemFailedCritical:
			if result.Critical == nil {
				result.Critical = &CriticalFailure{
					ItemID:       id,
					Reason:       item.FailureReason,
					RecoveryHint: item.RecoveryHint,
				}
			}
		case unanswered[id]:
			result.NeedsInput = append(result.NeedsInput, id)
		}
	}
	return result, nil
}
