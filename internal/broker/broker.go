// Package broker centralizes the human-in-the-loop question flow. Workers
// raise questions they cannot answer; the broker queues them on the
// workflow state, surfaces them in FIFO batches of a configured size, and
// merges answers back onto the owning work items. Only the orchestrator
// drains the queue, keeping the interactive surface single-threaded even
// though work dispatch is parallel.
package broker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/pkg/models"
)

// DefaultBatchSize is the number of questions surfaced per round.
const DefaultBatchSize = 3

// Asker is the synchronous human-input channel. Implementations may be a
// terminal prompt, a web form, or a scripted double in tests. The returned
// map is keyed by question id; values are the selected option labels.
type Asker interface {
	Ask(ctx context.Context, questions []*models.Question) (map[string][]string, error)
}

// AskerFunc adapts a function to the Asker interface.
type AskerFunc func(ctx context.Context, questions []*models.Question) (map[string][]string, error)

// Ask calls the underlying function.
func (f AskerFunc) Ask(ctx context.Context, questions []*models.Question) (map[string][]string, error) {
	return f(ctx, questions)
}

// Broker queues and resolves questions through the state store.
type Broker struct {
	store *state.Store
	now   func() time.Time
}

// New creates a broker over the given store.
func New(store *state.Store) *Broker {
	return &Broker{store: store, now: time.Now}
}

// AppendQuestions records the questions a suspended execution raised,
// directly on a state document inside a caller-owned mutation. Idempotent:
// a question id already queued, or already answered on the owning item, is
// never added again, so resume after a crash cannot duplicate questions.
func AppendQuestions(s *models.WorkflowState, itemID, resumeMarker string, questions []*models.Question, now time.Time) error {
	item := s.Item(itemID)
	if item == nil {
		return fmt.Errorf("unknown work item %s", itemID)
	}
	item.ResumeMarker = resumeMarker

	for _, q := range questions {
		if s.Question(q.ID) != nil {
			continue
		}
		if _, answered := item.Answers[q.ID]; answered {
			continue
		}
		queued := q.Clone()
		queued.WorkItemID = itemID
		queued.EnqueuedAt = now
		s.InteractionQueue = append(s.InteractionQueue, queued)
	}
	return nil
}

// Enqueue appends questions for a work item in its own state mutation.
func (b *Broker) Enqueue(ctx context.Context, itemID, resumeMarker string, questions []*models.Question) error {
	now := b.now()
	_, err := b.store.Mutate(ctx, func(s *models.WorkflowState) error {
		return AppendQuestions(s, itemID, resumeMarker, questions, now)
	})
	return err
}

// NextBatch returns up to k unanswered questions in FIFO order by enqueue
// time, ties broken by question id. Remaining questions wait for the next
// round.
func (b *Broker) NextBatch(k int) ([]*models.Question, error) {
	s, err := b.store.Read()
	if err != nil {
		return nil, err
	}
	return PendingBatch(s, k), nil
}

// PendingBatch is the pure batching rule behind NextBatch.
func PendingBatch(s *models.WorkflowState, k int) []*models.Question {
	if k <= 0 {
		k = DefaultBatchSize
	}

	var pending []*models.Question
	for _, q := range s.InteractionQueue {
		if !q.Answered() {
			pending = append(pending, q.Clone())
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].EnqueuedAt.Equal(pending[j].EnqueuedAt) {
			return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
		}
		return pending[i].ID < pending[j].ID
	})

	if len(pending) > k {
		pending = pending[:k]
	}
	return pending
}

// RecordAnswers stores the given answers on both the queued questions and
// the owning work items' accumulated answers. Unknown question ids are
// rejected; a question that already carries an answer keeps its original
// one, so replaying a round after a crash cannot rewrite history.
func (b *Broker) RecordAnswers(ctx context.Context, answers map[string][]string) error {
	if len(answers) == 0 {
		return nil
	}
	_, err := b.store.Mutate(ctx, func(s *models.WorkflowState) error {
		for id, answer := range answers {
			q := s.Question(id)
			if q == nil {
				return fmt.Errorf("answer for unknown question %s", id)
			}
			if q.Answered() {
				continue
			}
			if len(answer) == 0 {
				return fmt.Errorf("empty answer for question %s", id)
			}
			if !q.MultiSelect && len(answer) > 1 {
				return fmt.Errorf("question %s accepts a single answer, got %d", id, len(answer))
			}
			q.Answer = append([]string(nil), answer...)

			item := s.Item(q.WorkItemID)
			if item == nil {
				return fmt.Errorf("question %s belongs to unknown work item %s", id, q.WorkItemID)
			}
			if item.Answers == nil {
				item.Answers = make(map[string][]string)
			}
			item.Answers[id] = append([]string(nil), answer...)
		}
		return nil
	})
	return err
}

// PendingCount returns the number of unanswered queued questions.
func (b *Broker) PendingCount() (int, error) {
	s, err := b.store.Read()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, q := range s.InteractionQueue {
		if !q.Answered() {
			count++
		}
	}
	return count, nil
}
