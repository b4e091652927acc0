package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/specflow/specflow/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(DefaultPath(t.TempDir()))
}

func TestCreateAndRead(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("add full-text search")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("initial version = %d, want 1", created.Version)
	}

	read, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if read.Description != "add full-text search" {
		t.Errorf("description = %q", read.Description)
	}
	if read.CurrentPhase != models.PhaseSpec {
		t.Errorf("current phase = %q, want spec", read.CurrentPhase)
	}
}

func TestCreateFailsIfExists(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("x"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create("y"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Read(); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRoundTripPreservesEveryField(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("x"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	enqueued := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	expires := enqueued.Add(5 * time.Minute)

	written, err := store.Mutate(context.Background(), func(s *models.WorkflowState) error {
		s.Phases[models.PhaseSpec].Status = models.PhaseStatusInProgress
		s.WorkItems = []*models.WorkItem{{
			ID:           "feat-001-t1",
			Kind:         models.KindTask,
			Phase:        models.PhaseImplement,
			Title:        "wire endpoint",
			Status:       models.WorkItemInProgress,
			Dependencies: []string{"feat-001-t0"},
			Lock:         &models.Lock{OwnerID: "worker-ab12", ExpiresAt: expires},
			RetryCount:   2,
			StallCount:   1,
			LayerIndex:   3,
			Answers:      map[string][]string{"q-1": {"POST", "PUT"}},
			ResumeMarker: "step-4",
			Artifacts:    []string{"api/handler.go"},
			CreatedAt:    enqueued,
		}, {
			ID:     "feat-001-t0",
			Kind:   models.KindTask,
			Phase:  models.PhaseImplement,
			Title:  "schema",
			Status: models.WorkItemCompleted,
		}}
		s.InteractionQueue = []*models.Question{{
			ID:          "q-1",
			WorkItemID:  "feat-001-t1",
			Text:        "Which HTTP methods should the endpoint accept?",
			ShortLabel:  "methods",
			Options:     []models.QuestionOption{{Label: "POST", Description: "create only"}, {Label: "PUT"}},
			MultiSelect: true,
			Answer:      []string{"POST", "PUT"},
			EnqueuedAt:  enqueued,
		}}
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	read, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if !reflect.DeepEqual(read.WorkItems, written.WorkItems) {
		t.Errorf("work items changed across round trip:\nwrote %+v\nread  %+v",
			written.WorkItems[0], read.WorkItems[0])
	}
	if !reflect.DeepEqual(read.InteractionQueue, written.InteractionQueue) {
		t.Errorf("interaction queue changed across round trip")
	}
	if read.Version != written.Version {
		t.Errorf("version changed across round trip: %d != %d", read.Version, written.Version)
	}
	if !read.WorkItems[0].Lock.ExpiresAt.Equal(expires) {
		t.Errorf("lock expiry lost precision: %v", read.WorkItems[0].Lock.ExpiresAt)
	}
}

func TestUpdateIncrementsVersion(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	next, err := store.Update(created.Version, func(s *models.WorkflowState) error {
		s.Phases[models.PhaseSpec].Status = models.PhaseStatusInProgress
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if next.Version != created.Version+1 {
		t.Errorf("version = %d, want %d", next.Version, created.Version+1)
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	if _, err := store.Update(created.Version, func(s *models.WorkflowState) error { return nil }); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	_, err := store.Update(created.Version, func(s *models.WorkflowState) error { return nil })
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestConcurrentStaleUpdatesExactlyOneWins(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(created.Version, func(s *models.WorkflowState) error {
				s.Phases[models.PhaseSpec].Status = models.PhaseStatusInProgress
				return nil
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
	if conflicts != claimers-1 {
		t.Errorf("expected %d conflicts, got %d", claimers-1, conflicts)
	}
}

func TestMutateAbsorbsConflicts(t *testing.T) {
	store := newTestStore(t)
	store.Create("x")

	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Mutate(context.Background(), func(s *models.WorkflowState) error {
				s.WorkItems = append(s.WorkItems, &models.WorkItem{
					ID:     "item-" + string(rune('a'+i)),
					Phase:  models.PhaseImplement,
					Status: models.WorkItemPending,
				})
				return nil
			})
			if err != nil {
				t.Errorf("Mutate failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	read, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(read.WorkItems) != writers {
		t.Errorf("expected %d items after concurrent mutates, got %d", writers, len(read.WorkItems))
	}
}

func TestUpdateRejectsInvariantViolation(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	_, err := store.Update(created.Version, func(s *models.WorkflowState) error {
		s.Phases[models.PhaseSpec].Status = models.PhaseStatusInProgress
		s.Phases[models.PhasePlan].Status = models.PhaseStatusInProgress
		return nil
	})
	if err == nil {
		t.Fatal("expected rejection of two in_progress phases")
	}

	// The rejected update must not have been persisted.
	read, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if read.Version != created.Version {
		t.Errorf("rejected update bumped version to %d", read.Version)
	}
}

func TestMutatorErrorDiscardsChanges(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	boom := errors.New("boom")
	_, err := store.Update(created.Version, func(s *models.WorkflowState) error {
		s.Description = "changed"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	read, _ := store.Read()
	if read.Description != "x" {
		t.Error("failed mutator leaked changes into the document")
	}
}

func TestCommitKeepsBackupOfPreviousDocument(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	if _, err := store.Update(created.Version, func(s *models.WorkflowState) error {
		s.Description = "updated"
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	bak := store.Path() + ".bak"
	if _, err := os.Stat(bak); err != nil {
		t.Fatalf("expected backup at %s: %v", bak, err)
	}
}

func TestStrayTempFilesDoNotCorruptState(t *testing.T) {
	store := newTestStore(t)
	created, _ := store.Create("x")

	// Simulate a crash mid-write: an abandoned temp file next to the document.
	stray := filepath.Join(filepath.Dir(store.Path()), ".specflow-tmp-crash.yaml")
	if err := os.WriteFile(stray, []byte("{{{ not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	read, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed with stray temp file present: %v", err)
	}
	if read.Version != created.Version {
		t.Errorf("stray temp file affected the canonical document")
	}
}
