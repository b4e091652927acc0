// Package state persists one workflow instance's state as a YAML document
// with optimistic concurrency and crash-safe atomic commits. The document
// stays hand-editable for manual recovery; every commit is validated so a
// bad edit is rejected rather than propagated.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specflow/specflow/pkg/models"
)

// ErrConflict indicates the persisted version changed since the caller's
// read. The caller must re-read and retry; the losing side of a claim race
// sees this error.
var ErrConflict = errors.New("state version conflict")

// ErrNotFound indicates no state document exists yet.
var ErrNotFound = errors.New("workflow state not found")

// ErrExists indicates a state document already exists at the path.
var ErrExists = errors.New("workflow state already exists")

// mutateAttempts bounds the retry loop that absorbs ErrConflict.
const mutateAttempts = 10

// Store reads and updates the state document at a fixed path.
// A process-wide mutex serializes in-process writers; a flock on a sibling
// lock file serializes writers across processes.
type Store struct {
	path string
	lock *fileLock
	mu   sync.Mutex
	now  func() time.Time
}

// DefaultPath returns the state document path under a workflow directory.
func DefaultPath(dir string) string {
	return filepath.Join(dir, ".specflow", "state.yaml")
}

// NewStore creates a store for the document at the given path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: newFileLock(path + ".lock"),
		now:  time.Now,
	}
}

// Path returns the path of the state document.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a state document is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Create writes the initial state document for a new workflow.
// Fails with ErrExists if a document is already present.
func (s *Store) Create(description string) (*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Exists() {
		return nil, ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	state := models.NewWorkflowState(description, s.now())
	state.Version = 1
	if err := atomicWriteYAML(s.path, state); err != nil {
		return nil, fmt.Errorf("write initial state: %w", err)
	}
	return state, nil
}

// Read loads and validates the current state document.
func (s *Store) Read() (*models.WorkflowState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state models.WorkflowState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("state document is invalid: %w", err)
	}
	return &state, nil
}

// Update applies the mutator to a fresh copy of the current state and
// commits it, but only if the persisted version still equals
// expectedVersion. On a mismatch it returns ErrConflict without writing.
//
// The mutator receives a deep copy; returning an error discards every
// change. A successful commit increments the version, stamps UpdatedAt,
// validates the document, and persists durably before returning.
func (s *Store) Update(expectedVersion int64, mutate func(*models.WorkflowState) error) (*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.acquire(); err != nil {
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	defer s.lock.release()

	current, err := s.Read()
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("persisted version %d, expected %d: %w",
			current.Version, expectedVersion, ErrConflict)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("rejecting update: %w", err)
	}
	if err := atomicWriteYAML(s.path, next); err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}
	return next, nil
}

// Mutate runs Update in a read-retry loop, absorbing ErrConflict.
// Conflicts are internal races and are never surfaced; any other error is.
func (s *Store) Mutate(ctx context.Context, mutate func(*models.WorkflowState) error) (*models.WorkflowState, error) {
	var lastErr error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err := s.Read()
		if err != nil {
			return nil, err
		}
		next, err := s.Update(current.Version, mutate)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 5 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("state update still conflicting after %d attempts: %w", mutateAttempts, lastErr)
}
