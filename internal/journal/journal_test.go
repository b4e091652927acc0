package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndHistory(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.RecordTransition(ctx, "spec", "in_progress"); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	if err := j.RecordRun(ctx, "spec", "completed", ""); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := j.RecordTransition(ctx, "spec", "completed"); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	if err := j.RecordGate(ctx, "plan", "approved", "user"); err != nil {
		t.Fatalf("RecordGate failed: %v", err)
	}

	entries, err := j.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	kinds := map[string]int{}
	for _, e := range entries {
		kinds[e.Kind]++
		if e.At.IsZero() {
			t.Errorf("entry %+v has zero timestamp", e)
		}
	}
	if kinds["transition"] != 2 || kinds["run"] != 1 || kinds["gate"] != 1 {
		t.Errorf("entry kinds = %v, want 2 transitions, 1 run, 1 gate", kinds)
	}
}

func TestHistoryLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := j.RecordRun(ctx, "item", "completed", ""); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	entries, err := j.History(ctx, 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestRunDetailRendered(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.RecordRun(ctx, "task-1", "failed_critical", "migration clash"); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	entries, err := j.History(ctx, 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Detail != "failed_critical: migration clash" {
		t.Errorf("detail = %q", entries[0].Detail)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := j.RecordTransition(ctx, "spec", "completed"); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j2.Close()

	entries, err := j2.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries after reopen, want 1", len(entries))
	}
}
