package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeScript creates an executable shell script for use as a worker.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandWorkerCompleted(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "working..."
echo "==SPECFLOW:RESULT COMPLETED=="
echo '{"artifacts": ["out.md"], "summary": "done"}'
echo "==SPECFLOW:END=="
`)
	w := &CommandWorker{Command: script}

	result, err := w.Execute(context.Background(), Input{UnitID: "u1", Kind: "task"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Kind != ResultCompleted {
		t.Errorf("kind = %q, want COMPLETED", result.Kind)
	}
	if result.Summary != "done" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestCommandWorkerReceivesInputOnStdin(t *testing.T) {
	// The script echoes the unit id it read from stdin into its summary.
	script := writeScript(t, `id=$(sed 's/.*"unit_id":"\([^"]*\)".*/\1/')
echo "==SPECFLOW:RESULT COMPLETED=="
echo "{\"summary\": \"$id\"}"
echo "==SPECFLOW:END=="
`)
	w := &CommandWorker{Command: script}

	result, err := w.Execute(context.Background(), Input{UnitID: "unit-42"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Summary != "unit-42" {
		t.Errorf("worker did not see stdin input, summary = %q", result.Summary)
	}
}

func TestCommandWorkerNonZeroExitIsRetriable(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "something broke" >&2
exit 3
`)
	w := &CommandWorker{Command: script}

	result, err := w.Execute(context.Background(), Input{UnitID: "u1"})
	if err != nil {
		t.Fatalf("Execute returned error instead of failed result: %v", err)
	}
	if result.Kind != ResultFailed {
		t.Fatalf("kind = %q, want FAILED", result.Kind)
	}
	if !result.Retriable {
		t.Error("exit failures should be retriable")
	}
}

func TestCommandWorkerGarbageOutputIsRetriable(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "no result block here"
`)
	w := &CommandWorker{Command: script}

	result, err := w.Execute(context.Background(), Input{UnitID: "u1"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Kind != ResultFailed || !result.Retriable {
		t.Errorf("expected retriable FAILED for unparseable output, got %+v", result)
	}
}

func TestCommandWorkerTimeout(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
sleep 10
`)
	w := &CommandWorker{Command: script, Timeout: 50 * time.Millisecond}

	start := time.Now()
	_, err := w.Execute(context.Background(), Input{UnitID: "u1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestCommandWorkerCancellation(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
sleep 10
`)
	w := &CommandWorker{Command: script}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := w.Execute(ctx, Input{UnitID: "u1"}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
