package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
)

// CommandWorker executes units by spawning an external command as an
// isolated process. The input document is written to the command's stdin
// as JSON; the command's stdout must contain one result block.
type CommandWorker struct {
	// Command is the shell-quoted command line to run per unit.
	Command string
	// WorkDir is the working directory for the spawned process.
	WorkDir string
	// Timeout bounds a single execution. Zero means no timeout.
	Timeout time.Duration
}

// Execute runs the command for one unit of work.
// A non-zero exit or unparseable output is reported as a retriable FAILED
// result rather than an error: the process boundary did its job, the unit
// just didn't succeed.
func (w *CommandWorker) Execute(ctx context.Context, input Input) (*Result, error) {
	argv, err := shellquote.Split(w.Command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty worker command")
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode worker input: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = w.WorkDir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		// Cancellation and timeouts propagate; the claim lease covers
		// the case where this process never reports back.
		return nil, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return &Result{
				Kind:      ResultFailed,
				Reason:    fmt.Sprintf("worker exited with code %d: %s", exitErr.ExitCode(), firstLine(stderr.String())),
				Retriable: true,
			}, nil
		}
		return nil, fmt.Errorf("spawn worker: %w", runErr)
	}

	result, err := ParseResult(stdout.String())
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return &Result{Kind: ResultFailed, Reason: parseErr.Reason, Retriable: true}, nil
		}
		return nil, err
	}
	return result, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
