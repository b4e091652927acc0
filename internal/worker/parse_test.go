package worker

import (
	"errors"
	"testing"
)

func TestParseResultCompleted(t *testing.T) {
	output := `planning done, writing artifacts
==SPECFLOW:RESULT COMPLETED==
{"artifacts": ["plan.md", "notes.md"], "summary": "drafted the plan"}
==SPECFLOW:END==
trailing log line
`
	result, err := ParseResult(output)
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}
	if result.Kind != ResultCompleted {
		t.Errorf("kind = %q, want COMPLETED", result.Kind)
	}
	if len(result.Artifacts) != 2 || result.Artifacts[0] != "plan.md" {
		t.Errorf("artifacts = %v", result.Artifacts)
	}
	if result.Summary != "drafted the plan" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestParseResultNeedsInput(t *testing.T) {
	output := `==SPECFLOW:RESULT NEEDS_INPUT==
{
  "questions": [
    {"id": "q1", "text": "Which auth scheme?", "short_label": "auth",
     "options": [{"label": "oauth"}, {"label": "api-key"}]},
    {"id": "q2", "text": "Rate limit per tenant?", "multi_select": false}
  ],
  "resume_marker": "after-auth-choice"
}
==SPECFLOW:END==`
	result, err := ParseResult(output)
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}
	if result.Kind != ResultNeedsInput {
		t.Errorf("kind = %q, want NEEDS_INPUT", result.Kind)
	}
	if len(result.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(result.Questions))
	}
	if result.Questions[0].Options[1].Label != "api-key" {
		t.Errorf("option label = %q", result.Questions[0].Options[1].Label)
	}
	if result.ResumeMarker != "after-auth-choice" {
		t.Errorf("resume marker = %q", result.ResumeMarker)
	}
}

func TestParseResultFailed(t *testing.T) {
	output := `==SPECFLOW:RESULT FAILED==
{"reason": "tests keep failing", "recovery_hint": "check fixture data", "retriable": false}
==SPECFLOW:END==`
	result, err := ParseResult(output)
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}
	if result.Kind != ResultFailed {
		t.Errorf("kind = %q, want FAILED", result.Kind)
	}
	if result.Retriable {
		t.Error("retriable should be false")
	}
	if result.RecoveryHint != "check fixture data" {
		t.Errorf("recovery hint = %q", result.RecoveryHint)
	}
}

func TestParseResultErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"no block", "just some logs\nnothing else\n"},
		{"unterminated", "==SPECFLOW:RESULT COMPLETED==\n{}\n"},
		{"end without start", "==SPECFLOW:END==\n"},
		{"two blocks", "==SPECFLOW:RESULT COMPLETED==\n{}\n==SPECFLOW:END==\n==SPECFLOW:RESULT COMPLETED==\n{}\n==SPECFLOW:END==\n"},
		{"unknown kind", "==SPECFLOW:RESULT SHRUGGED==\n{}\n==SPECFLOW:END==\n"},
		{"bad json", "==SPECFLOW:RESULT COMPLETED==\n{oops\n==SPECFLOW:END==\n"},
		{"needs input without questions", "==SPECFLOW:RESULT NEEDS_INPUT==\n{\"resume_marker\": \"x\"}\n==SPECFLOW:END==\n"},
		{"failed without reason", "==SPECFLOW:RESULT FAILED==\n{\"retriable\": true}\n==SPECFLOW:END==\n"},
		{"question without id", "==SPECFLOW:RESULT NEEDS_INPUT==\n{\"questions\": [{\"text\": \"?\"}]}\n==SPECFLOW:END==\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult(tt.output)
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestFormatResultRoundTrip(t *testing.T) {
	in := &Result{
		Kind:      ResultFailed,
		Reason:    "flaky dependency",
		Retriable: true,
	}
	block, err := FormatResult(in)
	if err != nil {
		t.Fatalf("FormatResult failed: %v", err)
	}

	out, err := ParseResult("preamble\n" + block + "postamble\n")
	if err != nil {
		t.Fatalf("ParseResult failed on formatted block: %v", err)
	}
	if out.Kind != in.Kind || out.Reason != in.Reason || out.Retriable != in.Retriable {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}
