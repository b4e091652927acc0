package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result blocks are the only structured output a worker owes the engine.
// A stream must contain exactly one block of the form
//
//	==SPECFLOW:RESULT COMPLETED==
//	{ "artifacts": ["..."], "summary": "..." }
//	==SPECFLOW:END==
//
// with kind COMPLETED, NEEDS_INPUT, or FAILED. Anything outside the
// delimiters is ignored, so workers are free to log.
const (
	resultMarkerPrefix = "==SPECFLOW:RESULT "
	resultMarkerSuffix = "=="
	endMarker          = "==SPECFLOW:END=="
)

// ParseError indicates a worker's output did not contain a single valid
// result block. The dispatcher treats this as a retriable failure.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid worker output: %s", e.Reason)
}

// ParseResult extracts the single result block from a worker's output
// stream.
func ParseResult(output string) (*Result, error) {
	var (
		kind  ResultKind
		body  strings.Builder
		found bool
		open  bool
	)

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, resultMarkerPrefix) && strings.HasSuffix(trimmed, resultMarkerSuffix):
			if found {
				return nil, &ParseError{Reason: "multiple result blocks"}
			}
			if open {
				return nil, &ParseError{Reason: "nested result block"}
			}
			raw := strings.TrimSuffix(strings.TrimPrefix(trimmed, resultMarkerPrefix), resultMarkerSuffix)
			kind = ResultKind(strings.TrimSpace(raw))
			open = true
		case trimmed == endMarker:
			if !open {
				return nil, &ParseError{Reason: "end marker without result block"}
			}
			open = false
			found = true
		case open:
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	if open {
		return nil, &ParseError{Reason: "unterminated result block"}
	}
	if !found {
		return nil, &ParseError{Reason: "no result block"}
	}

	switch kind {
	case ResultCompleted, ResultNeedsInput, ResultFailed:
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown result kind %q", kind)}
	}

	result := &Result{Kind: kind}
	if err := json.Unmarshal([]byte(body.String()), result); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("decode %s body: %v", kind, err)}
	}
	result.Kind = kind

	if err := validateResult(result); err != nil {
		return nil, err
	}
	return result, nil
}

func validateResult(r *Result) error {
	switch r.Kind {
	case ResultCompleted:
		for _, item := range r.NewItems {
			if item.ID == "" {
				return &ParseError{Reason: "new item with empty id"}
			}
		}
	case ResultNeedsInput:
		if len(r.Questions) == 0 {
			return &ParseError{Reason: "NEEDS_INPUT without questions"}
		}
		for _, q := range r.Questions {
			if q.ID == "" {
				return &ParseError{Reason: "question with empty id"}
			}
			if q.Text == "" {
				return &ParseError{Reason: fmt.Sprintf("question %s has no text", q.ID)}
			}
		}
	case ResultFailed:
		if r.Reason == "" {
			return &ParseError{Reason: "FAILED without reason"}
		}
	}
	return nil
}

// FormatResult renders a result as a delimited block. Worker
// implementations that assemble output in-process use this to stay on the
// same wire format the subprocess executor parses.
func FormatResult(r *Result) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return fmt.Sprintf("%s%s%s\n%s\n%s\n",
		resultMarkerPrefix, r.Kind, resultMarkerSuffix, body, endMarker), nil
}
