package models

import "time"

// QuestionOption is a selectable answer to a question.
type QuestionOption struct {
	// Label is the short option text presented to the user.
	Label string `yaml:"label"`
	// Description explains the consequences of choosing this option.
	Description string `yaml:"description,omitempty"`
}

// Question is a piece of input a worker could not determine on its own.
// Questions are queued on the workflow state and surfaced to a human in
// FIFO batches by the orchestrator.
type Question struct {
	// ID is the unique identifier for this question.
	ID string `yaml:"id"`
	// WorkItemID is the item whose execution raised the question.
	WorkItemID string `yaml:"work_item_id"`
	// Text is the full question text.
	Text string `yaml:"text"`
	// ShortLabel is a compact label for lists and logs.
	ShortLabel string `yaml:"short_label,omitempty"`
	// Options are the selectable answers.
	Options []QuestionOption `yaml:"options,omitempty"`
	// MultiSelect allows choosing more than one option.
	MultiSelect bool `yaml:"multi_select,omitempty"`
	// Answer holds the selected option labels once answered.
	Answer []string `yaml:"answer,omitempty"`
	// EnqueuedAt is when the question entered the interaction queue.
	EnqueuedAt time.Time `yaml:"enqueued_at"`
}

// Answered returns true if an answer has been recorded.
func (q *Question) Answered() bool {
	return len(q.Answer) > 0
}

// Clone returns a deep copy of the question.
func (q *Question) Clone() *Question {
	out := *q
	out.Options = append([]QuestionOption(nil), q.Options...)
	out.Answer = append([]string(nil), q.Answer...)
	return &out
}
