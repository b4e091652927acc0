package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/specflow/specflow/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventPhaseStarted indicates a phase entered in_progress.
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted indicates a phase finished successfully.
	EventPhaseCompleted EventType = "phase_completed"
	// EventPhaseSkipped indicates an optional phase was auto-skipped.
	EventPhaseSkipped EventType = "phase_skipped"
	// EventPhaseFailed indicates a phase halted on a critical failure.
	EventPhaseFailed EventType = "phase_failed"
	// EventLayerStarted indicates dispatch of an execution layer began.
	EventLayerStarted EventType = "layer_started"
	// EventLayerCompleted indicates every item in a layer is terminal.
	EventLayerCompleted EventType = "layer_completed"
	// EventQuestionsAsked indicates an interaction round surfaced questions.
	EventQuestionsAsked EventType = "questions_asked"
	// EventGatePending indicates a manual gate is blocking the workflow.
	EventGatePending EventType = "gate_pending"
	// EventGateResolved indicates a gate was approved or auto-skipped.
	EventGateResolved EventType = "gate_resolved"
	// EventCommitted indicates version control durably recorded a phase.
	EventCommitted EventType = "committed"
	// EventWorkflowDone indicates the workflow reached the complete phase.
	EventWorkflowDone EventType = "workflow_done"
)

// Event is emitted by the orchestrator as the workflow progresses.
// Subscribers (CLI progress output, TUI) receive these on a channel.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Phase is the related phase, if applicable.
	Phase models.PhaseName
	// ItemID is the related work item, if applicable.
	ItemID string
	// Layer is the zero-based layer index for layer events.
	Layer int
	// Message provides additional context about the event.
	Message string
	// Error carries failure details for phase_failed events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter provides thread-safe, non-blocking event emission.
// A slow subscriber loses events rather than stalling dispatch.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the channel. When the buffer is full it waits
// briefly for the receiver to drain, then drops the event.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestrator] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the number of events dropped so far.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read side of the event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Call once the run loop has returned.
func (e *EventEmitter) Close() {
	close(e.events)
}
