package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventModelResponse EventKind = "model_response"
	EventToolCall      EventKind = "tool_call"
	EventVerifyAttempt EventKind = "verify_attempt"
	EventStateCommit   EventKind = "state_commit"
	EventGraceStep     EventKind = "grace_step"
	EventRunEnd        EventKind = "run_end"
	EventError         EventKind = "error"
)

// Event is a typed event emitted by the repair loop. EventVerifyAttempt is
// the artifact feed: its Data carries sample_id, attempt, code, status,
// and a final flag distinguishing the successful snapshot from
// intermediate attempts. EventRunEnd carries the full history for the
// conversation log sink.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SampleID  string                 `json:"sample_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to persistence collaborators via a
// channel.
type EventEmitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event to the channel. If the emitter is closed or the
// channel is full, the event is dropped rather than blocking the loop;
// hosts that persist artifacts must drain Events promptly.
func (e *EventEmitter) Emit(sampleID string, kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SampleID:  sampleID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
