// Package notify broadcasts job state-change events. Publication is fire
// and forget: a sink failure never blocks or fails the transition that
// produced the event.
package notify

import (
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Type is a job event type.
type Type string

// Job event types.
const (
	TypeJobPosted     Type = "job_posted"
	TypeJobClaimed    Type = "job_claimed"
	TypeWorkSubmitted Type = "work_submitted"
	TypeJobCompleted  Type = "job_completed"
	TypeJobCancelled  Type = "job_cancelled"
	TypeJobReopened   Type = "job_reopened"
	TypeJobDisputed   Type = "job_disputed"
)

// Event is a job state-change event.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	JobID     uint64    `json:"jobId"`
	Completer string    `json:"completer,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// NewEvent returns an event with a fresh id.
func NewEvent(t Type, jobID uint64) Event {
	return Event{
		ID:    ksuid.New().String(),
		Type:  t,
		JobID: jobID,
		Time:  time.Now(),
	}
}

// Sink receives job events after their transition has committed.
type Sink interface {
	Publish(event Event) error
}

// Null is a sink that discards all events.
var Null Sink = nullSink{}

type nullSink struct{}

func (nullSink) Publish(Event) error { return nil }

// MemorySink fans events out to in-process subscribers. Slow subscribers
// drop events rather than block the publisher.
type MemorySink struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewMemorySink returns a memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		subs: map[chan Event]struct{}{},
	}
}

// Subscribe registers a subscriber. The returned function cancels the
// subscription and closes the channel.
func (s *MemorySink) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.subs[ch]; !ok {
			return
		}
		delete(s.subs, ch)
		close(ch)
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber.
func (s *MemorySink) Publish(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Multi fans one publication out to several sinks, returning the first
// error after delivering to all of them.
type Multi []Sink

// Publish delivers the event to every sink.
func (m Multi) Publish(event Event) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Publish(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
