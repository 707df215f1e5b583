package jobs

import (
	"sync"
	"time"

	"video-extender/internal/domain"
	"video-extender/internal/media"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypeProgress  EventType = "progress"
	EventTypeFile      EventType = "file"
	EventTypeDone      EventType = "done"
	EventTypeCancelled EventType = "cancelled"
	EventTypeError     EventType = "error"
)

// Event is a sequenced payload consumed by API and CLI subscribers.
type Event struct {
	Seq         int64            `json:"seq"`
	Timestamp   time.Time        `json:"timestamp"`
	JobID       string           `json:"jobId"`
	Type        EventType        `json:"type"`
	Status      domain.JobStatus `json:"status,omitempty"`
	Section     int              `json:"section,omitempty"`
	Percent     int              `json:"percent,omitempty"`
	Message     string           `json:"message,omitempty"`
	Description string           `json:"description,omitempty"`
	Path        string           `json:"path,omitempty"`
	Preview     *media.Preview   `json:"preview,omitempty"`
}

// Terminal reports whether the event closes out a job.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventTypeDone, EventTypeCancelled, EventTypeError:
		return true
	default:
		return false
	}
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	notify    chan struct{}
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		notify:    make(chan struct{}),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Changed returns a channel that is closed by the next Publish.
func (b *EventBus) Changed() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notify
}
