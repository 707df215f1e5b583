package generate

import "video-extender/internal/media"

// EventKind tags one message on the event channel.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventFileReady EventKind = "file"
	EventDone      EventKind = "done"
	EventCancelled EventKind = "cancelled"
	EventFailed    EventKind = "failed"
)

// Event is one message from a running job to its consumer.
type Event struct {
	Kind        EventKind      `json:"kind"`
	Section     int            `json:"section"`
	Percent     int            `json:"percent,omitempty"`
	Text        string         `json:"text,omitempty"`
	Description string         `json:"description,omitempty"`
	Preview     *media.Preview `json:"preview,omitempty"`
	Path        string         `json:"path,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// Terminal reports whether the event ends the run.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventDone, EventCancelled, EventFailed:
		return true
	default:
		return false
	}
}
