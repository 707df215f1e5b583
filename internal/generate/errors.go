package generate

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a run stopped because cancellation was requested.
var ErrCancelled = errors.New("generate: cancelled")

// ErrRunActive is returned by Start while another run holds the scheduler.
var ErrRunActive = errors.New("generate: a run is already active")

// StageError is a stage-aware failure of one run.
type StageError struct {
	Stage   string `json:"stage"`
	Section int    `json:"section"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error formats stage failures for logs and events.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Section < 0 {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s (section %d): %s", e.Stage, e.Section, e.Message)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageErr(stage string, section int, message string, err error) error {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	return &StageError{Stage: stage, Section: section, Message: message, Err: err}
}
