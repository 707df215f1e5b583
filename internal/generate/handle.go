package generate

import (
	"context"

	"video-extender/internal/stream"
)

// Handle is a running job: a fresh event queue, a cancel latch and the
// eventual outcome.
type Handle struct {
	JobID string

	events  *stream.Queue[Event]
	control *stream.Control
	done    chan struct{}
	result  Result
	err     error
}

// Start validates req and runs it on a new goroutine. It fails with
// ErrRunActive while another run holds the scheduler. Events and Control
// on req are replaced with a fresh pair.
func (s *Scheduler) Start(ctx context.Context, req Request) (*Handle, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	if !s.mu.TryLock() {
		return nil, ErrRunActive
	}

	h := &Handle{
		JobID:   req.JobID,
		events:  stream.NewQueue[Event](64),
		control: stream.NewControl(),
		done:    make(chan struct{}),
	}
	req.Events = h.events
	req.Control = h.control

	go func() {
		defer close(h.done)
		defer s.mu.Unlock()
		h.result, h.err = s.runLocked(ctx, req)
	}()
	return h, nil
}

// Next blocks for the next event. It returns io.EOF after the terminal event.
func (h *Handle) Next(ctx context.Context) (Event, error) {
	return h.events.Next(ctx)
}

// Cancel asks the run to stop at its next checkpoint.
func (h *Handle) Cancel() {
	h.control.Cancel()
}

// Done is closed when the run has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run returns or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
