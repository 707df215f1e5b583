package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"video-extender/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start creates a new job and moves it to starting state.
func (m *Manager) Start(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:        jobID,
		Status:    domain.JobStatusStarting,
		StartedAt: m.now(),
	}
	return nil
}

// Transition validates and applies state transitions for current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	if status.Terminal() {
		m.current.FinishedAt = m.now()
	}
	return nil
}

// SetArtifact records the newest playable file of the current job.
func (m *Manager) SetArtifact(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.LastArtifact = path
}

// Fail moves the current job to failed and keeps the message.
func (m *Manager) Fail(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isValidTransition(m.current.Status, domain.JobStatusFailed) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, domain.JobStatusFailed)
	}
	m.current.Status = domain.JobStatusFailed
	m.current.Error = message
	m.current.FinishedAt = m.now()
	return nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears job metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Job{Status: domain.JobStatusIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	m.current.FinishedAt = m.now()
	return nil
}

// isRunning checks if a status represents an active scheduler stage.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusStarting,
		domain.JobStatusTextEncoding,
		domain.JobStatusImageEncoding,
		domain.JobStatusSampling,
		domain.JobStatusDecoding:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
// Sampling and decoding alternate once per section.
func isValidTransition(from, to domain.JobStatus) bool {
	stopped := to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusStarting
	case domain.JobStatusStarting:
		return to == domain.JobStatusTextEncoding || stopped
	case domain.JobStatusTextEncoding:
		return to == domain.JobStatusImageEncoding || stopped
	case domain.JobStatusImageEncoding:
		return to == domain.JobStatusSampling || stopped
	case domain.JobStatusSampling:
		return to == domain.JobStatusDecoding || stopped
	case domain.JobStatusDecoding:
		return to == domain.JobStatusSampling || to == domain.JobStatusDone || stopped
	case domain.JobStatusDone, domain.JobStatusFailed, domain.JobStatusCancelled:
		return to == domain.JobStatusStarting || to == domain.JobStatusIdle
	default:
		return false
	}
}
