package jobs

import (
	"testing"

	"video-extender/internal/domain"
)

// TestManagerLifecycle verifies a two-section run reaches done.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}

	if err := m.Start("job-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}

	for _, status := range []domain.JobStatus{
		domain.JobStatusTextEncoding,
		domain.JobStatusImageEncoding,
		domain.JobStatusSampling,
		domain.JobStatusDecoding,
		domain.JobStatusSampling,
		domain.JobStatusDecoding,
		domain.JobStatusDone,
	} {
		if err := m.Transition(status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	current := m.Current()
	if current.Status != domain.JobStatusDone {
		t.Fatalf("current status = %s, want done", current.Status)
	}
	if current.StartedAt.IsZero() || current.FinishedAt.IsZero() {
		t.Fatalf("timestamps not recorded: %+v", current)
	}
	if err := m.Start("job-2"); err != nil {
		t.Fatalf("restart after done: %v", err)
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.Start("job-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Transition(domain.JobStatusDone); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if err := m.Transition(domain.JobStatusSampling); err == nil {
		t.Fatal("expected sampling before encoding to be rejected")
	}
	if err := m.Start("job-2"); err != ErrJobAlreadyRunning {
		t.Fatalf("second start error = %v, want %v", err, ErrJobAlreadyRunning)
	}
}

// TestManagerCancel verifies cancel behavior and repeated cancel handling.
func TestManagerCancel(t *testing.T) {
	m := NewManager()
	if err := m.Start("job-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.Current().Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", m.Current().Status)
	}

	if err := m.Cancel(); err != ErrNoRunningJob {
		t.Fatalf("second cancel error = %v, want %v", err, ErrNoRunningJob)
	}
}

// TestManagerFailKeepsMessage verifies failure details and artifacts survive.
func TestManagerFailKeepsMessage(t *testing.T) {
	m := NewManager()
	if err := m.Start("job-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.SetArtifact("out/job-1_9.mp4")
	if err := m.Fail("sampling: out of memory"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	current := m.Current()
	if current.Status != domain.JobStatusFailed || current.Error != "sampling: out of memory" {
		t.Fatalf("current = %+v", current)
	}
	if current.LastArtifact != "out/job-1_9.mp4" {
		t.Fatalf("artifact = %q", current.LastArtifact)
	}
	if err := m.Fail("again"); err == nil {
		t.Fatal("expected failing a failed job to be rejected")
	}
}
