package diagnostics

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"video-extender/internal/domain"
	"video-extender/internal/storage"
)

func settingsIn(root string) domain.Settings {
	params := domain.DefaultJobParams()
	return domain.Settings{
		OutputDir:   filepath.Join(root, "output"),
		DataDir:     filepath.Join(root, "data"),
		FFmpegPath:  "ffmpeg",
		Device:      domain.DeviceConfig{CapacityBytes: 24 * domain.GiB},
		Artifacts:   domain.ArtifactStore{Kind: "local", Dir: filepath.Join(root, "mirror")},
		JobDefaults: params,
	}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		storage.Open,
	)

	report := checker.Run(context.Background(), settingsIn(t.TempDir()))

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		storage.Open,
	)

	report := checker.Run(context.Background(), domain.Settings{
		Artifacts: domain.ArtifactStore{Kind: "ftp"},
	})
	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "data_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "memory_budget", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "artifact_store", domain.DiagnosticStatusFail)

	if len(report.Failed()) != 5 {
		t.Fatalf("failed = %+v, want all five", report.Failed())
	}
	for id, want := range map[string]bool{
		domain.DiagnosticOutputDir:     true,
		domain.DiagnosticDataDir:       true,
		domain.DiagnosticFFmpeg:        false,
		domain.DiagnosticMemoryBudget:  false,
		domain.DiagnosticArtifactStore: false,
	} {
		item, ok := report.Item(id)
		if !ok || item.Fixable != want {
			t.Fatalf("item %s = %+v, want fixable=%v", id, item, want)
		}
	}
}

// TestCheckerBudgetExceedsCapacity validates the memory budget check.
func TestCheckerBudgetExceedsCapacity(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		storage.Open,
	)
	settings := settingsIn(t.TempDir())
	settings.Device.CapacityBytes = 4 * domain.GiB

	report := checker.Run(context.Background(), settings)
	assertStatusByID(t, report, "memory_budget", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusPass)
}

// TestCheckerUnreachableStore validates the artifact store probe.
func TestCheckerUnreachableStore(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		func(domain.ArtifactStore) (storage.FileStore, error) { return brokenStore{}, nil },
	)

	report := checker.Run(context.Background(), settingsIn(t.TempDir()))
	assertStatusByID(t, report, "artifact_store", domain.DiagnosticStatusFail)
}

type brokenStore struct{}

func (brokenStore) Read(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("offline")
}
func (brokenStore) Write(context.Context, string) (io.WriteCloser, error) {
	return nil, errors.New("offline")
}
func (brokenStore) Delete(context.Context, string) error { return errors.New("offline") }
func (brokenStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("offline")
}
func (brokenStore) Location(path string) string { return "broken://" + path }

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
