package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"video-extender/internal/config"
	"video-extender/internal/diagnostics"
	"video-extender/internal/domain"
)

// TestFixDiagnosticCreatesOutputDirectory verifies the output_dir fix.
func TestFixDiagnosticCreatesOutputDirectory(t *testing.T) {
	root := t.TempDir()
	settings := config.DefaultSettings()
	settings.OutputDir = filepath.Join(root, "nested", "out")
	settings.DataDir = filepath.Join(root, "data")
	app := &App{
		Store:   &fakeStore{settings: settings},
		checker: diagnostics.NewChecker(),
	}

	report, err := app.FixDiagnostic(context.Background(), "output_dir")
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if _, err := os.Stat(settings.OutputDir); err != nil {
		t.Fatalf("output dir not created: %v", err)
	}
	for _, item := range report.Items {
		if item.ID == "output_dir" && item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("output_dir item = %+v", item)
		}
	}
}

// TestFixDirectoryFallsBackToDefault ensures an empty path is replaced.
func TestFixDirectoryFallsBackToDefault(t *testing.T) {
	def := filepath.Join(t.TempDir(), "default")

	dir, changed, err := fixDirectory("  ", def)
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if !changed || dir != def {
		t.Fatalf("dir = %q changed = %v, want %q true", dir, changed, def)
	}
}

// TestFixDiagnosticRejectsUnknownItem ensures tool problems are not auto-fixed.
func TestFixDiagnosticRejectsUnknownItem(t *testing.T) {
	app := &App{Store: &fakeStore{settings: config.DefaultSettings()}}
	if _, err := app.FixDiagnostic(context.Background(), "tool_ffmpeg"); err == nil {
		t.Fatal("expected unsupported item error")
	}
}
