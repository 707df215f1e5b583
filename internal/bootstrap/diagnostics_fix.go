package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"video-extender/internal/config"
	"video-extender/internal/domain"
)

// FixDiagnostic applies a remediation for one failed diagnostic item.
// Only directory problems can be fixed in place; tools and storage need
// the user.
func (a *App) FixDiagnostic(ctx context.Context, itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case domain.DiagnosticOutputDir:
		settings.OutputDir, settingsChanged, fixErr = fixDirectory(settings.OutputDir, config.DefaultSettings().OutputDir)
	case domain.DiagnosticDataDir:
		settings.DataDir, settingsChanged, fixErr = fixDirectory(settings.DataDir, config.DefaultSettings().DataDir)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(ctx, settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(ctx, settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

// fixDirectory falls back to def when dir is empty and creates the result.
func fixDirectory(dir, def string) (string, bool, error) {
	dir = strings.TrimSpace(dir)
	changed := false
	if dir == "" {
		dir = def
		changed = true
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, changed, fmt.Errorf("create directory %s: %w", dir, err)
	}

	return dir, changed, nil
}
