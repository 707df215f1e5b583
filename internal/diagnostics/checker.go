package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"video-extender/internal/domain"
	"video-extender/internal/storage"
)

// storeProbeTimeout bounds the artifact store reachability check.
const storeProbeTimeout = 10 * time.Second

// Checker validates external tools, required paths and resource settings.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	openStore  func(domain.ArtifactStore) (storage.FileStore, error)
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		openStore:  storage.Open,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	ffmpeg := settings.FFmpegPath
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	items := []domain.DiagnosticItem{
		c.checkTool(ffmpeg),
		c.checkWritableDir(domain.DiagnosticOutputDir, "Output directory", settings.OutputDir),
		c.checkWritableDir(domain.DiagnosticDataDir, "Data directory", settings.DataDir),
		c.checkMemoryBudget(settings.Device, settings.JobDefaults.MemoryBudgetBytes),
		c.checkArtifactStore(ctx, settings.Artifacts),
	}
	return domain.NewDiagnosticReport(time.Now().UTC(), items)
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      domain.DiagnosticFFmpeg,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install ffmpeg and ensure the binary is available on PATH, or set ffmpeg_path in settings.",
		}
	}

	return domain.DiagnosticItem{
		ID:      domain.DiagnosticFFmpeg,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	// A missing or uncreatable directory can be repaired by the fixer.
	item := domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Fixable: true,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory where section videos and job records can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Fixable = false
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkMemoryBudget verifies the sampler's preserved memory leaves room on the device.
func (c *Checker) checkMemoryBudget(device domain.DeviceConfig, budget int64) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticMemoryBudget,
		Name: "Memory budget",
	}

	switch {
	case device.CapacityBytes <= 0:
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Device capacity is not configured."
		item.Hint = "Set device.capacity_bytes to the size of the fast memory tier."
	case budget >= device.CapacityBytes:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Memory budget %.1f GiB does not fit device capacity %.1f GiB.",
			gib(budget), gib(device.CapacityBytes))
		item.Hint = "Lower memory_budget_bytes in the job defaults."
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Preserving %.1f GiB of %.1f GiB while sampling.",
			gib(budget), gib(device.CapacityBytes))
	}
	return item
}

// checkArtifactStore opens the configured mirror and probes it once.
func (c *Checker) checkArtifactStore(ctx context.Context, cfg domain.ArtifactStore) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticArtifactStore,
		Name: "Artifact store",
	}

	store, err := c.openStore(cfg)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot open artifact store: %v", err)
		item.Hint = "Check the artifacts section of the settings file."
		return item
	}
	if store == nil {
		item.Status = domain.DiagnosticStatusPass
		item.Message = "Artifact mirroring is disabled."
		return item
	}

	probeCtx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	defer cancel()
	if _, err := store.Exists(probeCtx, storage.Key("healthcheck")); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Artifact store unreachable: %s", store.Location(""))
		item.Hint = "Verify credentials, bucket name and endpoint."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Reachable: %s", store.Location(""))
	return item
}

func gib(n int64) float64 {
	return float64(n) / float64(domain.GiB)
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	openStore func(domain.ArtifactStore) (storage.FileStore, error),
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		openStore:  openStore,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
