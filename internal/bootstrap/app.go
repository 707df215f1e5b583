package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"video-extender/internal/backend/synthetic"
	"video-extender/internal/config"
	"video-extender/internal/diagnostics"
	"video-extender/internal/domain"
	"video-extender/internal/generate"
	"video-extender/internal/jobs"
	"video-extender/internal/jobstore"
	"video-extender/internal/residency"
	"video-extender/internal/storage"
	"video-extender/internal/videowriter"
)

// App wires configuration, jobs, the scheduler and job records.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Generator   generator
	Records     jobstore.Store
	Residency   *residency.Manager
	Diagnostics domain.DiagnosticReport
	checker     *diagnostics.Checker
	logger      *slog.Logger

	mu          sync.Mutex
	activeJobID string
	active      *generate.Handle
	running     sync.WaitGroup
	events      *jobs.EventBus
	newID       func() string
}

// generator isolates the section scheduler behind an interface.
type generator interface {
	Start(ctx context.Context, req generate.Request) (*generate.Handle, error)
}

// Options selects where settings live and how the app logs.
type Options struct {
	// ConfigPath is the settings file. Defaults to config.DefaultPath().
	ConfigPath string
	Logger     *slog.Logger
}

// New builds the application with persisted settings and startup diagnostics.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	store := config.NewYAMLStore(path)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	records, err := jobstore.NewBadger(jobstore.BadgerOptions{
		Dir:    filepath.Join(settings.DataDir, "jobs"),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open job records: %w", err)
	}

	res := residency.NewManager(
		residency.NewMemoryDevice(settings.Device.CapacityBytes),
		residency.Options{
			AbundantThresholdBytes: settings.Device.AbundantThresholdBytes,
			Logger:                 logger,
		},
	)
	if err := registerModels(res); err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("register models: %w", err)
	}

	sched, err := newScheduler(settings, res, logger)
	if err != nil {
		_ = records.Close()
		return nil, err
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(ctx, settings)

	return &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Generator:   sched,
		Records:     records,
		Residency:   res,
		Diagnostics: report,
		checker:     checker,
		logger:      logger,
		events:      jobs.NewEventBus(1000),
		newID:       newJobID,
	}, nil
}

// newScheduler builds the video writer, the optional artifact mirror and the scheduler.
func newScheduler(settings domain.Settings, res *residency.Manager, logger *slog.Logger) (*generate.Scheduler, error) {
	writer := videowriter.New(settings.FFmpegPath)
	writer.OnLog(func(log videowriter.CommandLog) {
		logger.Debug("videowriter: command finished", "command", log.Command, "exit_code", log.ExitCode)
	})

	opts := generate.Options{Writer: writer, Logger: logger}
	fileStore, err := storage.Open(settings.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	if fileStore != nil {
		opts.Publisher = storage.NewPublisher(fileStore)
	}

	sched, err := generate.NewScheduler(synthetic.New().Collaborators(), res, opts)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	return sched, nil
}

// Close cancels any active run, waits for its final record and then
// releases the models and closes the job records.
func (a *App) Close() error {
	a.mu.Lock()
	handle := a.active
	a.mu.Unlock()
	if handle != nil {
		handle.Cancel()
	}
	a.running.Wait()

	var errs []error
	if a.Residency != nil {
		errs = append(errs, a.Residency.Shutdown())
	}
	if a.Records != nil {
		errs = append(errs, a.Records.Close())
	}
	return errors.Join(errs...)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(ctx, normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics(ctx context.Context) (domain.DiagnosticReport, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}
	return a.refreshDiagnosticsFromSettings(ctx, settings), nil
}

func (a *App) refreshDiagnosticsFromSettings(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	var report domain.DiagnosticReport
	if a.checker != nil {
		report = a.checker.Run(ctx, settings)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = report
	}
	return a.Diagnostics
}

// JobDefaults returns the configured baseline parameters for a new job.
func (a *App) JobDefaults() domain.JobParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings.JobDefaults
}

// StartGeneration creates a job and runs it asynchronously.
func (a *App) StartGeneration(params domain.JobParams) (domain.Job, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.Job{}, err
	}
	if err := params.Validate(); err != nil {
		return domain.Job{}, err
	}

	// The slot stays taken until consume has seen the run return, even
	// when the job already reads as cancelled.
	jobID := a.newID()
	a.mu.Lock()
	if a.activeJobID != "" {
		a.mu.Unlock()
		return domain.Job{}, jobs.ErrJobAlreadyRunning
	}
	a.activeJobID = jobID
	a.mu.Unlock()

	if err := a.Jobs.Start(jobID); err != nil {
		a.clearActiveJob(jobID)
		return domain.Job{}, err
	}

	a.publishStatus(jobID, domain.JobStatusStarting, "Job started")

	req := generate.Request{
		JobID:     jobID,
		Params:    params,
		OutputDir: settings.OutputDir,
		OnStage:   func(status domain.JobStatus) { a.onStage(jobID, status) },
	}
	// The run outlives the caller's request, so it gets its own context.
	handle, err := a.Generator.Start(context.Background(), req)
	if err != nil {
		_ = a.Jobs.Fail(err.Error())
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: err.Error(),
		})
		a.clearActiveJob(jobID)
		return domain.Job{}, err
	}

	a.mu.Lock()
	a.active = handle
	a.mu.Unlock()

	current := a.Jobs.Current()
	rec := jobstore.Record{
		ID:        jobID,
		Params:    params,
		Status:    current.Status,
		StartedAt: current.StartedAt,
	}
	a.putRecord(rec)

	a.running.Add(1)
	go a.consume(handle, rec)
	return current, nil
}

// CancelGeneration asks the running job to stop. The job moves to
// cancelled once the run has returned.
func (a *App) CancelGeneration() error {
	a.mu.Lock()
	handle := a.active
	activeJobID := a.activeJobID
	a.mu.Unlock()

	if handle == nil {
		return jobs.ErrNoRunningJob
	}

	handle.Cancel()
	a.publishStatus(activeJobID, a.Jobs.Current().Status, "Cancellation requested")
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// EventsChanged returns a channel closed by the next published event.
func (a *App) EventsChanged() <-chan struct{} {
	return a.events.Changed()
}

// History lists persisted job records, newest first.
func (a *App) History(ctx context.Context, limit int) ([]jobstore.Record, error) {
	if a.Records == nil {
		return nil, nil
	}
	return a.Records.List(ctx, limit)
}

// consume drains the run's event channel into the bus and the job record.
func (a *App) consume(h *generate.Handle, rec jobstore.Record) {
	defer a.running.Done()
	ctx := context.Background()
	jobID := rec.ID

	for {
		ev, err := h.Next(ctx)
		if err != nil {
			break
		}
		switch ev.Kind {
		case generate.EventDone:
			a.settle(jobID, nil)
		case generate.EventCancelled:
			a.settle(jobID, generate.ErrCancelled)
		case generate.EventFailed:
			a.settle(jobID, errors.New(ev.Message))
		}
		a.forward(jobID, ev)

		switch ev.Kind {
		case generate.EventFileReady:
			rec.Artifacts = append(rec.Artifacts, ev.Path)
			rec.LastArtifact = ev.Path
			if current := a.Jobs.Current(); current.ID == jobID {
				rec.Status = current.Status
			}
			a.putRecord(rec)
		case generate.EventFailed:
			rec.Error = ev.Message
		}
	}

	result, runErr := h.Wait(ctx)
	a.settle(jobID, runErr)
	switch {
	case runErr == nil:
		rec.Status = domain.JobStatusDone
	case errors.Is(runErr, generate.ErrCancelled):
		rec.Status = domain.JobStatusCancelled
	default:
		rec.Status = domain.JobStatusFailed
		rec.Error = runErr.Error()
	}

	rec.FinishedAt = time.Now().UTC()
	if current := a.Jobs.Current(); current.ID == jobID && !current.FinishedAt.IsZero() {
		rec.FinishedAt = current.FinishedAt
	}
	rec.Sections = result.Sections
	rec.LatentFrames = result.LatentFrames
	if result.LastArtifact != "" {
		rec.LastArtifact = result.LastArtifact
	}
	a.putRecord(rec)
	a.clearActiveJob(jobID)
}

// settle moves a still-running job to the terminal status matching runErr.
func (a *App) settle(jobID string, runErr error) {
	current := a.Jobs.Current()
	if current.ID != jobID || !a.Jobs.IsRunning() {
		return
	}
	var err error
	switch {
	case runErr == nil:
		err = a.Jobs.Transition(domain.JobStatusDone)
	case errors.Is(runErr, generate.ErrCancelled):
		err = a.Jobs.Cancel()
	default:
		err = a.Jobs.Fail(runErr.Error())
	}
	if err != nil {
		a.logger.Warn("bootstrap: settle job", "job", jobID, "error", err)
	}
}

// onStage applies a scheduler stage to the job state machine.
func (a *App) onStage(jobID string, status domain.JobStatus) {
	current := a.Jobs.Current()
	if current.ID != jobID || current.Status == status || current.Status.Terminal() {
		return
	}
	if err := a.Jobs.Transition(status); err == nil {
		a.publishStatus(jobID, status, "Running "+string(status)+" stage")
	}
}

// forward maps one scheduler event onto the bus.
func (a *App) forward(jobID string, ev generate.Event) {
	out := jobs.Event{
		JobID:   jobID,
		Section: ev.Section,
	}
	switch ev.Kind {
	case generate.EventProgress:
		out.Type = jobs.EventTypeProgress
		out.Percent = ev.Percent
		out.Message = ev.Text
		out.Description = ev.Description
		out.Preview = ev.Preview
	case generate.EventFileReady:
		a.Jobs.SetArtifact(ev.Path)
		out.Type = jobs.EventTypeFile
		out.Message = "Section video ready"
		out.Path = ev.Path
	case generate.EventDone:
		out.Type = jobs.EventTypeDone
		out.Status = domain.JobStatusDone
		out.Percent = 100
		out.Message = "Job completed"
	case generate.EventCancelled:
		out.Type = jobs.EventTypeCancelled
		out.Status = domain.JobStatusCancelled
		out.Message = "Job cancelled"
	case generate.EventFailed:
		out.Type = jobs.EventTypeError
		out.Status = domain.JobStatusFailed
		out.Message = ev.Message
	default:
		return
	}
	a.publishEvent(out)
}

func (a *App) putRecord(rec jobstore.Record) {
	if a.Records == nil {
		return
	}
	if err := a.Records.Put(context.Background(), rec); err != nil {
		a.logger.Warn("bootstrap: save job record", "job", rec.ID, "error", err)
	}
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history for pollers and stream subscribers.
func (a *App) publishEvent(event jobs.Event) {
	a.events.Publish(event)
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.active = nil
	}
}

// newJobID is a sortable timestamp plus a short random suffix.
func newJobID() string {
	return time.Now().UTC().Format("060102_150405") + "_" + uuid.New().String()[:8]
}

// normalizeSettings trims user inputs and fills empty fields from defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.DataDir = strings.TrimSpace(settings.DataDir)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.ListenAddr = strings.TrimSpace(settings.ListenAddr)
	if settings.OutputDir == "" {
		settings.OutputDir = defaults.OutputDir
	}
	if settings.DataDir == "" {
		settings.DataDir = defaults.DataDir
	}
	if settings.FFmpegPath == "" {
		settings.FFmpegPath = defaults.FFmpegPath
	}
	if settings.ListenAddr == "" {
		settings.ListenAddr = defaults.ListenAddr
	}
	if settings.Device.CapacityBytes <= 0 {
		settings.Device.CapacityBytes = defaults.Device.CapacityBytes
	}
	if settings.Device.AbundantThresholdBytes <= 0 {
		settings.Device.AbundantThresholdBytes = defaults.Device.AbundantThresholdBytes
	}
	if settings.JobDefaults.WindowSize == 0 {
		settings.JobDefaults = defaults.JobDefaults
	}
	return settings
}
