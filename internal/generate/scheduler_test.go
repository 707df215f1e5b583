package generate

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"video-extender/internal/domain"
	"video-extender/internal/history"
	"video-extender/internal/media"
	"video-extender/internal/residency"
	"video-extender/internal/stepskip"
	"video-extender/internal/stream"
)

type fakeText struct {
	mu      sync.Mutex
	prompts []string
}

func (f *fakeText) EncodeText(_ context.Context, prompt string) (Conditioning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return Conditioning{Vectors: [][]float32{{1, 2}, {3, 4}}, Pooled: []float32{1}, Mask: []bool{true, true}}, nil
}

type fakeImage struct{}

func (fakeImage) EncodeImage(context.Context, image.Image) (media.Clip, error) {
	return media.NewClip(1, 1, 4, 1), nil
}

type fakeLatent struct{}

func (fakeLatent) EncodeLatent(context.Context, image.Image) (media.Clip, error) {
	return media.NewClip(2, 2, 4, 1), nil
}

type fakeSampler struct {
	mu      sync.Mutex
	configs []SamplerConfig
	ctxs    []SampleContext
	skipped int
	onStep  func(call, step int)
}

func (f *fakeSampler) Sample(_ context.Context, cfg SamplerConfig, sc SampleContext, cb StepFunc) (media.Clip, error) {
	f.mu.Lock()
	call := len(f.configs)
	f.configs = append(f.configs, cfg)
	f.ctxs = append(f.ctxs, sc)
	f.mu.Unlock()

	cache := stepskip.NewCache(cfg.StepSkip)
	denoised := media.NewClip(cfg.Width, cfg.Height, 4, cfg.LatentFrames)
	for step := 0; step < cfg.Steps; step++ {
		if f.onStep != nil {
			f.onStep(call, step)
		}
		compute := cache.ShouldCompute(step, []float32{1, 1})
		if !compute {
			f.mu.Lock()
			f.skipped++
			f.mu.Unlock()
		}
		if cb(StepInfo{Step: step, Steps: cfg.Steps, Denoised: denoised, Skipped: !compute}) == Abort {
			return media.Clip{}, ErrAborted
		}
	}
	return media.NewClip(cfg.Width, cfg.Height, 4, cfg.LatentFrames), nil
}

type fakeDecoder struct {
	err error
}

func (f *fakeDecoder) DecodeLatents(_ context.Context, latents media.Clip) (media.Clip, error) {
	if f.err != nil {
		return media.Clip{}, f.err
	}
	return media.NewClip(1, 1, 3, history.PixelFrames(latents.Len())), nil
}

type fakeWriter struct {
	mu     sync.Mutex
	paths  []string
	frames []int
}

func (f *fakeWriter) WriteVideo(_ context.Context, clip media.Clip, path string, frameRate, quality int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	f.frames = append(f.frames, clip.Len())
	return nil
}

type fixture struct {
	sched   *Scheduler
	res     *residency.Manager
	text    *fakeText
	sampler *fakeSampler
	decoder *fakeDecoder
	writer  *fakeWriter
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := residency.NewManager(residency.NewMemoryDevice(32*domain.GiB), residency.Options{Logger: logger})
	err := res.Register(
		residency.StaticModel{ModelName: residency.ModelTextEncoder, Bytes: 8 * domain.GiB},
		residency.StaticModel{ModelName: residency.ModelTextEncoder2, Bytes: domain.GiB},
		residency.StaticModel{ModelName: residency.ModelImageEncoder, Bytes: domain.GiB},
		residency.StaticModel{ModelName: residency.ModelVAE, Bytes: domain.GiB},
		residency.StaticModel{ModelName: residency.ModelTransformer, Bytes: 13 * domain.GiB},
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	f := &fixture{
		res:     res,
		text:    &fakeText{},
		sampler: &fakeSampler{},
		decoder: &fakeDecoder{},
		writer:  &fakeWriter{},
		dir:     t.TempDir(),
	}
	f.sched, err = NewScheduler(Backend{
		Text:    f.text,
		Image:   fakeImage{},
		Latent:  fakeLatent{},
		Sampler: f.sampler,
		Decoder: f.decoder,
	}, res, Options{Writer: f.writer, Logger: logger})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return f
}

func (f *fixture) request(params domain.JobParams) Request {
	return Request{
		JobID:     "job",
		Params:    params,
		OutputDir: f.dir,
		Image:     image.NewRGBA(image.Rect(0, 0, 16, 16)),
		Events:    stream.NewQueue[Event](16),
		Control:   stream.NewControl(),
	}
}

func testParams() domain.JobParams {
	p := domain.DefaultJobParams()
	p.ImagePath = "input.png"
	p.Steps = 4
	return p
}

func drain(t *testing.T, q *stream.Queue[Event]) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []Event
	for {
		ev, err := q.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func count(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func assertSingleTerminal(t *testing.T, events []Event, want EventKind) {
	t.Helper()
	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want 1", terminals)
	}
	if last := events[len(events)-1]; last.Kind != want {
		t.Fatalf("last event = %s, want %s", last.Kind, want)
	}
}

// TestRunOneSecondSingleSection checks a 1s job yields one file then Done.
func TestRunOneSecondSingleSection(t *testing.T) {
	f := newFixture(t)
	params := testParams()
	params.DurationSeconds = 1
	req := f.request(params)

	res, err := f.sched.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, req.Events)
	assertSingleTerminal(t, events, EventDone)
	if got := count(events, EventFileReady); got != 1 {
		t.Fatalf("file events = %d, want 1", got)
	}

	if res.Sections != 1 || res.LatentFrames != 10 {
		t.Fatalf("result = %+v, want 1 section with 10 latent frames", res)
	}
	wantPath := filepath.Join(f.dir, "job_10.mp4")
	if res.LastArtifact != wantPath {
		t.Fatalf("artifact = %s, want %s", res.LastArtifact, wantPath)
	}
	if f.writer.frames[0] != 37 {
		t.Fatalf("written frames = %d, want 37", f.writer.frames[0])
	}
	if cfg := f.sampler.configs[0]; cfg.Frames != 33 || cfg.LatentFrames != 9 || len(cfg.Sigmas) != 5 {
		t.Fatalf("sampler config = %+v", cfg)
	}
}

// TestRunLatentLengthSum checks history grows by window per section plus the anchor.
func TestRunLatentLengthSum(t *testing.T) {
	f := newFixture(t)
	req := f.request(testParams())

	res, err := f.sched.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, req.Events)
	assertSingleTerminal(t, events, EventDone)

	if res.Sections != 4 || res.LatentFrames != 4*9+1 {
		t.Fatalf("result = %+v", res)
	}
	wantNames := []string{"job_9.mp4", "job_18.mp4", "job_27.mp4", "job_37.mp4"}
	for i, name := range wantNames {
		if filepath.Base(f.writer.paths[i]) != name {
			t.Fatalf("path[%d] = %s, want %s", i, f.writer.paths[i], name)
		}
	}
	wantFrames := []int{33, 69, 105, 145}
	for i, n := range wantFrames {
		if f.writer.frames[i] != n {
			t.Fatalf("frames[%d] = %d, want %d", i, f.writer.frames[i], n)
		}
	}

	wantPadding := []int{27, 18, 9, 0}
	for i, pad := range wantPadding {
		if got := len(f.sampler.configs[i].Indices.Blank); got != pad {
			t.Fatalf("section %d blank = %d, want %d", i, got, pad)
		}
	}
	if f.sampler.ctxs[0].Quad.Len() != 16 || f.sampler.ctxs[3].Post.Len() != 1 {
		t.Fatal("context slices have wrong lengths")
	}
}

// TestRunCancelBeforeStart checks a pre-cancelled job emits only Cancelled.
func TestRunCancelBeforeStart(t *testing.T) {
	f := newFixture(t)
	req := f.request(testParams())
	req.Control.Cancel()

	_, err := f.sched.Run(context.Background(), req)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run = %v, want ErrCancelled", err)
	}
	events := drain(t, req.Events)
	assertSingleTerminal(t, events, EventCancelled)
	if count(events, EventFileReady) != 0 {
		t.Fatal("cancelled job should not produce files")
	}
	if len(f.sampler.configs) != 0 {
		t.Fatal("sampler should not run")
	}
}

// TestRunCancelDuringSampling checks the step callback aborts the sampler.
func TestRunCancelDuringSampling(t *testing.T) {
	f := newFixture(t)
	req := f.request(testParams())
	f.sampler.onStep = func(call, step int) {
		if call == 1 && step == 2 {
			req.Control.Cancel()
		}
	}

	res, err := f.sched.Run(context.Background(), req)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run = %v, want ErrCancelled", err)
	}
	events := drain(t, req.Events)
	assertSingleTerminal(t, events, EventCancelled)
	if count(events, EventFileReady) != 1 || len(f.writer.paths) != 1 {
		t.Fatalf("files = %d, want 1", count(events, EventFileReady))
	}
	if res.LastArtifact != f.writer.paths[0] {
		t.Fatalf("last artifact = %q, want %q", res.LastArtifact, f.writer.paths[0])
	}
	for _, p := range f.res.Snapshot() {
		if p.Tier != residency.TierOffloaded {
			t.Fatalf("model %s still resident after cancel", p.Name)
		}
	}
}

// TestStepSkipKeepsEventShape checks acceleration does not change control flow.
func TestStepSkipKeepsEventShape(t *testing.T) {
	shape := func(enabled bool) ([]Event, int) {
		f := newFixture(t)
		params := testParams()
		params.Steps = 10
		params.StepSkipEnabled = enabled
		params.StepSkipPreset = domain.StepSkipQuality
		req := f.request(params)
		if _, err := f.sched.Run(context.Background(), req); err != nil {
			t.Fatalf("Run(enabled=%v): %v", enabled, err)
		}
		return drain(t, req.Events), f.sampler.skipped
	}

	dense, denseSkipped := shape(false)
	fast, fastSkipped := shape(true)
	if denseSkipped != 0 || fastSkipped == 0 {
		t.Fatalf("skipped dense=%d fast=%d", denseSkipped, fastSkipped)
	}
	if len(dense) != len(fast) {
		t.Fatalf("event counts differ: %d vs %d", len(dense), len(fast))
	}
	for i := range dense {
		a, b := dense[i], fast[i]
		if a.Kind != b.Kind || a.Section != b.Section || a.Text != b.Text || filepath.Base(a.Path) != filepath.Base(b.Path) {
			t.Fatalf("event %d differs: %+v vs %+v", i, a, b)
		}
	}
}

// TestRunFailureReleasesModels checks a decode error ends with one Failed event.
func TestRunFailureReleasesModels(t *testing.T) {
	f := newFixture(t)
	f.decoder.err = errors.New("decoder exploded")
	req := f.request(testParams())

	_, err := f.sched.Run(context.Background(), req)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageDecoding || stageErr.Section != 0 {
		t.Fatalf("Run = %v, want decoding StageError", err)
	}
	events := drain(t, req.Events)
	assertSingleTerminal(t, events, EventFailed)
	if events[len(events)-1].Message == "" {
		t.Fatal("failed event should carry a message")
	}
	for _, p := range f.res.Snapshot() {
		if p.Tier != residency.TierOffloaded {
			t.Fatalf("model %s still resident after failure", p.Name)
		}
	}
}

// TestRunRejectsInvalidParams checks validation fails before any work.
func TestRunRejectsInvalidParams(t *testing.T) {
	f := newFixture(t)
	params := testParams()
	params.WindowSize = 0
	req := f.request(params)

	_, err := f.sched.Run(context.Background(), req)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "windowSize" {
		t.Fatalf("Run = %v, want windowSize ValidationError", err)
	}
	assertSingleTerminal(t, drain(t, req.Events), EventFailed)
	if len(f.text.prompts) != 0 {
		t.Fatal("text encoder should not run")
	}
}

// TestNegativePromptZeroedAtUnitGuidance checks the negative branch is skipped when cfg is 1.
func TestNegativePromptZeroedAtUnitGuidance(t *testing.T) {
	f := newFixture(t)
	params := testParams()
	params.DurationSeconds = 1
	params.NegativePrompt = "blurry"
	req := f.request(params)
	if _, err := f.sched.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.text.prompts) != 1 {
		t.Fatalf("encoded prompts = %v, want only the positive one", f.text.prompts)
	}
	sc := f.sampler.ctxs[0]
	if len(sc.Positive.Vectors) != TextTokens || len(sc.Negative.Vectors) != TextTokens {
		t.Fatalf("conditioning not fitted to %d tokens", TextTokens)
	}
	if sc.Negative.Vectors[0][0] != 0 || sc.Positive.Vectors[0][0] != 1 {
		t.Fatal("negative conditioning should be zero")
	}
	if !sc.Positive.Mask[1] || sc.Positive.Mask[2] {
		t.Fatal("mask should cover only real tokens")
	}

	g := newFixture(t)
	params.GuidanceScale = 2
	if _, err := g.sched.Run(context.Background(), g.request(params)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(g.text.prompts) != 2 || g.text.prompts[1] != "blurry" {
		t.Fatalf("encoded prompts = %v", g.text.prompts)
	}
}

// TestStartRejectsSecondRun checks only one run holds the scheduler.
func TestStartRejectsSecondRun(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.sampler.onStep = func(call, step int) {
		if call == 0 && step == 0 {
			<-release
		}
	}

	params := testParams()
	params.DurationSeconds = 1
	h, err := f.sched.Start(context.Background(), f.request(params))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.sched.Start(context.Background(), f.request(params)); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start = %v, want ErrRunActive", err)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var kinds []EventKind
	for {
		ev, err := h.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		kinds = append(kinds, ev.Kind)
	}
	if kinds[len(kinds)-1] != EventDone {
		t.Fatalf("last kind = %s", kinds[len(kinds)-1])
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// TestHandleCancel checks Cancel on a handle stops the run.
func TestHandleCancel(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	f.sampler.onStep = func(call, step int) {
		if call == 0 && step == 0 {
			close(started)
			<-proceed
		}
	}

	h, err := f.sched.Start(context.Background(), f.request(testParams()))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	h.Cancel()
	close(proceed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait = %v, want ErrCancelled", err)
	}
	if len(f.writer.paths) != 0 {
		t.Fatal("no file should be written after cancel in the first section")
	}
}

// TestStartRejectsInvalidParams checks synchronous validation.
func TestStartRejectsInvalidParams(t *testing.T) {
	f := newFixture(t)
	params := testParams()
	params.Steps = 0
	if _, err := f.sched.Start(context.Background(), f.request(params)); err == nil {
		t.Fatal("expected validation error")
	}
}
