// Package generate drives one long-video job section by section: it packs
// the context window, swaps models through the residency manager, samples,
// decodes, blends and writes a playable file after every section.
package generate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"video-extender/internal/domain"
	"video-extender/internal/flowshift"
	"video-extender/internal/history"
	"video-extender/internal/media"
	"video-extender/internal/packer"
	"video-extender/internal/residency"
	"video-extender/internal/stepskip"
	"video-extender/internal/stream"
)

// Stage names used in StageError and logs.
const (
	StageTextEncoding  = "text_encoding"
	StageImageEncoding = "image_encoding"
	StageSampling      = "sampling"
	StageDecoding      = "decoding"
	StageAssembling    = "assembling"
	StageWriting       = "writing"
)

// Request contains the job to run and its channel pair.
type Request struct {
	JobID     string
	Params    domain.JobParams
	OutputDir string

	// Image overrides loading Params.ImagePath when set.
	Image image.Image

	Events  *stream.Queue[Event]
	Control *stream.Control

	OnStage func(status domain.JobStatus)
}

// Result summarises a finished or stopped run.
type Result struct {
	Sections     int      `json:"sections"`
	LatentFrames int      `json:"latentFrames"`
	PixelFrames  int      `json:"pixelFrames"`
	Artifacts    []string `json:"artifacts"`
	LastArtifact string   `json:"lastArtifact,omitempty"`
}

// Options configures a Scheduler.
type Options struct {
	Writer    VideoWriter
	Publisher ArtifactPublisher
	Logger    *slog.Logger
}

// Scheduler runs generation jobs one at a time against a shared residency manager.
type Scheduler struct {
	mu        sync.Mutex
	backend   Backend
	residency *residency.Manager
	writer    VideoWriter
	publisher ArtifactPublisher
	logger    *slog.Logger

	mkdirAll func(path string, perm os.FileMode) error
	loadImg  func(path string) (*image.RGBA, error)
	savePNG  func(path string, img image.Image) error
}

// NewScheduler wires the collaborators.
func NewScheduler(backend Backend, res *residency.Manager, opts Options) (*Scheduler, error) {
	if err := backend.validate(); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("generate: residency manager is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("generate: video writer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		backend:   backend,
		residency: res,
		writer:    opts.Writer,
		publisher: opts.Publisher,
		logger:    logger,
		mkdirAll:  os.MkdirAll,
		loadImg:   media.LoadImage,
		savePNG:   media.SavePNG,
	}, nil
}

// Run executes the job on the calling goroutine. It always emits exactly one
// terminal event and closes the event queue for writing before returning.
func (s *Scheduler) Run(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(ctx, req)
}

func (s *Scheduler) runLocked(ctx context.Context, req Request) (Result, error) {
	if req.Events == nil {
		req.Events = stream.NewQueue[Event](64)
	}
	if req.Control == nil {
		req.Control = stream.NewControl()
	}
	defer req.Events.CloseWrite()

	logger := s.logger.With("job", req.JobID)
	r := &run{s: s, req: req, logger: logger}
	res, err := r.execute(ctx)

	switch {
	case err == nil:
		r.emit(Event{Kind: EventDone, Section: res.Sections - 1, Percent: 100, Text: "Done"})
		logger.Info("generate: run finished", "sections", res.Sections, "latent_frames", res.LatentFrames, "artifact", res.LastArtifact)
	case errors.Is(err, ErrCancelled):
		s.release(logger)
		r.emit(Event{Kind: EventCancelled, Section: r.section, Text: "Cancelled"})
		logger.Info("generate: run cancelled", "section", r.section, "artifact", res.LastArtifact)
	default:
		s.release(logger)
		r.emit(Event{Kind: EventFailed, Section: r.section, Message: err.Error()})
		logger.Error("generate: run failed", "section", r.section, "error", err)
	}
	return res, err
}

func (s *Scheduler) release(logger *slog.Logger) {
	if err := s.residency.ReleaseAll(); err != nil {
		logger.Warn("generate: release models", "error", err)
	}
}

// run holds the state of one job.
type run struct {
	s       *Scheduler
	req     Request
	logger  *slog.Logger
	section int

	latents *history.Latents
	pixels  *history.Pixels
}

func (r *run) emit(ev Event) {
	if err := r.req.Events.Push(ev); err != nil {
		r.logger.Warn("generate: drop event", "kind", ev.Kind, "error", err)
	}
}

func (r *run) stage(status domain.JobStatus) {
	if r.req.OnStage != nil {
		r.req.OnStage(status)
	}
}

func (r *run) progress(text string) {
	r.emit(Event{Kind: EventProgress, Section: r.section, Text: text})
}

func (r *run) cancelled(ctx context.Context) bool {
	return r.req.Control.Cancelled() || ctx.Err() != nil
}

func (r *run) execute(ctx context.Context) (Result, error) {
	var res Result
	r.section = -1
	params := r.req.Params

	if err := params.Validate(); err != nil {
		return res, err
	}
	skip, err := stepskip.ForJob(params)
	if err != nil {
		return res, err
	}
	flow, err := flowshift.Lookup(params.FlowPreset)
	if err != nil {
		return res, &domain.ValidationError{Field: "flowPreset", Message: err.Error()}
	}
	sections, err := packer.Plan(params.DurationSeconds, params.WindowSize)
	if err != nil {
		return res, err
	}
	if r.cancelled(ctx) {
		return res, ErrCancelled
	}

	r.stage(domain.JobStatusStarting)
	r.progress("Starting ...")
	if err := r.s.mkdirAll(r.req.OutputDir, 0o755); err != nil {
		return res, stageErr(StageWriting, -1, fmt.Sprintf("cannot create output directory: %s", r.req.OutputDir), err)
	}

	positive, negative, err := r.encodeText(ctx)
	if err != nil {
		return res, err
	}
	if r.cancelled(ctx) {
		return res, ErrCancelled
	}

	startLatent, imageEmbed, err := r.encodeImage(ctx)
	if err != nil {
		return res, err
	}
	if r.cancelled(ctx) {
		return res, ErrCancelled
	}

	r.latents = history.NewLatents(startLatent.Width, startLatent.Height, startLatent.Channels)
	r.pixels = history.NewPixels()
	r.progress("Start sampling ...")

	for _, sec := range sections {
		r.section = sec.Index
		if r.cancelled(ctx) {
			return res, ErrCancelled
		}
		r.logger.Info("generate: section", "index", sec.Index, "padding", sec.Padding, "last", sec.IsLast)

		path, err := r.generateSection(ctx, sec, skip, flow, positive, negative, imageEmbed, startLatent)
		if err != nil {
			return res, err
		}

		res.Sections++
		res.LatentFrames = r.latents.Generated()
		res.PixelFrames = r.pixels.Len()
		res.Artifacts = append(res.Artifacts, path)
		res.LastArtifact = path
		r.emit(Event{Kind: EventFileReady, Section: sec.Index, Path: path})

		if sec.IsLast {
			break
		}
	}
	return res, nil
}

func (r *run) encodeText(ctx context.Context) (Conditioning, Conditioning, error) {
	params := r.req.Params
	r.stage(domain.JobStatusTextEncoding)
	r.progress("Text encoding ...")

	if err := r.s.residency.Configure(residency.StageTextEncode, 0); err != nil {
		return Conditioning{}, Conditioning{}, stageErr(StageTextEncoding, -1, "cannot place text encoders", err)
	}
	positive, err := r.s.backend.Text.EncodeText(ctx, params.Prompt)
	if err != nil {
		return Conditioning{}, Conditioning{}, stageErr(StageTextEncoding, -1, "prompt encoding failed", err)
	}

	var negative Conditioning
	if params.GuidanceScale == 1 {
		negative = positive.Zero()
	} else {
		negative, err = r.s.backend.Text.EncodeText(ctx, params.NegativePrompt)
		if err != nil {
			return Conditioning{}, Conditioning{}, stageErr(StageTextEncoding, -1, "negative prompt encoding failed", err)
		}
	}
	return positive.Fit(TextTokens), negative.Fit(TextTokens), nil
}

func (r *run) encodeImage(ctx context.Context) (media.Clip, media.Clip, error) {
	r.stage(domain.JobStatusImageEncoding)
	r.progress("Image processing ...")

	img := r.req.Image
	if img == nil {
		loaded, err := r.s.loadImg(r.req.Params.ImagePath)
		if err != nil {
			return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1, fmt.Sprintf("cannot load image: %s", r.req.Params.ImagePath), err)
		}
		img = loaded
	}
	inputPath := filepath.Join(r.req.OutputDir, r.req.JobID+".png")
	if err := r.s.savePNG(inputPath, img); err != nil {
		return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1, "cannot save input image", err)
	}

	r.progress("VAE encoding ...")
	if err := r.s.residency.Configure(residency.StageLatentEncode, 0); err != nil {
		return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1, "cannot place vae", err)
	}
	startLatent, err := r.s.backend.Latent.EncodeLatent(ctx, img)
	if err != nil {
		return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1, "latent encoding failed", err)
	}
	if startLatent.Len() != 1 {
		return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1,
			fmt.Sprintf("latent encoder returned %d frames, want 1", startLatent.Len()), nil)
	}

	r.progress("Vision encoding ...")
	if err := r.s.residency.Configure(residency.StageImageEncode, 0); err != nil {
		return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1, "cannot place image encoder", err)
	}
	embed, err := r.s.backend.Image.EncodeImage(ctx, img)
	if err != nil {
		return media.Clip{}, media.Clip{}, stageErr(StageImageEncoding, -1, "image encoding failed", err)
	}
	return startLatent, embed, nil
}

func (r *run) generateSection(
	ctx context.Context,
	sec packer.Section,
	skip stepskip.Config,
	flow flowshift.Preset,
	positive, negative Conditioning,
	imageEmbed, startLatent media.Clip,
) (string, error) {
	params := r.req.Params
	window := params.WindowSize

	post, double, quad := r.latents.Context()
	sc := SampleContext{
		Positive: positive,
		Negative: negative,
		Image:    imageEmbed,
		Pre:      startLatent,
		Post:     post,
		Double:   double,
		Quad:     quad,
	}
	cfg := SamplerConfig{
		Seed:                   params.Seed,
		Steps:                  params.Steps,
		Width:                  startLatent.Width,
		Height:                 startLatent.Height,
		Frames:                 packer.FramesPerSection(window),
		LatentFrames:           window,
		GuidanceScale:          params.GuidanceScale,
		DistilledGuidanceScale: params.DistilledGuidanceScale,
		GuidanceRescale:        params.GuidanceRescale,
		Sigmas:                 flowshift.Schedule(params.Steps, flowshift.SequenceLength(startLatent.Width, startLatent.Height, window), flow),
		StepSkip:               skip,
		Indices:                packer.Indices(sec.PaddingSize, window),
	}

	r.stage(domain.JobStatusSampling)
	if err := r.s.residency.Configure(residency.StageSample, params.MemoryBudgetBytes); err != nil {
		return "", stageErr(StageSampling, sec.Index, "cannot place sampler", err)
	}

	chunk, err := r.s.backend.Sampler.Sample(ctx, cfg, sc, r.onStep(ctx, sec))
	if err != nil {
		if errors.Is(err, ErrAborted) || r.cancelled(ctx) {
			return "", ErrCancelled
		}
		return "", stageErr(StageSampling, sec.Index, "sampler failed", err)
	}
	if chunk.Len() != window {
		return "", stageErr(StageSampling, sec.Index, fmt.Sprintf("sampler returned %d latent frames, want %d", chunk.Len(), window), nil)
	}

	if sec.IsLast {
		chunk, err = startLatent.Concat(chunk)
		if err != nil {
			return "", stageErr(StageAssembling, sec.Index, "cannot anchor start latent", err)
		}
	}
	if err := r.latents.Prepend(chunk); err != nil {
		return "", stageErr(StageAssembling, sec.Index, "cannot extend latent history", err)
	}

	if err := r.decode(ctx, sec); err != nil {
		return "", err
	}

	path := filepath.Join(r.req.OutputDir, fmt.Sprintf("%s_%d.mp4", r.req.JobID, r.latents.Generated()))
	if err := r.s.writer.WriteVideo(ctx, r.pixels.Clip(), path, packer.FrameRate, params.OutputQuality); err != nil {
		return "", stageErr(StageWriting, sec.Index, "video write failed", err)
	}
	if r.s.publisher != nil {
		location, err := r.s.publisher.Publish(ctx, path)
		if err != nil {
			r.logger.Warn("generate: publish artifact", "path", path, "error", err)
		} else {
			r.logger.Info("generate: artifact published", "path", path, "location", location)
		}
	}
	return path, nil
}

func (r *run) decode(ctx context.Context, sec packer.Section) error {
	window := r.req.Params.WindowSize

	r.stage(domain.JobStatusDecoding)
	if err := r.s.residency.Configure(residency.StageDecode, residency.DecodePreservedBytes); err != nil {
		return stageErr(StageDecoding, sec.Index, "cannot place decoder", err)
	}

	if r.pixels.Empty() {
		decoded, err := r.s.backend.Decoder.DecodeLatents(ctx, r.latents.Valid())
		if err != nil {
			return stageErr(StageDecoding, sec.Index, "decode failed", err)
		}
		r.pixels.Reset(decoded)
	} else {
		sectionFrames := packer.SectionDecodeFrames(window, sec.IsLast)
		decoded, err := r.s.backend.Decoder.DecodeLatents(ctx, r.latents.Newest(sectionFrames))
		if err != nil {
			return stageErr(StageDecoding, sec.Index, "decode failed", err)
		}
		if err := r.pixels.Prepend(decoded, packer.OverlapFrames(window)); err != nil {
			return stageErr(StageAssembling, sec.Index, "blend failed", err)
		}
	}

	if err := r.pixels.Check(r.latents.Generated()); err != nil {
		return stageErr(StageAssembling, sec.Index, "decoded frame count mismatch", err)
	}
	return nil
}

// onStep builds the per-iteration callback: preview, progress and the abort check.
func (r *run) onStep(ctx context.Context, sec packer.Section) StepFunc {
	return func(info StepInfo) StepDecision {
		if r.cancelled(ctx) {
			return Abort
		}

		current := info.Step + 1
		steps := info.Steps
		if steps < 1 {
			steps = 1
		}
		total := r.latents.Generated()
		frames := max(0, total*4-3)
		r.emit(Event{
			Kind:    EventProgress,
			Section: sec.Index,
			Percent: int(100 * float64(current) / float64(steps)),
			Text:    fmt.Sprintf("Sampling %d/%d", current, steps),
			Description: fmt.Sprintf("Total generated frames: %d, Video length: %.2f seconds (FPS-%d). The video is being extended now ...",
				frames, math.Max(0, float64(frames)/packer.FrameRate), packer.FrameRate),
			Preview: media.PreviewFromLatents(info.Denoised),
		})

		if r.cancelled(ctx) {
			return Abort
		}
		return Continue
	}
}
