package generate

import (
	"context"
	"errors"
	"image"

	"video-extender/internal/media"
	"video-extender/internal/packer"
	"video-extender/internal/stepskip"
)

// ErrAborted is returned by a Sampler when the step callback asked it to stop.
var ErrAborted = errors.New("generate: sampling aborted by callback")

// TextTokens is the fixed length text conditioning is cropped or padded to.
const TextTokens = 512

// Conditioning is one encoded prompt: per-token vectors, a pooled vector and
// a validity mask.
type Conditioning struct {
	Vectors [][]float32
	Pooled  []float32
	Mask    []bool
}

// Zero returns a conditioning of the same shape with every value zeroed.
func (c Conditioning) Zero() Conditioning {
	out := Conditioning{
		Vectors: make([][]float32, len(c.Vectors)),
		Pooled:  make([]float32, len(c.Pooled)),
		Mask:    make([]bool, len(c.Mask)),
	}
	for i, v := range c.Vectors {
		out.Vectors[i] = make([]float32, len(v))
	}
	return out
}

// Fit crops or zero-pads the token axis to n and rebuilds the mask.
func (c Conditioning) Fit(n int) Conditioning {
	width := 0
	if len(c.Vectors) > 0 {
		width = len(c.Vectors[0])
	}
	out := Conditioning{
		Vectors: make([][]float32, n),
		Pooled:  c.Pooled,
		Mask:    make([]bool, n),
	}
	for i := 0; i < n; i++ {
		if i < len(c.Vectors) {
			out.Vectors[i] = c.Vectors[i]
			out.Mask[i] = i >= len(c.Mask) || c.Mask[i]
			continue
		}
		out.Vectors[i] = make([]float32, width)
	}
	return out
}

// TextEncoder turns a prompt into conditioning vectors.
type TextEncoder interface {
	EncodeText(ctx context.Context, prompt string) (Conditioning, error)
}

// ImageEncoder embeds the conditioning image for the sampler.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img image.Image) (media.Clip, error)
}

// LatentEncoder maps the conditioning image to a single latent frame.
type LatentEncoder interface {
	EncodeLatent(ctx context.Context, img image.Image) (media.Clip, error)
}

// LatentDecoder expands n latent frames into (n-1)*4+1 pixel frames.
type LatentDecoder interface {
	DecodeLatents(ctx context.Context, latents media.Clip) (media.Clip, error)
}

// VideoWriter encodes a pixel clip into a container file.
type VideoWriter interface {
	WriteVideo(ctx context.Context, clip media.Clip, path string, frameRate, quality int) error
}

// ArtifactPublisher mirrors a finished file somewhere durable and returns its location.
type ArtifactPublisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// SamplerConfig is everything fixed for one sampling call.
type SamplerConfig struct {
	Seed                   int64
	Steps                  int
	Width                  int
	Height                 int
	Frames                 int // pixel frames requested; the sampler returns the latent equivalent
	LatentFrames           int
	GuidanceScale          float64
	DistilledGuidanceScale float64
	GuidanceRescale        float64
	Sigmas                 []float64
	StepSkip               stepskip.Config
	Indices                packer.Partition
}

// SampleContext carries the conditioning and the clean latent context.
type SampleContext struct {
	Positive Conditioning
	Negative Conditioning
	Image    media.Clip
	Pre      media.Clip
	Post     media.Clip
	Double   media.Clip
	Quad     media.Clip
}

// StepInfo describes one finished sampler iteration.
type StepInfo struct {
	Step     int // 0-based
	Steps    int
	Denoised media.Clip
	Skipped  bool
}

// StepDecision is returned by the step callback.
type StepDecision int

const (
	Continue StepDecision = iota
	Abort
)

// StepFunc is invoked after every sampler iteration.
type StepFunc func(StepInfo) StepDecision

// Sampler runs the iterative denoiser for one section. It must stop and
// return ErrAborted as soon as the callback answers Abort.
type Sampler interface {
	Sample(ctx context.Context, cfg SamplerConfig, sc SampleContext, onStep StepFunc) (media.Clip, error)
}

// Backend groups the model-backed collaborators.
type Backend struct {
	Text    TextEncoder
	Image   ImageEncoder
	Latent  LatentEncoder
	Sampler Sampler
	Decoder LatentDecoder
}

func (b Backend) validate() error {
	switch {
	case b.Text == nil:
		return errors.New("generate: text encoder is required")
	case b.Image == nil:
		return errors.New("generate: image encoder is required")
	case b.Latent == nil:
		return errors.New("generate: latent encoder is required")
	case b.Sampler == nil:
		return errors.New("generate: sampler is required")
	case b.Decoder == nil:
		return errors.New("generate: latent decoder is required")
	}
	return nil
}
