// Package synthetic is a deterministic, model-free backend. It honours every
// collaborator contract of the scheduler (frame counts, abort, step-skip) so
// the whole pipeline can run end to end without model weights.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"math"
	"math/rand/v2"
	"strings"

	"video-extender/internal/generate"
	"video-extender/internal/history"
	"video-extender/internal/media"
	"video-extender/internal/stepskip"
)

const (
	// LatentChannels is the channel count of every latent frame.
	LatentChannels = 16

	// DefaultScale is the spatial factor between pixels and latents.
	DefaultScale = 8

	textWidth = 32
)

// Backend bundles all synthetic collaborators.
type Backend struct {
	Scale int
}

// New returns a backend with the default latent scale.
func New() *Backend {
	return &Backend{Scale: DefaultScale}
}

// Collaborators exposes the backend through the scheduler's interfaces.
func (b *Backend) Collaborators() generate.Backend {
	return generate.Backend{Text: b, Image: b, Latent: b, Sampler: b, Decoder: b}
}

func (b *Backend) scale() int {
	if b.Scale < 1 {
		return DefaultScale
	}
	return b.Scale
}

// EncodeText hashes each word of the prompt into a vector.
func (b *Backend) EncodeText(ctx context.Context, prompt string) (generate.Conditioning, error) {
	if err := ctx.Err(); err != nil {
		return generate.Conditioning{}, err
	}
	words := strings.Fields(prompt)
	out := generate.Conditioning{Pooled: make([]float32, textWidth)}
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(strings.ToLower(w)))
		rng := rand.New(rand.NewPCG(h.Sum64(), 0))
		vec := make([]float32, textWidth)
		for i := range vec {
			vec[i] = float32(rng.NormFloat64())
			out.Pooled[i] += vec[i] / float32(len(words))
		}
		out.Vectors = append(out.Vectors, vec)
		out.Mask = append(out.Mask, true)
	}
	return out, nil
}

// EncodeImage summarises the image as one frame of channel means.
func (b *Backend) EncodeImage(ctx context.Context, img image.Image) (media.Clip, error) {
	if err := ctx.Err(); err != nil {
		return media.Clip{}, err
	}
	var sum [3]float64
	bounds := img.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return media.Clip{}, fmt.Errorf("synthetic: empty image")
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum[0] += float64(r) / 0xffff
			sum[1] += float64(g) / 0xffff
			sum[2] += float64(bl) / 0xffff
		}
	}
	clip := media.NewClip(1, 1, 3, 1)
	for c := range sum {
		clip.Frames[0][c] = float32(sum[c]/n*2 - 1)
	}
	return clip, nil
}

// EncodeLatent block-averages the image down by the scale factor into one
// latent frame. The three colour planes are repeated across the channels.
func (b *Backend) EncodeLatent(ctx context.Context, img image.Image) (media.Clip, error) {
	if err := ctx.Err(); err != nil {
		return media.Clip{}, err
	}
	bounds := img.Bounds()
	s := b.scale()
	w, h := max(1, bounds.Dx()/s), max(1, bounds.Dy()/s)
	clip := media.NewClip(w, h, LatentChannels, 1)
	plane := w * h
	frame := clip.Frames[0]

	for ly := 0; ly < h; ly++ {
		for lx := 0; lx < w; lx++ {
			var sum [3]float64
			count := 0
			for y := ly * s; y < min((ly+1)*s, bounds.Dy()); y++ {
				for x := lx * s; x < min((lx+1)*s, bounds.Dx()); x++ {
					r, g, bl, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
					sum[0] += float64(r) / 0xffff
					sum[1] += float64(g) / 0xffff
					sum[2] += float64(bl) / 0xffff
					count++
				}
			}
			if count == 0 {
				continue
			}
			for ch := 0; ch < LatentChannels; ch++ {
				frame[ch*plane+ly*w+lx] = float32(sum[ch%3]/float64(count)*2 - 1)
			}
		}
	}
	return clip, nil
}

// Sample walks the sigma schedule from seeded noise towards the clean
// context, producing cfg.LatentFrames frames. Steps the step-skip cache
// rejects reuse the previous update.
func (b *Backend) Sample(ctx context.Context, cfg generate.SamplerConfig, sc generate.SampleContext, onStep generate.StepFunc) (media.Clip, error) {
	if cfg.LatentFrames < 1 || cfg.Steps < 1 {
		return media.Clip{}, fmt.Errorf("synthetic: invalid sampler config: %d frames, %d steps", cfg.LatentFrames, cfg.Steps)
	}
	if sc.Pre.Len() == 0 {
		return media.Clip{}, fmt.Errorf("synthetic: missing start latent")
	}
	anchor := sc.Pre.Frames[0]
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(len(cfg.Indices.Blank))))

	x := media.NewClip(cfg.Width, cfg.Height, sc.Pre.Channels, cfg.LatentFrames)
	for _, f := range x.Frames {
		for i := range f {
			f[i] = float32(rng.NormFloat64())
		}
	}

	sigmas := cfg.Sigmas
	if len(sigmas) != cfg.Steps+1 {
		sigmas = linearSigmas(cfg.Steps)
	}
	cache := stepskip.NewCache(cfg.StepSkip)
	var lastDelta []float32

	for step := 0; step < cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return media.Clip{}, err
		}
		from, to := sigmas[step], sigmas[step+1]
		compute := cache.ShouldCompute(step, []float32{float32(from), float32(from - to)})

		if compute || lastDelta == nil {
			lastDelta = make([]float32, len(anchor))
			for i := range anchor {
				lastDelta[i] = float32(from-to) * (anchor[i] - meanAt(x, i))
			}
		}
		for t, f := range x.Frames {
			drift := float32(math.Sin(float64(t)*0.3+float64(step)*0.1)) * 0.01
			for i := range f {
				f[i] += lastDelta[i] + drift
			}
		}

		if onStep(generate.StepInfo{Step: step, Steps: cfg.Steps, Denoised: x, Skipped: !compute}) == generate.Abort {
			return media.Clip{}, generate.ErrAborted
		}
	}
	return x, nil
}

// DecodeLatents expands n latents to (n-1)*4+1 frames by interpolating
// between neighbours and upscaling each latent pixel.
func (b *Backend) DecodeLatents(ctx context.Context, latents media.Clip) (media.Clip, error) {
	if err := ctx.Err(); err != nil {
		return media.Clip{}, err
	}
	n := latents.Len()
	if n == 0 {
		return media.Clip{}, fmt.Errorf("synthetic: nothing to decode")
	}
	s := b.scale()
	out := media.NewClip(latents.Width*s, latents.Height*s, 3, history.PixelFrames(n))

	for i := range out.Frames {
		src := i / 4
		frac := float32(i%4) / 4
		a := latents.Frames[src]
		bf := a
		if src+1 < n {
			bf = latents.Frames[src+1]
		}
		upscale(out.Frames[i], a, bf, frac, latents.Width, latents.Height, latents.Channels, s)
	}
	return out, nil
}

func upscale(dst, a, b media.Frame, frac float32, w, h, channels, s int) {
	plane := w * h
	outW := w * s
	outPlane := outW * h * s
	for c := 0; c < 3; c++ {
		src := c % channels
		for y := 0; y < h*s; y++ {
			for x := 0; x < outW; x++ {
				i := src*plane + (y/s)*w + x/s
				v := (1-frac)*a[i] + frac*b[i]
				dst[c*outPlane+y*outW+x] = float32(math.Tanh(float64(v)))
			}
		}
	}
}

func meanAt(c media.Clip, i int) float32 {
	var sum float32
	for _, f := range c.Frames {
		sum += f[i]
	}
	return sum / float32(c.Len())
}

func linearSigmas(steps int) []float64 {
	out := make([]float64, steps+1)
	for i := range out {
		out[i] = 1 - float64(i)/float64(steps)
	}
	return out
}
