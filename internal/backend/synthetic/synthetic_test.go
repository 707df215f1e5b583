package synthetic

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"video-extender/internal/generate"
	"video-extender/internal/history"
	"video-extender/internal/media"
	"video-extender/internal/stepskip"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 8), G: 128, B: uint8(y * 16), A: 255})
		}
	}
	return img
}

func sampleConfig(b *Backend, t *testing.T) (generate.SamplerConfig, generate.SampleContext) {
	t.Helper()
	latent, err := b.EncodeLatent(context.Background(), testImage())
	if err != nil {
		t.Fatalf("EncodeLatent: %v", err)
	}
	cfg := generate.SamplerConfig{
		Seed:         7,
		Steps:        6,
		Width:        latent.Width,
		Height:       latent.Height,
		Frames:       33,
		LatentFrames: 9,
	}
	return cfg, generate.SampleContext{Pre: latent}
}

// TestEncodeLatentShape checks the downscale and channel count.
func TestEncodeLatentShape(t *testing.T) {
	b := New()
	latent, err := b.EncodeLatent(context.Background(), testImage())
	if err != nil {
		t.Fatalf("EncodeLatent: %v", err)
	}
	if latent.Width != 4 || latent.Height != 2 || latent.Channels != LatentChannels || latent.Len() != 1 {
		t.Fatalf("latent shape = %dx%dx%d x%d", latent.Width, latent.Height, latent.Channels, latent.Len())
	}
}

// TestEncodeTextDeterministic checks the same prompt gives the same vectors.
func TestEncodeTextDeterministic(t *testing.T) {
	b := New()
	a, _ := b.EncodeText(context.Background(), "a person dances")
	c, _ := b.EncodeText(context.Background(), "A person dances")
	if len(a.Vectors) != 3 || len(a.Mask) != 3 {
		t.Fatalf("tokens = %d", len(a.Vectors))
	}
	for i := range a.Vectors {
		for j := range a.Vectors[i] {
			if a.Vectors[i][j] != c.Vectors[i][j] {
				t.Fatal("encoding should be deterministic and case-insensitive")
			}
		}
	}
}

// TestSampleDeterministicAndSized checks the frame count and seed stability.
func TestSampleDeterministicAndSized(t *testing.T) {
	b := New()
	cfg, sc := sampleConfig(b, t)
	steps := 0
	onStep := func(info generate.StepInfo) generate.StepDecision {
		steps++
		return generate.Continue
	}

	first, err := b.Sample(context.Background(), cfg, sc, onStep)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	second, err := b.Sample(context.Background(), cfg, sc, onStep)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if first.Len() != 9 || steps != 12 {
		t.Fatalf("frames=%d steps=%d", first.Len(), steps)
	}
	for i := range first.Frames[0] {
		if first.Frames[0][i] != second.Frames[0][i] {
			t.Fatal("same seed should give same output")
		}
	}
}

// TestSampleAbort checks the sampler stops on Abort.
func TestSampleAbort(t *testing.T) {
	b := New()
	cfg, sc := sampleConfig(b, t)
	calls := 0
	_, err := b.Sample(context.Background(), cfg, sc, func(generate.StepInfo) generate.StepDecision {
		calls++
		if calls == 2 {
			return generate.Abort
		}
		return generate.Continue
	})
	if !errors.Is(err, generate.ErrAborted) {
		t.Fatalf("Sample = %v, want ErrAborted", err)
	}
	if calls != 2 {
		t.Fatalf("callback calls = %d, want 2", calls)
	}
}

// TestSampleStepSkipReportsSkips checks skipped steps are flagged but still reported.
func TestSampleStepSkipReportsSkips(t *testing.T) {
	b := New()
	cfg, sc := sampleConfig(b, t)
	cfg.Steps = 20
	cfg.StepSkip = stepskip.Config{Enabled: true, Threshold: stepskip.ThresholdQuality, Steps: 20}

	calls, skipped := 0, 0
	out, err := b.Sample(context.Background(), cfg, sc, func(info generate.StepInfo) generate.StepDecision {
		calls++
		if info.Skipped {
			skipped++
		}
		return generate.Continue
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if calls != 20 || skipped == 0 || out.Len() != 9 {
		t.Fatalf("calls=%d skipped=%d frames=%d", calls, skipped, out.Len())
	}
}

// TestDecodeExpansion checks (n-1)*4+1 pixel frames at scaled size.
func TestDecodeExpansion(t *testing.T) {
	b := &Backend{Scale: 2}
	latents := media.NewClip(3, 2, LatentChannels, 10)
	out, err := b.DecodeLatents(context.Background(), latents)
	if err != nil {
		t.Fatalf("DecodeLatents: %v", err)
	}
	if out.Len() != history.PixelFrames(10) || out.Width != 6 || out.Height != 4 || out.Channels != 3 {
		t.Fatalf("decoded shape = %dx%dx%d x%d", out.Width, out.Height, out.Channels, out.Len())
	}
	if _, err := b.DecodeLatents(context.Background(), media.Clip{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}
