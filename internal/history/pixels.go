package history

import (
	"errors"
	"fmt"

	"video-extender/internal/blend"
	"video-extender/internal/media"
)

// ErrFrameCount is returned when the pixel buffer does not match the latent
// buffer under the decoder's expansion rule.
var ErrFrameCount = errors.New("history: pixel frame count mismatch")

// PixelFrames is how many pixel frames the decoder yields for n latent frames:
// the first latent expands to one frame and each further latent to four.
func PixelFrames(latents int) int {
	if latents <= 0 {
		return 0
	}
	return (latents-1)*4 + 1
}

// Pixels accumulates decoded video, earliest frame first.
type Pixels struct {
	clip  media.Clip
	ready bool
}

// NewPixels returns an empty accumulator.
func NewPixels() *Pixels {
	return &Pixels{}
}

// Empty reports whether nothing has been decoded yet.
func (p *Pixels) Empty() bool {
	return !p.ready
}

// Clip returns the assembled video.
func (p *Pixels) Clip() media.Clip {
	return p.clip
}

// Len is the number of assembled frames.
func (p *Pixels) Len() int {
	return p.clip.Len()
}

// Reset replaces the buffer with a full decode.
func (p *Pixels) Reset(decoded media.Clip) {
	p.clip = decoded
	p.ready = true
}

// Prepend blends a newly decoded chunk, which plays before the current
// content, onto the front of the buffer.
func (p *Pixels) Prepend(decoded media.Clip, overlap int) error {
	if !p.ready {
		p.Reset(decoded)
		return nil
	}
	merged, err := blend.Blend(decoded, p.clip, overlap)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	p.clip = merged
	return nil
}

// Check verifies the pixel length against the generated latent count.
func (p *Pixels) Check(generatedLatents int) error {
	if want := PixelFrames(generatedLatents); p.clip.Len() != want {
		return fmt.Errorf("%w: have %d frames for %d latents, want %d",
			ErrFrameCount, p.clip.Len(), generatedLatents, want)
	}
	return nil
}
