// Package history owns the growing latent and pixel buffers of one job.
//
// Latents are kept newest-first: index 0 is the most recently generated
// frame group and the tail holds the oldest. Because sections are generated
// from the end of the clip towards its start, "newest" also means
// "earliest in playback".
package history

import (
	"errors"
	"fmt"

	"video-extender/internal/media"
	"video-extender/internal/packer"
)

// ErrShrink is returned when an update would lower the generated frame count.
var ErrShrink = errors.New("history: generated frame count cannot decrease")

// Latents is a newest-first deque of latent frames.
type Latents struct {
	clip      media.Clip
	generated int
}

// NewLatents seeds the deque with zero frames covering one context window so
// the first section has post/double/quad context to read.
func NewLatents(width, height, channels int) *Latents {
	return &Latents{clip: media.NewClip(width, height, channels, packer.HistoryContextFrames)}
}

// Generated is the cumulative number of frames produced by sampling.
func (l *Latents) Generated() int {
	return l.generated
}

// Len is the number of stored frames, including the zero seed.
func (l *Latents) Len() int {
	return l.clip.Len()
}

// Prepend puts chunk at the head. chunk is in playback order and stays so.
func (l *Latents) Prepend(chunk media.Clip) error {
	if chunk.Len() == 0 {
		return nil
	}
	if !chunk.SameShape(l.clip) {
		return fmt.Errorf("history: prepend: %w", media.ErrShapeMismatch)
	}
	next := l.generated + chunk.Len()
	if next < l.generated {
		return ErrShrink
	}

	merged, err := chunk.Concat(l.clip)
	if err != nil {
		return err
	}
	l.clip = merged
	l.generated = next
	return nil
}

// Context returns the newest 1+2+16 frames split into post, double and quad slots.
func (l *Latents) Context() (post, double, quad media.Clip) {
	window := l.clip.Slice(0, packer.HistoryContextFrames)
	post = window.Slice(0, packer.PostFrames)
	double = window.Slice(packer.PostFrames, packer.PostFrames+packer.DoubleFrames)
	quad = window.Slice(packer.PostFrames+packer.DoubleFrames, packer.HistoryContextFrames)
	return post, double, quad
}

// Valid returns the generated prefix (no zero seed).
func (l *Latents) Valid() media.Clip {
	return l.clip.Slice(0, l.generated)
}

// Newest returns the n most recent generated frames, clamped to Generated.
func (l *Latents) Newest(n int) media.Clip {
	if n > l.generated {
		n = l.generated
	}
	if n < 0 {
		n = 0
	}
	return l.clip.Slice(0, n)
}
