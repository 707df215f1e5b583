// Package media holds the frame containers passed between the scheduler and
// its encode, sample and decode collaborators.
package media

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two clips cannot be combined.
var ErrShapeMismatch = errors.New("media: shape mismatch")

// Frame is one latent or pixel frame stored channel-major (C x H x W).
type Frame []float32

// Clip is a chronological run of frames that share one shape.
type Clip struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Channels int     `json:"channels"`
	Frames   []Frame `json:"-"`
}

// NewClip allocates n zero frames of the given shape.
func NewClip(width, height, channels, n int) Clip {
	c := Clip{Width: width, Height: height, Channels: channels, Frames: make([]Frame, n)}
	for i := range c.Frames {
		c.Frames[i] = make(Frame, c.FrameSize())
	}
	return c
}

// FrameSize is the number of values in one frame.
func (c Clip) FrameSize() int {
	return c.Width * c.Height * c.Channels
}

// Len is the number of frames.
func (c Clip) Len() int {
	return len(c.Frames)
}

// SameShape reports whether o has the same per-frame shape as c.
func (c Clip) SameShape(o Clip) bool {
	return c.Width == o.Width && c.Height == o.Height && c.Channels == o.Channels
}

// Slice returns frames [from, to) sharing storage with c.
func (c Clip) Slice(from, to int) Clip {
	out := c
	out.Frames = c.Frames[from:to]
	return out
}

// Concat returns c followed by the frames of others in order.
func (c Clip) Concat(others ...Clip) (Clip, error) {
	total := len(c.Frames)
	for _, o := range others {
		if o.Len() > 0 && c.Len() > 0 && !c.SameShape(o) {
			return Clip{}, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d",
				ErrShapeMismatch, c.Channels, c.Height, c.Width, o.Channels, o.Height, o.Width)
		}
		total += o.Len()
	}

	out := c
	if c.Len() == 0 {
		for _, o := range others {
			if o.Len() > 0 {
				out.Width, out.Height, out.Channels = o.Width, o.Height, o.Channels
				break
			}
		}
	}
	out.Frames = make([]Frame, 0, total)
	out.Frames = append(out.Frames, c.Frames...)
	for _, o := range others {
		out.Frames = append(out.Frames, o.Frames...)
	}
	return out, nil
}

// Clone deep-copies the frame data.
func (c Clip) Clone() Clip {
	out := c
	out.Frames = make([]Frame, len(c.Frames))
	for i, f := range c.Frames {
		out.Frames[i] = append(Frame(nil), f...)
	}
	return out
}
