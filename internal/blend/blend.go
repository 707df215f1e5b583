// Package blend merges chronologically adjacent pixel chunks.
package blend

import (
	"fmt"

	"video-extender/internal/media"
)

// Ramp returns n weights rising monotonically from 0 to 1 along a smoothstep
// curve. A single weight is 0 so the earlier chunk wins.
func Ramp(n int) []float32 {
	if n <= 0 {
		return nil
	}
	w := make([]float32, n)
	if n == 1 {
		return w
	}
	for i := range w {
		t := float64(i) / float64(n-1)
		w[i] = float32(t * t * (3 - 2*t))
	}
	return w
}

// Blend joins earlier (T2 frames, earlier in playback) in front of later
// (T1 frames). The last overlap frames of earlier and the first overlap
// frames of later are cross-faded, later's weight rising from 0 to 1.
// overlap is clamped to [0, min(T1, T2)].
func Blend(earlier, later media.Clip, overlap int) (media.Clip, error) {
	if earlier.Len() > 0 && later.Len() > 0 && !earlier.SameShape(later) {
		return media.Clip{}, fmt.Errorf("blend: %w", media.ErrShapeMismatch)
	}

	overlap = clamp(overlap, earlier.Len(), later.Len())
	if overlap == 0 {
		return earlier.Concat(later)
	}

	head := earlier.Slice(0, earlier.Len()-overlap)
	tail := later.Slice(overlap, later.Len())

	weights := Ramp(overlap)
	mixed := earlier.Slice(0, 0)
	mixed.Frames = make([]media.Frame, overlap)
	base := earlier.Len() - overlap
	for i := 0; i < overlap; i++ {
		a := earlier.Frames[base+i]
		b := later.Frames[i]
		out := make(media.Frame, len(a))
		alpha := weights[i]
		for j := range out {
			out[j] = (1-alpha)*a[j] + alpha*b[j]
		}
		mixed.Frames[i] = out
	}

	return head.Concat(mixed, tail)
}

func clamp(overlap, a, b int) int {
	if overlap < 0 {
		return 0
	}
	if overlap > a {
		overlap = a
	}
	if overlap > b {
		overlap = b
	}
	return overlap
}
