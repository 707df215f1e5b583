// Package packer computes how a requested clip length is split into sampling
// sections and how each section's context window is indexed.
package packer

import (
	"fmt"
	"math"

	"video-extender/internal/domain"
)

const (
	// FrameRate is the fixed output frame rate.
	FrameRate = 30

	// DefaultWindowSize is the number of latent frames generated per section.
	DefaultWindowSize = 9

	// Context slot widths, in latent frames.
	PreFrames    = 1
	PostFrames   = 1
	DoubleFrames = 2
	QuadFrames   = 16

	// HistoryContextFrames is how many of the newest history frames feed one section.
	HistoryContextFrames = PostFrames + DoubleFrames + QuadFrames
)

// Section is one sampling pass.
type Section struct {
	Index       int  `json:"index"`
	Padding     int  `json:"padding"`
	PaddingSize int  `json:"paddingSize"`
	IsLast      bool `json:"isLast"`
}

// Partition is the index layout of one section's context window.
type Partition struct {
	Pre    []int
	Blank  []int
	Latent []int
	Post   []int
	Double []int
	Quad   []int
}

// CleanIndices returns the pre and post slots joined in that order.
func (p Partition) CleanIndices() []int {
	out := make([]int, 0, len(p.Pre)+len(p.Post))
	out = append(out, p.Pre...)
	return append(out, p.Post...)
}

// Len is the total number of indices in the window.
func (p Partition) Len() int {
	return len(p.Pre) + len(p.Blank) + len(p.Latent) + len(p.Post) + len(p.Double) + len(p.Quad)
}

// SectionCount returns max(round(duration*30/(windowSize*4)), 1). Halves
// round to even.
func SectionCount(durationSeconds float64, windowSize int) int {
	if windowSize <= 0 {
		return 1
	}
	n := int(math.RoundToEven(durationSeconds * FrameRate / float64(windowSize*4)))
	if n < 1 {
		return 1
	}
	return n
}

// PaddingSchedule returns the padding value of each section in generation order.
//
// Up to four sections count down linearly to zero. Longer clips repeat the
// middle padding instead: [3, 2, ..., 2, 1, 0].
func PaddingSchedule(sectionCount int) []int {
	if sectionCount < 1 {
		sectionCount = 1
	}
	if sectionCount > 4 {
		out := make([]int, 0, sectionCount)
		out = append(out, 3)
		for i := 0; i < sectionCount-3; i++ {
			out = append(out, 2)
		}
		return append(out, 1, 0)
	}

	out := make([]int, sectionCount)
	for i := range out {
		out[i] = sectionCount - 1 - i
	}
	return out
}

// Plan validates the inputs and returns the ordered sections for a job.
func Plan(durationSeconds float64, windowSize int) ([]Section, error) {
	if math.IsNaN(durationSeconds) || durationSeconds <= 0 {
		return nil, &domain.ValidationError{Field: "durationSeconds", Message: "must be greater than zero"}
	}
	if windowSize < domain.MinWindowSize || windowSize > domain.MaxWindowSize {
		return nil, &domain.ValidationError{
			Field:   "windowSize",
			Message: fmt.Sprintf("must be within [%d, %d], got %d", domain.MinWindowSize, domain.MaxWindowSize, windowSize),
		}
	}

	schedule := PaddingSchedule(SectionCount(durationSeconds, windowSize))
	sections := make([]Section, len(schedule))
	for i, padding := range schedule {
		sections[i] = Section{
			Index:       i,
			Padding:     padding,
			PaddingSize: padding * windowSize,
			IsLast:      padding == 0,
		}
	}
	return sections, nil
}

// Indices splits 0..N-1 into the fixed slots of a section window, where N is
// 1 + paddingSize + windowSize + 1 + 2 + 16.
func Indices(paddingSize, windowSize int) Partition {
	widths := []int{PreFrames, paddingSize, windowSize, PostFrames, DoubleFrames, QuadFrames}
	parts := make([][]int, len(widths))
	next := 0
	for i, w := range widths {
		part := make([]int, w)
		for j := range part {
			part[j] = next
			next++
		}
		parts[i] = part
	}
	return Partition{
		Pre:    parts[0],
		Blank:  parts[1],
		Latent: parts[2],
		Post:   parts[3],
		Double: parts[4],
		Quad:   parts[5],
	}
}

// FramesPerSection is the pixel frame count requested from the sampler per section.
func FramesPerSection(windowSize int) int {
	return windowSize*4 - 3
}

// SectionDecodeFrames is how many of the newest latent frames are decoded
// after the first section.
func SectionDecodeFrames(windowSize int, isLast bool) int {
	if isLast {
		return windowSize*2 + 1
	}
	return windowSize * 2
}

// OverlapFrames is the pixel overlap blended between consecutive sections.
func OverlapFrames(windowSize int) int {
	return windowSize*4 - 3
}
