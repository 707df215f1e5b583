package packer

import (
	"errors"
	"slices"
	"testing"

	"video-extender/internal/domain"
)

// TestSectionCountFiveSeconds checks round(5*30/36) == 4.
func TestSectionCountFiveSeconds(t *testing.T) {
	if got := SectionCount(5.0, 9); got != 4 {
		t.Fatalf("SectionCount(5, 9) = %d, want 4", got)
	}
}

// TestSectionCountFloorsAtOne verifies very short clips still get a section.
func TestSectionCountFloorsAtOne(t *testing.T) {
	for _, d := range []float64{0.1, 0.5, 1.0} {
		if got := SectionCount(d, 9); got != 1 {
			t.Fatalf("SectionCount(%v, 9) = %d, want 1", d, got)
		}
	}
}

// TestSectionCountRoundsHalfToEven checks 3s/window 9 (2.5 sections) gives 2.
func TestSectionCountRoundsHalfToEven(t *testing.T) {
	if got := SectionCount(3.0, 9); got != 2 {
		t.Fatalf("SectionCount(3, 9) = %d, want 2", got)
	}
	if got := SectionCount(5.0, 5); got != 8 {
		t.Fatalf("SectionCount(5, 5) = %d, want 8", got)
	}
}

// TestPaddingScheduleShort verifies the linear countdown up to four sections.
func TestPaddingScheduleShort(t *testing.T) {
	for n := 1; n <= 4; n++ {
		got := PaddingSchedule(n)
		want := make([]int, n)
		for i := range want {
			want[i] = n - 1 - i
		}
		if !slices.Equal(got, want) {
			t.Fatalf("PaddingSchedule(%d) = %v, want %v", n, got, want)
		}
	}
}

// TestPaddingScheduleLong verifies the repeated-middle schedule past four sections.
func TestPaddingScheduleLong(t *testing.T) {
	for n := 5; n <= 12; n++ {
		got := PaddingSchedule(n)
		if len(got) != n {
			t.Fatalf("len(PaddingSchedule(%d)) = %d", n, len(got))
		}
		want := []int{3}
		for i := 0; i < n-3; i++ {
			want = append(want, 2)
		}
		want = append(want, 1, 0)
		if !slices.Equal(got, want) {
			t.Fatalf("PaddingSchedule(%d) = %v, want %v", n, got, want)
		}
	}
}

// TestPlanMarksOnlyFinalSectionLast checks section metadata.
func TestPlanMarksOnlyFinalSectionLast(t *testing.T) {
	sections, err := Plan(10, 9)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(sections) != 8 {
		t.Fatalf("sections = %d, want 8", len(sections))
	}
	for i, s := range sections {
		if s.Index != i {
			t.Fatalf("section %d index = %d", i, s.Index)
		}
		if s.PaddingSize != s.Padding*9 {
			t.Fatalf("section %d padding size = %d", i, s.PaddingSize)
		}
		if s.IsLast != (i == len(sections)-1) {
			t.Fatalf("section %d isLast = %v", i, s.IsLast)
		}
	}
}

// TestPlanRejectsBadInputs verifies validation errors.
func TestPlanRejectsBadInputs(t *testing.T) {
	var verr *domain.ValidationError
	if _, err := Plan(0, 9); !errors.As(err, &verr) {
		t.Fatalf("Plan(0, 9) error = %v, want ValidationError", err)
	}
	if _, err := Plan(5, 0); !errors.As(err, &verr) {
		t.Fatalf("Plan(5, 0) error = %v, want ValidationError", err)
	}
}

// TestIndicesLayout verifies slot widths and contiguity.
func TestIndicesLayout(t *testing.T) {
	p := Indices(18, 9)
	if p.Len() != 1+18+9+1+2+16 {
		t.Fatalf("Len() = %d", p.Len())
	}
	if len(p.Pre) != 1 || len(p.Blank) != 18 || len(p.Latent) != 9 || len(p.Post) != 1 || len(p.Double) != 2 || len(p.Quad) != 16 {
		t.Fatalf("unexpected slot widths: %+v", p)
	}
	if p.Pre[0] != 0 || p.Latent[0] != 19 || p.Post[0] != 28 || p.Quad[15] != 46 {
		t.Fatalf("unexpected positions: pre=%v latent0=%d post=%v quadLast=%d", p.Pre, p.Latent[0], p.Post, p.Quad[15])
	}
	if got := p.CleanIndices(); !slices.Equal(got, []int{0, 28}) {
		t.Fatalf("CleanIndices() = %v", got)
	}
}

// TestIndicesZeroPadding verifies the final section window has no blanks.
func TestIndicesZeroPadding(t *testing.T) {
	p := Indices(0, 9)
	if len(p.Blank) != 0 {
		t.Fatalf("blank = %v, want empty", p.Blank)
	}
	if p.Post[0] != 10 {
		t.Fatalf("post = %v, want [10]", p.Post)
	}
}

// TestFrameFormulas checks per-section frame arithmetic.
func TestFrameFormulas(t *testing.T) {
	if FramesPerSection(9) != 33 || OverlapFrames(9) != 33 {
		t.Fatal("expected 33 frames per section and overlap for window 9")
	}
	if SectionDecodeFrames(9, false) != 18 || SectionDecodeFrames(9, true) != 19 {
		t.Fatal("unexpected section decode frames")
	}
}
