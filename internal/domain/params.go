package domain

import (
	"fmt"
	"math"
	"strings"
)

// GiB is one binary gigabyte.
const GiB int64 = 1 << 30

const (
	// MinWindowSize and MaxWindowSize bound the latent frames per section.
	MinWindowSize = 1
	MaxWindowSize = 33

	// MaxOutputQuality is the largest accepted x264 CRF value.
	MaxOutputQuality = 51
)

// JobParams is the immutable parameter set of one generation job.
type JobParams struct {
	Prompt                 string         `yaml:"prompt" json:"prompt" msgpack:"prompt"`
	NegativePrompt         string         `yaml:"negative_prompt,omitempty" json:"negativePrompt,omitempty" msgpack:"negative_prompt"`
	ImagePath              string         `yaml:"image_path,omitempty" json:"imagePath" msgpack:"image_path"`
	Seed                   int64          `yaml:"seed" json:"seed" msgpack:"seed"`
	DurationSeconds        float64        `yaml:"duration_seconds" json:"durationSeconds" msgpack:"duration_seconds"`
	WindowSize             int            `yaml:"window_size" json:"windowSize" msgpack:"window_size"`
	Steps                  int            `yaml:"steps" json:"steps" msgpack:"steps"`
	GuidanceScale          float64        `yaml:"guidance_scale" json:"guidanceScale" msgpack:"guidance_scale"`
	DistilledGuidanceScale float64        `yaml:"distilled_guidance_scale" json:"distilledGuidanceScale" msgpack:"distilled_guidance_scale"`
	GuidanceRescale        float64        `yaml:"guidance_rescale" json:"guidanceRescale" msgpack:"guidance_rescale"`
	MemoryBudgetBytes      int64          `yaml:"memory_budget_bytes" json:"memoryBudgetBytes" msgpack:"memory_budget_bytes"`
	StepSkipEnabled        bool           `yaml:"step_skip_enabled" json:"stepSkipEnabled" msgpack:"step_skip_enabled"`
	StepSkipPreset         StepSkipPreset `yaml:"step_skip_preset" json:"stepSkipPreset" msgpack:"step_skip_preset"`
	OutputQuality          int            `yaml:"output_quality" json:"outputQuality" msgpack:"output_quality"`
	ContentPreset          string         `yaml:"content_preset,omitempty" json:"contentPreset,omitempty" msgpack:"content_preset"`
	FlowPreset             string         `yaml:"flow_preset,omitempty" json:"flowPreset,omitempty" msgpack:"flow_preset"`
}

// ValidationError reports a malformed job parameter.
type ValidationError struct {
	Field   string
	Message string
}

// Error formats the offending field and reason.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DefaultJobParams returns the baseline parameters used when nothing is set.
func DefaultJobParams() JobParams {
	return JobParams{
		Seed:                   31337,
		DurationSeconds:        5.0,
		WindowSize:             9,
		Steps:                  25,
		GuidanceScale:          1.0,
		DistilledGuidanceScale: 10.0,
		GuidanceRescale:        0.0,
		MemoryBudgetBytes:      6 * GiB,
		StepSkipEnabled:        true,
		StepSkipPreset:         StepSkipDetail,
		OutputQuality:          16,
		ContentPreset:          "Default",
		FlowPreset:             "standard",
	}
}

// Validate checks every field that the scheduler relies on.
func (p JobParams) Validate() error {
	if math.IsNaN(p.DurationSeconds) || p.DurationSeconds <= 0 {
		return &ValidationError{Field: "durationSeconds", Message: "must be greater than zero"}
	}
	if p.WindowSize < MinWindowSize || p.WindowSize > MaxWindowSize {
		return &ValidationError{
			Field:   "windowSize",
			Message: fmt.Sprintf("must be within [%d, %d], got %d", MinWindowSize, MaxWindowSize, p.WindowSize),
		}
	}
	if p.Steps < 1 {
		return &ValidationError{Field: "steps", Message: "must be at least 1"}
	}
	if p.GuidanceScale < 1 {
		return &ValidationError{Field: "guidanceScale", Message: "must be at least 1.0"}
	}
	if p.DistilledGuidanceScale <= 0 {
		return &ValidationError{Field: "distilledGuidanceScale", Message: "must be greater than zero"}
	}
	if p.GuidanceRescale < 0 || p.GuidanceRescale > 1 {
		return &ValidationError{Field: "guidanceRescale", Message: "must be within [0, 1]"}
	}
	if p.MemoryBudgetBytes < 0 {
		return &ValidationError{Field: "memoryBudgetBytes", Message: "must not be negative"}
	}
	if p.StepSkipEnabled && !p.StepSkipPreset.Valid() {
		return &ValidationError{Field: "stepSkipPreset", Message: fmt.Sprintf("unknown preset %q", p.StepSkipPreset)}
	}
	if p.OutputQuality < 0 || p.OutputQuality > MaxOutputQuality {
		return &ValidationError{Field: "outputQuality", Message: fmt.Sprintf("must be within [0, %d]", MaxOutputQuality)}
	}
	if strings.TrimSpace(p.ImagePath) == "" {
		return &ValidationError{Field: "imagePath", Message: "a conditioning image is required"}
	}
	return nil
}
