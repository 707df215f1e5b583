// Package stepskip decides which sampler iterations may reuse the previous
// residual instead of running the full model.
package stepskip

import (
	"fmt"
	"math"

	"video-extender/internal/domain"
)

// Thresholds for the accumulated relative change below which a step is skipped.
const (
	ThresholdStandard = 0.15
	ThresholdDetail   = 0.25
	ThresholdQuality  = 0.35
)

// rescale maps the raw relative L1 change onto the model's output change.
var rescale = [...]float64{7.33226126e+02, -4.01131952e+02, 6.75869174e+01, -3.14987800e+00, 9.61237896e-02}

// Config is the per-job step-skip policy handed to the sampler.
type Config struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Steps     int     `json:"steps"`
}

// Threshold returns the rel-L1 threshold of a preset.
func Threshold(preset domain.StepSkipPreset) (float64, error) {
	switch preset {
	case domain.StepSkipStandard:
		return ThresholdStandard, nil
	case domain.StepSkipDetail:
		return ThresholdDetail, nil
	case domain.StepSkipQuality:
		return ThresholdQuality, nil
	default:
		return 0, &domain.ValidationError{Field: "stepSkipPreset", Message: fmt.Sprintf("unknown preset %q", preset)}
	}
}

// ForJob builds the config for one job. A disabled job yields the dense baseline.
func ForJob(params domain.JobParams) (Config, error) {
	if !params.StepSkipEnabled {
		return Config{Steps: params.Steps}, nil
	}
	threshold, err := Threshold(params.StepSkipPreset)
	if err != nil {
		return Config{}, err
	}
	return Config{Enabled: true, Threshold: threshold, Steps: params.Steps}, nil
}

// Cache tracks the accumulated change between consecutive step inputs.
// A Cache belongs to one sampler call and is not safe for concurrent use.
type Cache struct {
	cfg         Config
	accumulated float64
	previous    []float32
	computed    int
	skipped     int
}

// NewCache returns a cache for one sampling pass.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg}
}

// ShouldCompute reports whether the full model must run for step (0-based)
// given the modulated step input.
func (c *Cache) ShouldCompute(step int, input []float32) bool {
	compute := c.decide(step, input)
	c.previous = append(c.previous[:0], input...)
	if compute {
		c.computed++
	} else {
		c.skipped++
	}
	return compute
}

func (c *Cache) decide(step int, input []float32) bool {
	if !c.cfg.Enabled {
		return true
	}
	if step == 0 || step >= c.cfg.Steps-1 || len(c.previous) != len(input) {
		c.accumulated = 0
		return true
	}

	c.accumulated += polyval(relativeL1(input, c.previous))
	if c.accumulated < c.cfg.Threshold {
		return false
	}
	c.accumulated = 0
	return true
}

// Computed and Skipped count the decisions made so far.
func (c *Cache) Computed() int { return c.computed }
func (c *Cache) Skipped() int  { return c.skipped }

func relativeL1(cur, prev []float32) float64 {
	var diff, base float64
	for i := range cur {
		diff += math.Abs(float64(cur[i]) - float64(prev[i]))
		base += math.Abs(float64(prev[i]))
	}
	if base == 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return diff / base
}

func polyval(x float64) float64 {
	if math.IsInf(x, 1) {
		return x
	}
	out := 0.0
	for _, c := range rescale {
		out = out*x + c
	}
	return out
}
