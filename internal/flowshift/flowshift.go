// Package flowshift computes the shifted noise schedule handed to the sampler.
package flowshift

import (
	"fmt"
	"math"
	"sort"
)

// DefaultPreset is used when a job names no preset.
const DefaultPreset = "Default"

const (
	muMin    = 0.3
	sigmaMin = 0.7
	sigmaMax = 1.3
)

// muMax is ln(7).
var muMax = math.Log(7)

// Preset pairs a content type with a detail level.
type Preset struct {
	Name        string `json:"name" yaml:"name"`
	Content     string `json:"content" yaml:"content"`
	Detail      string `json:"detail" yaml:"detail"`
	Description string `json:"description" yaml:"description"`
}

var presets = map[string]Preset{
	"Default":         {Name: "Default", Content: "balanced", Detail: "standard", Description: "Balanced settings suitable for most content"},
	"Dance":           {Name: "Dance", Content: "dance", Detail: "high", Description: "Dance movements with detail preservation"},
	"Talking":         {Name: "Talking", Content: "talking", Detail: "standard", Description: "Facial expressions and talking"},
	"Action":          {Name: "Action", Content: "dynamic", Detail: "standard", Description: "Dynamic movements and actions"},
	"Subtle Movement": {Name: "Subtle Movement", Content: "subtle", Detail: "high", Description: "Minimal, gradual movements"},
	"Hand Detail":     {Name: "Hand Detail", Content: "handdetail", Detail: "extreme", Description: "Detailed hand gestures"},
}

// aliases maps the short job-level keys onto preset names.
var aliases = map[string]string{
	"standard":    "Default",
	"dance":       "Dance",
	"talking":     "Talking",
	"action":      "Action",
	"subtle":      "Subtle Movement",
	"hand_detail": "Hand Detail",
}

var muContent = map[string]float64{
	"balanced":   0,
	"subtle":     -0.2,
	"dynamic":    0.1,
	"talking":    -0.15,
	"dance":      -0.05,
	"handdetail": -0.25,
}

var muDetail = map[string]float64{"standard": 0, "high": -0.1, "extreme": -0.2}

var sigmaContent = map[string]float64{
	"balanced":   0,
	"subtle":     0.1,
	"dynamic":    -0.05,
	"talking":    0.05,
	"dance":      -0.02,
	"handdetail": 0.15,
}

var sigmaDetail = map[string]float64{"standard": 0, "high": 0.05, "extreme": 0.1}

// Lookup resolves a preset by name or short key. Empty means Default.
func Lookup(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	if full, ok := aliases[name]; ok {
		name = full
	}
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("flowshift: unknown preset %q", name)
	}
	return p, nil
}

// Presets lists the known presets sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SequenceLength is the transformer token count for a latent of the given
// shape after 2x2 spatial patching.
func SequenceLength(width, height, frames int) int {
	return frames * height * width / 4
}

// Mu grows linearly with sequence length (256 -> 0.5, 4096 -> 1.15), then
// adjusts for the preset and clamps to [0.3, ln 7].
func Mu(contextLength int, p Preset) float64 {
	const x1, y1, x2, y2 = 256.0, 0.5, 4096.0, 1.15
	k := (y2 - y1) / (x2 - x1)
	mu := k*float64(contextLength) + (y1 - k*x1)
	mu += muContent[p.Content] + muDetail[p.Detail]
	return math.Max(math.Min(mu, muMax), muMin)
}

// Sigma is 1 plus the preset adjustments, clamped to [0.7, 1.3].
func Sigma(p Preset) float64 {
	s := 1 + sigmaContent[p.Content] + sigmaDetail[p.Detail]
	return math.Min(math.Max(s, sigmaMin), sigmaMax)
}

// TimeShift maps t in [0, 1] onto the shifted schedule.
func TimeShift(t, mu, sigma float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	e := math.Exp(mu)
	return e / (e + math.Pow(1/t-1, sigma))
}

// Schedule returns steps+1 noise levels from 1 down to 0.
func Schedule(steps, contextLength int, p Preset) []float64 {
	if steps < 1 {
		return nil
	}
	mu, sigma := Mu(contextLength, p), Sigma(p)
	out := make([]float64, steps+1)
	for i := range out {
		t := 1 - float64(i)/float64(steps)
		out[i] = TimeShift(t, mu, sigma)
	}
	return out
}
