package domain

import "fmt"

// ContentPreset bundles prompt, step and guidance defaults for one kind of clip.
type ContentPreset struct {
	Name                   string  `json:"name"`
	Prompt                 string  `json:"prompt"`
	StepSkipEnabled        bool    `json:"stepSkipEnabled"`
	Steps                  int     `json:"steps"`
	DistilledGuidanceScale float64 `json:"distilledGuidanceScale"`
	MemoryPreservationGiB  int64   `json:"memoryPreservationGiB"`
	FlowPreset             string  `json:"flowPreset"`
}

var contentPresets = []ContentPreset{
	{
		Name:                   "Default",
		StepSkipEnabled:        true,
		Steps:                  25,
		DistilledGuidanceScale: 10.0,
		MemoryPreservationGiB:  6,
		FlowPreset:             "standard",
	},
	{
		Name:                   "Dance",
		Prompt:                 "The person dances gracefully, with clear movements, full of charm.",
		Steps:                  30,
		DistilledGuidanceScale: 12.0,
		MemoryPreservationGiB:  6,
		FlowPreset:             "dance",
	},
	{
		Name:                   "Talking",
		Prompt:                 "The person is talking, with clear facial expressions, gesturing naturally.",
		StepSkipEnabled:        true,
		Steps:                  22,
		DistilledGuidanceScale: 8.0,
		MemoryPreservationGiB:  6,
		FlowPreset:             "talking",
	},
	{
		Name:                   "Action",
		Prompt:                 "The person performs an action with flowing movement. High quality, detailed.",
		Steps:                  30,
		DistilledGuidanceScale: 12.0,
		MemoryPreservationGiB:  6,
		FlowPreset:             "action",
	},
	{
		Name:                   "Subtle Movement",
		Prompt:                 "The person makes subtle movements with minimal change. Slow, deliberate motion.",
		StepSkipEnabled:        true,
		Steps:                  20,
		DistilledGuidanceScale: 7.0,
		MemoryPreservationGiB:  6,
		FlowPreset:             "subtle",
	},
	{
		Name:                   "Hand Movement",
		Prompt:                 "The person makes detailed hand gestures and finger movements, demonstrating fine motor control.",
		Steps:                  35,
		DistilledGuidanceScale: 14.0,
		MemoryPreservationGiB:  8,
		FlowPreset:             "hand_detail",
	},
}

// ContentPresets returns a copy of the bundled presets in display order.
func ContentPresets() []ContentPreset {
	out := make([]ContentPreset, len(contentPresets))
	copy(out, contentPresets)
	return out
}

// LookupContentPreset finds a preset by exact name.
func LookupContentPreset(name string) (ContentPreset, bool) {
	for _, preset := range contentPresets {
		if preset.Name == name {
			return preset, true
		}
	}
	return ContentPreset{}, false
}

// ApplyPreset overlays a content preset on params. The prompt is only
// replaced when params has none.
func ApplyPreset(params JobParams, name string) (JobParams, error) {
	preset, ok := LookupContentPreset(name)
	if !ok {
		return params, &ValidationError{Field: "contentPreset", Message: fmt.Sprintf("unknown preset %q", name)}
	}

	if params.Prompt == "" {
		params.Prompt = preset.Prompt
	}
	params.Steps = preset.Steps
	params.DistilledGuidanceScale = preset.DistilledGuidanceScale
	params.MemoryBudgetBytes = preset.MemoryPreservationGiB * GiB
	params.StepSkipEnabled = preset.StepSkipEnabled
	params.StepSkipPreset = StepSkipStandard
	if preset.StepSkipEnabled {
		params.StepSkipPreset = StepSkipDetail
	}
	params.FlowPreset = preset.FlowPreset
	params.ContentPreset = preset.Name
	return params, nil
}
