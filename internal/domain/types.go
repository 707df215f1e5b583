package domain

import "time"

// JobStatus tracks each scheduler stage for a single generation job.
type JobStatus string

const (
	JobStatusIdle          JobStatus = "idle"
	JobStatusStarting      JobStatus = "starting"
	JobStatusTextEncoding  JobStatus = "text_encoding"
	JobStatusImageEncoding JobStatus = "image_encoding"
	JobStatusSampling      JobStatus = "sampling"
	JobStatusDecoding      JobStatus = "decoding"
	JobStatusDone          JobStatus = "done"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// Terminal reports whether no further transitions happen for this run.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StepSkipPreset selects one of the tuned step-skip thresholds.
type StepSkipPreset string

const (
	StepSkipStandard StepSkipPreset = "standard"
	StepSkipDetail   StepSkipPreset = "detail"
	StepSkipQuality  StepSkipPreset = "quality"
)

// Valid reports whether the preset is one of the known names.
func (p StepSkipPreset) Valid() bool {
	switch p {
	case StepSkipStandard, StepSkipDetail, StepSkipQuality:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir   string        `yaml:"output_dir" json:"outputDir"`
	DataDir     string        `yaml:"data_dir" json:"dataDir"`
	FFmpegPath  string        `yaml:"ffmpeg_path" json:"ffmpegPath"`
	ListenAddr  string        `yaml:"listen_addr" json:"listenAddr"`
	Device      DeviceConfig  `yaml:"device" json:"device"`
	Artifacts   ArtifactStore `yaml:"artifacts" json:"artifacts"`
	JobDefaults JobParams     `yaml:"job_defaults" json:"jobDefaults"`
}

// DeviceConfig describes the fast memory tier the models are placed on.
type DeviceConfig struct {
	CapacityBytes          int64 `yaml:"capacity_bytes" json:"capacityBytes"`
	AbundantThresholdBytes int64 `yaml:"abundant_threshold_bytes" json:"abundantThresholdBytes"`
}

// ArtifactStore selects where finished section videos are mirrored.
type ArtifactStore struct {
	Kind     string `yaml:"kind" json:"kind"`
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID           string    `json:"id"`
	Status       JobStatus `json:"status"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	FinishedAt   time.Time `json:"finishedAt,omitempty"`
	LastArtifact string    `json:"lastArtifact,omitempty"`
	Error        string    `json:"error,omitempty"`
}
