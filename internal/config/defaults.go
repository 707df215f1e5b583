package config

import (
	"os"
	"path/filepath"

	"video-extender/internal/domain"
	"video-extender/internal/residency"
)

// DefaultDeviceCapacityBytes is the fast-memory size assumed before any is configured.
const DefaultDeviceCapacityBytes = 24 * domain.GiB

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:  filepath.Join(homeDir, "Videos", "video-extender"),
		DataDir:    filepath.Join(homeDir, ".video-extender"),
		FFmpegPath: "ffmpeg",
		ListenAddr: ":8080",
		Device: domain.DeviceConfig{
			CapacityBytes:          DefaultDeviceCapacityBytes,
			AbundantThresholdBytes: residency.DefaultAbundantThreshold,
		},
		Artifacts:   domain.ArtifactStore{Kind: "none"},
		JobDefaults: domain.DefaultJobParams(),
	}
}
