package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"video-extender/internal/bootstrap"
)

var (
	flagConfig  string
	flagVerbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vidgen",
	Short: "Long video generation from a single image",
	Long: `vidgen extends a start image into a long video by generating it in
overlapping sections. A playable mp4 is written after every section, so a
cancelled or failed job still leaves its longest finished video behind.

Settings live in a YAML file (see --config); job defaults can be
overridden per run with flags.`,
	SilenceUsage: true,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Settings file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// newLogger writes structured logs to stderr so stdout stays readable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openApp loads settings and wires the application.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	return bootstrap.New(ctx, bootstrap.Options{
		ConfigPath: flagConfig,
		Logger:     newLogger(),
	})
}
