package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"video-extender/internal/jobs"
	"video-extender/internal/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job API over HTTP",
	Long: `Serve the job API over HTTP.

Routes:
  POST /api/jobs             start a job (JSON job parameters, optional "contentPreset")
  POST /api/jobs/cancel      cancel the running job
  GET  /api/jobs/current     current job status
  GET  /api/jobs/events      events after ?since=N
  GET  /api/jobs/stream      websocket event stream
  GET  /api/jobs/history     finished jobs, newest first
  GET  /api/presets          content and flow-shift presets
  GET  /api/diagnostics      startup checks`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default: listen_addr setting)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	for _, item := range app.GetDiagnostics().Failed() {
		slog.Warn("serve: diagnostic failed", "id", item.ID, "message", item.Message)
	}

	addr := flagAddr
	if addr == "" {
		addr = app.Settings.ListenAddr
	}
	err = server.New(app, slog.Default()).ListenAndServe(ctx, addr)

	if cerr := app.CancelGeneration(); cerr != nil && !errors.Is(cerr, jobs.ErrNoRunningJob) {
		slog.Warn("serve: cancel running job", "error", cerr)
	}
	return err
}
