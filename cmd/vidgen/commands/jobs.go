package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		records, err := app.History(ctx, flagLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, styleDim.Render("no jobs recorded"))
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(out, "%s %s %s\n",
				styleLabel.Render(rec.ID),
				statusStyle(rec.Status).Render(string(rec.Status)),
				styleDim.Render(rec.StartedAt.Local().Format(time.DateTime)))
			fmt.Fprintf(out, "  %d sections, %d latent frames, %.1fs requested\n",
				rec.Sections, rec.LatentFrames, rec.Params.DurationSeconds)
			if rec.LastArtifact != "" {
				fmt.Fprintf(out, "  %s\n", rec.LastArtifact)
			}
			if rec.Error != "" {
				fmt.Fprintf(out, "  %s\n", styleFail.Render(rec.Error))
			}
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of jobs to list")
}
