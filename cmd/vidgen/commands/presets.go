package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"video-extender/internal/domain"
	"video-extender/internal/flowshift"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List content and flow-shift presets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, styleTitle.Render("Content presets"))
		for _, p := range domain.ContentPresets() {
			skip := "off"
			if p.StepSkipEnabled {
				skip = "on"
			}
			fmt.Fprintf(out, "  %-16s %s\n", styleLabel.Render(p.Name),
				styleDim.Render(fmt.Sprintf("steps=%d gs=%.1f step-skip=%s budget=%dGiB flow=%s",
					p.Steps, p.DistilledGuidanceScale, skip, p.MemoryPreservationGiB, p.FlowPreset)))
			if p.Prompt != "" {
				fmt.Fprintf(out, "  %-16s %s\n", "", p.Prompt)
			}
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, styleTitle.Render("Flow-shift presets"))
		for _, p := range flowshift.Presets() {
			fmt.Fprintf(out, "  %-16s %s\n", styleLabel.Render(p.Name),
				styleDim.Render(fmt.Sprintf("mu=%.3f sigma=%.2f  %s", flowshift.Mu(4096, p), flowshift.Sigma(p), p.Description)))
		}
		return nil
	},
}
