package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"video-extender/internal/domain"
)

var flagFix string

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Check tools, directories, memory budget and artifact storage",
	Long: `Run the startup checks and print the report.

With --fix ID, apply the remediation for one failed item first. Only
output_dir and data_dir can be fixed automatically.`,
	RunE: runDiagnostics,
}

func init() {
	diagnosticsCmd.Flags().StringVar(&flagFix, "fix", "", "Diagnostic item to fix (output_dir, data_dir)")
}

func runDiagnostics(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report := app.GetDiagnostics()
	if flagFix != "" {
		if report, err = app.FixDiagnostic(ctx, flagFix); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleTitle.Render("Diagnostics"))
	for _, item := range report.Items {
		mark := styleOK.Render("pass")
		if item.Status == domain.DiagnosticStatusFail {
			mark = styleFail.Render("fail")
		}
		fmt.Fprintf(out, "  %s %-18s %s\n", mark, styleLabel.Render(item.Name), item.Message)
		if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
			fmt.Fprintf(out, "       %s\n", styleDim.Render(item.Hint))
		}
		if item.Fixable && item.Status == domain.DiagnosticStatusFail {
			fmt.Fprintf(out, "       %s\n", styleDim.Render("run: vidgen diagnostics --fix "+item.ID))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styleTitle.Render("Models"))
	for _, p := range app.ModelPlacements() {
		fmt.Fprintf(out, "  %-16s %6.2f GiB %s\n", p.Name, float64(p.SizeBytes)/float64(domain.GiB), styleDim.Render(string(p.Tier)))
	}

	if report.HasFailures {
		return fmt.Errorf("diagnostics reported failures")
	}
	return nil
}
