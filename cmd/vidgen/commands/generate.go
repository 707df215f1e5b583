package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"video-extender/internal/bootstrap"
	"video-extender/internal/domain"
	"video-extender/internal/jobs"
)

var (
	flagImage          string
	flagPrompt         string
	flagNegative       string
	flagSeed           int64
	flagDuration       float64
	flagWindow         int
	flagSteps          int
	flagGuidance       float64
	flagDistilled      float64
	flagRescale        float64
	flagBudgetGiB      float64
	flagNoStepSkip     bool
	flagStepSkipPreset string
	flagQuality        int
	flagPreset         string
	flagFlow           string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a video from a start image",
	Long: `Generate a video from a start image and a prompt.

The job runs in the foreground; progress is printed per sampling step and
every finished section is reported with its mp4 path. Ctrl-C cancels the
job at the next checkpoint and keeps the last finished video.

Example:
  vidgen generate --image girl.png --prompt "The girl dances gracefully" --duration 10
  vidgen generate --image man.png --preset Talking --steps 20`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&flagImage, "image", "i", "", "Start image (png or jpeg)")
	f.StringVarP(&flagPrompt, "prompt", "p", "", "Prompt describing the motion")
	f.StringVar(&flagNegative, "negative", "", "Negative prompt (used when guidance > 1)")
	f.Int64Var(&flagSeed, "seed", 0, "Random seed")
	f.Float64VarP(&flagDuration, "duration", "d", 0, "Video length in seconds")
	f.IntVar(&flagWindow, "window", 0, "Latent frames per section")
	f.IntVar(&flagSteps, "steps", 0, "Sampling steps per section")
	f.Float64Var(&flagGuidance, "cfg", 0, "Classifier-free guidance scale")
	f.Float64Var(&flagDistilled, "gs", 0, "Distilled guidance scale")
	f.Float64Var(&flagRescale, "rs", 0, "Guidance rescale")
	f.Float64Var(&flagBudgetGiB, "memory-budget", 0, "GiB kept free while sampling")
	f.BoolVar(&flagNoStepSkip, "no-step-skip", false, "Disable step-skip acceleration")
	f.StringVar(&flagStepSkipPreset, "step-skip", "", "Step-skip preset (standard, detail, quality)")
	f.IntVar(&flagQuality, "crf", 0, "Output quality as x264 CRF (0 is lossless)")
	f.StringVar(&flagPreset, "preset", "", "Content preset applied before other flags")
	f.StringVar(&flagFlow, "flow", "", "Flow-shift preset")
	_ = generateCmd.MarkFlagRequired("image")
}

// jobParamsFromFlags layers the content preset and then explicit flags over defaults.
func jobParamsFromFlags(cmd *cobra.Command, defaults domain.JobParams) (domain.JobParams, error) {
	params := defaults
	if flagPreset != "" {
		var err error
		if params, err = domain.ApplyPreset(params, flagPreset); err != nil {
			return params, err
		}
	}

	f := cmd.Flags()
	params.ImagePath = flagImage
	if f.Changed("prompt") {
		params.Prompt = flagPrompt
	}
	if f.Changed("negative") {
		params.NegativePrompt = flagNegative
	}
	if f.Changed("seed") {
		params.Seed = flagSeed
	}
	if f.Changed("duration") {
		params.DurationSeconds = flagDuration
	}
	if f.Changed("window") {
		params.WindowSize = flagWindow
	}
	if f.Changed("steps") {
		params.Steps = flagSteps
	}
	if f.Changed("cfg") {
		params.GuidanceScale = flagGuidance
	}
	if f.Changed("gs") {
		params.DistilledGuidanceScale = flagDistilled
	}
	if f.Changed("rs") {
		params.GuidanceRescale = flagRescale
	}
	if f.Changed("memory-budget") {
		params.MemoryBudgetBytes = int64(flagBudgetGiB * float64(domain.GiB))
	}
	if flagNoStepSkip {
		params.StepSkipEnabled = false
	}
	if f.Changed("step-skip") {
		params.StepSkipEnabled = true
		params.StepSkipPreset = domain.StepSkipPreset(flagStepSkipPreset)
	}
	if f.Changed("crf") {
		params.OutputQuality = flagQuality
	}
	if f.Changed("flow") {
		params.FlowPreset = flagFlow
	}
	return params, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	params, err := jobParamsFromFlags(cmd, app.JobDefaults())
	if err != nil {
		return err
	}
	job, err := app.StartGeneration(params)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleTitle.Render("vidgen")+" "+styleDim.Render("job "+job.ID))
	final := follow(ctx, app, out)

	switch final.Type {
	case jobs.EventTypeDone:
		fmt.Fprintln(out, styleOK.Render("done")+" "+app.CurrentJob().LastArtifact)
		return nil
	case jobs.EventTypeCancelled:
		fmt.Fprintln(out, styleWarn.Render("cancelled")+" "+styleDim.Render(app.CurrentJob().LastArtifact))
		return nil
	default:
		return fmt.Errorf("job %s failed: %s", job.ID, final.Message)
	}
}

// follow prints bus events until a terminal one arrives. The first interrupt
// cancels the job; the loop still waits for the run to stop.
func follow(ctx context.Context, app *bootstrap.App, out io.Writer) jobs.Event {
	var seq int64
	interrupted := ctx.Done()
	for {
		changed := app.EventsChanged()
		for _, ev := range app.JobEvents(seq) {
			seq = ev.Seq
			printEvent(out, ev)
			if ev.Terminal() {
				return ev
			}
		}

		select {
		case <-changed:
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, styleWarn.Render("cancelling ..."))
			_ = app.CancelGeneration()
		}
	}
}

func printEvent(out io.Writer, ev jobs.Event) {
	switch ev.Type {
	case jobs.EventTypeStatus:
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render(string(ev.Status)), styleDim.Render(ev.Message))
	case jobs.EventTypeProgress:
		if ev.Percent == 0 {
			fmt.Fprintf(out, "  %s\n", styleDim.Render(ev.Message))
			return
		}
		fmt.Fprintf(out, "\r  section %d %s %s", ev.Section, progressBar(ev.Percent), ev.Message)
		if ev.Percent >= 100 {
			fmt.Fprintf(out, "\n  %s\n", styleDim.Render(ev.Description))
		}
	case jobs.EventTypeFile:
		fmt.Fprintf(out, "%s %s\n", styleOK.Render("section ready"), ev.Path)
	case jobs.EventTypeError:
		fmt.Fprintf(out, "%s %s\n", styleFail.Render("error"), ev.Message)
	}
}
