package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/podwave/digest-api/internal/pipeline"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/pkg/config"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

var (
	batchSize    int
	addFeedURLs  []string
	keepAudio    bool
	composeDate  string
	composeForce bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan registered feeds for new episodes",
	Long: `Fetch every active RSS feed and register episodes that have not been
seen before. New episodes enter the pipeline as pending.

Feeds that keep failing are deactivated once they cross the configured
consecutive-failure threshold.`,
	RunE: runDiscover,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and chunk pending episode audio",
	Long: `Download the audio of pending episodes, normalize it to mono WAV at the
configured sample rate, and segment it into fixed-length chunks for
transcription. Requires ffmpeg and ffprobe on the path.`,
	RunE: runFetch,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe chunked episode audio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimplePhase(cmd, "transcribe")
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score transcribed episodes against the active topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimplePhase(cmd, "score")
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose digest scripts from scored episodes",
	Long: `Select the best scored episodes for each active topic and generate a
digest script for the given date. An existing digest for the same topic and
date is skipped unless --force is set, which regenerates the script from the
same episodes under the current topic instructions and bumps the version.`,
	RunE: runCompose,
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Render digest scripts to audio",
	RunE:  runSynthesize,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish synthesized digests to the public feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimplePhase(cmd, "publish")
	},
}

func init() {
	for _, cmd := range []*cobra.Command{
		discoverCmd, fetchCmd, transcribeCmd, scoreCmd,
		composeCmd, synthesizeCmd, publishCmd,
	} {
		cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows to claim this pass (overrides config)")
		rootCmd.AddCommand(cmd)
	}

	discoverCmd.Flags().StringArrayVar(&addFeedURLs, "add", nil, "register a feed URL before scanning (repeatable)")
	fetchCmd.Flags().BoolVar(&keepAudio, "keep-audio", false, "retain the original download next to the normalized WAV")
	composeCmd.Flags().StringVar(&composeDate, "date", "", "digest date as YYYY-MM-DD (default today, UTC)")
	composeCmd.Flags().BoolVar(&composeForce, "force", false, "regenerate an existing digest, bumping its version")
}

// phaseContext returns a context cancelled by SIGINT/SIGTERM so an
// interrupted phase stops claiming and exits cleanly.
func phaseContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyBatchSize is the shared flag override hook for phase commands
func applyBatchSize(cfg *config.Config) {
	if batchSize > 0 {
		cfg.Pipeline.BatchSize = batchSize
	}
}

// executePhase runs one tracked pass of a phase and prints its result
func executePhase(ctx context.Context, p *pipeline.Pipeline, phase string, fn pipeline.PhaseFunc) error {
	tracker, err := p.Runs.Start(ctx, phase, "cli")
	if err != nil {
		return err
	}

	result, runErr := fn(ctx, tracker)
	tracker.Complete(ctx, result, runErr)
	if runErr != nil {
		if pipeerrors.IsConfig(runErr) {
			fmt.Fprintf(os.Stderr, "configuration error, aborting run: %v\n", runErr)
		}
		return fmt.Errorf("%s run %s: %w", phase, tracker.RunID(), runErr)
	}

	fmt.Printf("%s: claimed=%d succeeded=%d failed=%d\n",
		phase, result.Claimed, result.Succeeded, result.Failed)
	return nil
}

// runSimplePhase handles phases whose only flag is --batch-size
func runSimplePhase(cmd *cobra.Command, phase string) error {
	_, p, err := buildPipeline(applyBatchSize)
	if err != nil {
		return err
	}
	defer p.DB.Close()

	fn, err := p.Phase(phase)
	if err != nil {
		return err
	}

	ctx, cancel := phaseContext()
	defer cancel()
	return executePhase(ctx, p, phase, fn)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	_, p, err := buildPipeline(applyBatchSize)
	if err != nil {
		return err
	}
	defer p.DB.Close()

	ctx, cancel := phaseContext()
	defer cancel()

	for _, url := range addFeedURLs {
		feed, err := p.Discovery.Register(ctx, url, "")
		if err != nil {
			return fmt.Errorf("registering feed %s: %w", url, err)
		}
		fmt.Printf("registered feed %d: %s\n", feed.ID, feed.FeedURL)
	}

	return executePhase(ctx, p, "discover", p.Discovery.Run)
}

func runFetch(cmd *cobra.Command, args []string) error {
	_, p, err := buildPipeline(func(cfg *config.Config) {
		applyBatchSize(cfg)
		if keepAudio {
			cfg.Audio.KeepAudio = true
		}
	})
	if err != nil {
		return err
	}
	defer p.DB.Close()

	if err := p.FFmpeg.ValidateBinaries(); err != nil {
		return pipeerrors.Config(pipeerrors.CodeMissingBinary, "audio tooling unavailable", err)
	}

	ctx, cancel := phaseContext()
	defer cancel()
	return executePhase(ctx, p, "fetch", p.Acquisition.Run)
}

func runCompose(cmd *cobra.Command, args []string) error {
	_, p, err := buildPipeline(applyBatchSize)
	if err != nil {
		return err
	}
	defer p.DB.Close()

	date := composeDate
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	ctx, cancel := phaseContext()
	defer cancel()
	return executePhase(ctx, p, "compose",
		func(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
			return p.Composition.Run(ctx, tracker, date, composeForce)
		})
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	_, p, err := buildPipeline(applyBatchSize)
	if err != nil {
		return err
	}
	defer p.DB.Close()

	if err := p.FFmpeg.ValidateBinaries(); err != nil {
		return pipeerrors.Config(pipeerrors.CodeMissingBinary, "audio tooling unavailable", err)
	}

	ctx, cancel := phaseContext()
	defer cancel()
	return executePhase(ctx, p, "synthesize", p.Synthesis.Run)
}
