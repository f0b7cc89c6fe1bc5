package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/podwave/digest-api/internal/models"
)

var resetTarget string

// resetCmd groups operator reset subcommands
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Operator resets for stuck or stale pipeline rows",
}

// resetEpisodeCmd returns one episode to an earlier pipeline stage
var resetEpisodeCmd = &cobra.Command{
	Use:   "episode <id>",
	Short: "Return an episode to the pending or scored stage",
	Long: `Reset one episode so the pipeline picks it up again.

Resetting to pending clears every derived artifact reference and restarts
the episode from discovery state. Resetting to scored keeps its transcript
and scores so it can be re-selected for digests.

A digested episode is first unlinked from every digest it contributed to,
and those digests' episode counts and average scores are recomputed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResetEpisode,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.AddCommand(resetEpisodeCmd)

	resetEpisodeCmd.Flags().StringVar(&resetTarget, "to", "", "target status: pending or scored")
	_ = resetEpisodeCmd.MarkFlagRequired("to")
}

func runResetEpisode(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid episode ID %q", args[0])
	}

	_, p, err := buildPipeline(nil)
	if err != nil {
		return err
	}
	defer p.DB.Close()

	ctx, cancel := phaseContext()
	defer cancel()

	target := models.EpisodeStatus(resetTarget)
	if err := p.Composition.ResetEpisode(ctx, uint(id), target); err != nil {
		return err
	}

	fmt.Printf("episode %d reset to %s\n", id, target)
	return nil
}
