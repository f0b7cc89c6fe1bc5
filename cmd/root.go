package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/podwave/digest-api/internal/database"
	"github.com/podwave/digest-api/internal/pipeline"
	"github.com/podwave/digest-api/pkg/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "digest-api",
	Short: "Podcast digest pipeline",
	Long: `Podcast Digest API - an automated podcast digest pipeline

Each pipeline phase is its own subcommand so an external scheduler can run
them independently: discover, fetch, transcribe, score, compose, synthesize,
publish. The serve command exposes the read-only API and the published RSS
feed over HTTP.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd returns the root command (exported for testing)
func NewRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig initializes the configuration system and returns the resulting
// config. Commands call it lazily so version/help work without a config.
func loadConfig() (*config.Config, error) {
	if err := config.Init(); err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildPipeline loads configuration, opens and migrates the database, and
// wires the full service graph. The mutate hook lets commands apply flag
// overrides before services are constructed.
func buildPipeline(mutate func(*config.Config)) (*config.Config, *pipeline.Pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.Initialize(cfg.Database.Path, cfg.Database.Verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return cfg, pipeline.New(cfg, db), nil
}
