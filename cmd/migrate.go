package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podwave/digest-api/internal/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or update the database schema for every pipeline entity.

Phase commands migrate automatically on startup; this command exists so the
schema can be prepared ahead of time, for example before first serving.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Initialize(cfg.Database.Path, cfg.Database.Verbose)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return err
	}

	fmt.Printf("Database migrated: %s\n", cfg.Database.Path)
	return nil
}
