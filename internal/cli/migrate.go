package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/control"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("migrate needs database.url")
		os.Exit(1)
	}

	repos, err := control.OpenRepositories(context.Background(), cfg.Database, true)
	if err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	_ = repos.Close()
	slog.Info("Database is up to date")
}
