package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/control"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [resource_id]",
	Short: "Send a fresh download message for a stuck or dead-lettered job",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	resourceID := args[0]
	cfg := loadConfig()
	if cfg.Database.URL == "" || cfg.Redis.URL == "" {
		slog.Error("requeue needs database.url and redis.url; in-process state is private to the serving process")
		os.Exit(1)
	}

	ctx := context.Background()
	repos, err := control.OpenRepositories(ctx, cfg.Database, false)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = repos.Close()
	}()

	backends, err := control.OpenBackends(cfg)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = backends.Close()
	}()

	job, err := control.Requeue(ctx, repos, backends.Downloads, resourceID)
	if err != nil {
		slog.Error("Failed to requeue", "resourceId", resourceID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Requeued %s (status %s, retries %d/%d)\n", job.ResourceID, job.Status, job.RetryCount, job.MaxRetries)
}
