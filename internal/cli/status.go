package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/control"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/jobstate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show download job counts by status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("status needs database.url; memory storage is private to the serving process")
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

	counts, err := repos.Jobs.CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count jobs", "error", err)
		os.Exit(1)
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tJOBS\tMEANING")
	for _, s := range statuses {
		status := domain.JobStatus(s)
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", s, counts[status], jobstate.StateDescription(status))
	}
	_ = w.Flush()
}
