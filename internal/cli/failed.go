package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/jobrunner/internal/control"
)

var failedLimit int

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Review jobs that ended in failure",
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending failed jobs, newest first",
	Run:   runFailedList,
}

var failedResolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Mark a failed job as resolved",
	Args:  cobra.ExactArgs(1),
	Run:   runFailedResolve,
}

func init() {
	failedListCmd.Flags().IntVarP(&failedLimit, "limit", "n", 50, "maximum number of rows")
	failedCmd.AddCommand(failedListCmd, failedResolveCmd)
	rootCmd.AddCommand(failedCmd)
}

func openStores(ctx context.Context) *control.Stores {
	cfg := loadConfig()
	if cfg.Database.URL == "" && cfg.Redis.URL == "" {
		slog.Error("Failed jobs are only kept in memory; configure database.url or redis.url")
		os.Exit(1)
	}
	stores, err := control.OpenStores(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	return stores
}

func runFailedList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	stores := openStores(ctx)
	defer stores.Close()

	jobs, err := stores.Failed.GetAll(ctx, failedLimit)
	if err != nil {
		slog.Error("Failed to list failed jobs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tPRIORITY\tOPERATION\tCATEGORY\tACTION\tATTEMPTS\tFAILED\tERROR")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.JobID, j.Priority, j.Operation, j.Category, j.Action, j.Attempts,
			j.FailedAt.Format(time.RFC3339), truncate(j.Error, 80))
	}
	_ = w.Flush()
}

func runFailedResolve(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	stores := openStores(ctx)
	defer stores.Close()

	if err := stores.Failed.MarkResolved(ctx, args[0]); err != nil {
		slog.Error("Failed to resolve failed job", "id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Resolved %s\n", args[0])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
