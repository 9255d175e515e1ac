package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/health"
	"github.com/vietddude/jobrunner/internal/processing/pool"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workers, queue depth, circuit breakers and health of a running engine",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	client := newAPIClient(cfg.Server.Port)
	ctx := context.Background()

	var st pool.Status
	if err := client.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		slog.Error("Failed to fetch status", "error", err)
		os.Exit(1)
	}
	var report health.HealthReport
	if err := client.do(ctx, http.MethodGet, "/health/detailed", nil, &report,
		http.StatusOK, http.StatusServiceUnavailable); err != nil {
		slog.Error("Failed to fetch health", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "SYSTEM\t%s\n", report.SystemStatus)
	_, _ = fmt.Fprintf(w, "WORKERS\t%d running, %d active\n", st.RunningWorkers, st.ActiveJobs)
	_, _ = fmt.Fprintf(w, "THROUGHPUT\t%.2f jobs/s\n", st.Performance.Throughput)
	_, _ = fmt.Fprintf(w, "AVG LATENCY\t%.3fs\n", st.Performance.AvgLatency)
	_, _ = fmt.Fprintf(w, "ERROR RATE\t%.1f%% (%d samples)\n", st.Performance.ErrorRate*100, st.Performance.Samples)
	_, _ = fmt.Fprintf(w, "LOCKS\t%d\n", st.Locks)
	_ = w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PRIORITY\tQUEUED")
	for _, p := range domain.Priorities {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", p, st.QueueDepthByPriority[p])
	}
	_ = w.Flush()

	if len(st.CircuitBreakers) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "OPERATION\tSTATE\tFAILURES\tTHRESHOLD")
		for _, b := range st.CircuitBreakers {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", b.Operation, b.State, b.FailureCount, b.FailureThreshold)
		}
		_ = w.Flush()
	}

	fmt.Println()
	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	slices.Sort(names)
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tDETAIL")
	for _, name := range names {
		c := report.Components[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, c.Status, c.Detail)
	}
	_ = w.Flush()
}
