package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/jobrunner/internal/processing/health"
)

var (
	enqueuePriority  string
	enqueueOperation string
	enqueuePayload   string
	enqueueFile      string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [job_id]",
	Short: "Submit a job to a running engine",
	Long: `Submit a job to a running engine. A random id is generated when none
is given. The payload must be valid JSON.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueuePriority, "priority", "p", "medium", "critical, high, medium or low")
	enqueueCmd.Flags().StringVarP(&enqueueOperation, "operation", "o", "", "operation name used for breakers and retries")
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "inline JSON payload")
	enqueueCmd.Flags().StringVar(&enqueueFile, "payload-file", "", "file holding the JSON payload")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	req := health.JobRequest{
		Priority:  enqueuePriority,
		Operation: enqueueOperation,
	}
	if len(args) == 1 {
		req.ID = args[0]
	} else {
		req.ID = uuid.NewString()
	}

	payload := []byte(enqueuePayload)
	if enqueueFile != "" {
		data, err := os.ReadFile(enqueueFile)
		if err != nil {
			slog.Error("Failed to read payload file", "error", err)
			os.Exit(1)
		}
		payload = data
	}
	if len(payload) > 0 {
		if !json.Valid(payload) {
			slog.Error("Payload is not valid JSON")
			os.Exit(1)
		}
		req.Payload = payload
	}

	var resp map[string]string
	client := newAPIClient(cfg.Server.Port)
	if err := client.do(context.Background(), http.MethodPost, "/jobs", req, &resp, http.StatusAccepted); err != nil {
		slog.Error("Failed to enqueue job", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Enqueued %s (%s)\n", resp["id"], resp["priority"])
}
