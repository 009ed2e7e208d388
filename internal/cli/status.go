package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/fetchkit/internal/core/domain"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the prefetch task states of a running server",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "server base URL")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Status       string                `json:"status"`
	Dependencies map[string]string     `json:"dependencies"`
	Tasks        []domain.TaskSnapshot `json:"tasks"`
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusAddr+"/health/detailed", nil)
	if err != nil {
		slog.Error("Invalid server address", "error", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("Failed to reach server", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode status", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Status: %s\n", report.Status)
	for name, state := range report.Dependencies {
		fmt.Printf("  %s: %s\n", name, state)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tSTATUS\tELAPSED\tURI\tERROR")
	for _, t := range report.Tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.Status, t.Elapsed, t.URI, t.Error)
	}
	_ = w.Flush()
}
