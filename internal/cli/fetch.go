package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/fetchkit/internal/control"
	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/task"
)

var (
	fetchParentID  string
	fetchPermanent bool
	fetchOutput    string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [uri]",
	Short: "Fetch a resource through the cache and write it to a file or stdout",
	Args:  cobra.ExactArgs(1),
	Run:   runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchParentID, "parent-id", "", "group the cached entry under this parent")
	fetchCmd.Flags().BoolVar(&fetchPermanent, "permanent", false, "exclude the entry from TTL pruning")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "write the body to this file instead of stdout")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) {
	uri := args[0]
	cfg := loadConfig(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, *cfg, control.Options{})
	if err != nil {
		slog.Error("Failed to initialize fetchkit", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	var result domain.ResourceResult
	t, err := task.NewBuilder().
		Named("cli-fetch").
		Run(func(ctx context.Context, rc *task.RunContext) error {
			res, err := app.Fetcher.GetBytes(ctx, uri, domain.FetchOptions{
				ParentID:  fetchParentID,
				Permanent: fetchPermanent,
			})
			if err != nil {
				return err
			}
			result = res
			return nil
		}).
		Build(ctx)
	if err != nil {
		slog.Error("Failed to build fetch task", "error", err)
		os.Exit(1)
	}

	if _, err := t.Run(ctx); err != nil {
		slog.Error("Fetch failed", "uri", uri, "error", err)
		os.Exit(1)
	}
	ev, _ := t.LastEvent()
	slog.Info("Fetched resource", "uri", uri, "origin", result.Origin,
		"content_type", result.ContentType, "bytes", len(result.Data), "elapsed", ev.Elapsed)

	if fetchOutput == "" {
		_, _ = os.Stdout.Write(result.Data)
		return
	}
	if err := os.WriteFile(fetchOutput, result.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", fetchOutput, err)
		os.Exit(1)
	}
}
