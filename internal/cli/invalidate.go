package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/fetchkit/internal/control"
)

var (
	invalidateScope    string
	invalidateParentID string
	invalidateKeys     []string
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Remove cache entries by parent id or keys and broadcast the invalidation",
	Run:   runInvalidate,
}

func init() {
	invalidateCmd.Flags().StringVar(&invalidateScope, "scope", "", "invalidation scope")
	invalidateCmd.Flags().StringVar(&invalidateParentID, "parent-id", "", "remove every entry under this parent")
	invalidateCmd.Flags().StringSliceVar(&invalidateKeys, "keys", nil, "comma-separated URIs to remove")
	invalidateCmd.MarkFlagsMutuallyExclusive("parent-id", "keys")
	invalidateCmd.MarkFlagsOneRequired("parent-id", "keys")
	rootCmd.AddCommand(invalidateCmd)
}

func runInvalidate(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := control.NewApp(ctx, *cfg, control.Options{})
	if err != nil {
		slog.Error("Failed to initialize fetchkit", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	var removed int
	if invalidateParentID != "" {
		removed, err = app.Invalidation.InvalidateByParentID(ctx, invalidateParentID, invalidateScope)
	} else {
		removed, err = app.Invalidation.InvalidateByKeys(ctx, invalidateKeys, invalidateScope)
	}
	if err != nil {
		slog.Error("Invalidation failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Removed %d entries (scope %q)\n", removed, invalidateScope)
}
