package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/nordaqua/fieldsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued work to the farm server",
	Long: `Sync runs one synchronization pass: offline-created records are
submitted parent-first, temporary identifiers are reconciled, and the
operation queue is drained in priority order.`,
	Example: `  fieldsync sync
  fieldsync sync --json`,
	RunE: runSync,
}

// connectWait bounds how long one-shot commands wait for the first
// connectivity probe.
const connectWait = 5 * time.Second

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nSync interrupted, stopping after current item...")
		cancel()
	}()

	scope, err := resolveScope()
	if err != nil {
		return err
	}
	apiClient.SetScope(scope)

	if !apiClient.Connect(ctx, connectWait) {
		return fmt.Errorf("server unreachable; queued work will sync when connectivity returns")
	}

	result, err := apiClient.SyncNow(ctx)
	if errors.Is(err, models.ErrSyncInProgress) {
		return fmt.Errorf("a sync pass is already running")
	}

	if jsonOutput {
		out := map[string]interface{}{
			"success": err == nil,
		}
		if result != nil {
			out["total"] = result.Total
			out["succeeded"] = result.Succeeded
			out["failed"] = result.Failed
			out["duration"] = result.Duration.String()
		}
		if err != nil {
			out["error"] = err.Error()
		}
		printJSON(out)
		return err
	}

	if result != nil {
		fmt.Printf("\nSync summary:\n")
		fmt.Printf("   Items processed: %d\n", result.Total)
		fmt.Printf("   Succeeded: %d\n", result.Succeeded)
		fmt.Printf("   Failed: %d\n", result.Failed)
		fmt.Printf("   Duration: %s\n", result.Duration.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	if result != nil && result.Failed > 0 {
		printWarning("\nSome items failed; run 'fieldsync queue status' for details")
		return nil
	}

	printSuccess("\nSync completed")
	return nil
}

// resolveScope reads the scope for CLI runs from the environment. The
// embedding mobile app sets it from its session instead.
func resolveScope() (models.Scope, error) {
	scope := models.Scope{
		UserID:     os.Getenv("FIELDSYNC_USER_ID"),
		OrgID:      os.Getenv("FIELDSYNC_ORG_ID"),
		SuperAdmin: os.Getenv("FIELDSYNC_SUPER_ADMIN") == "1",
	}
	if scope.IsZero() {
		return scope, fmt.Errorf("scope not set: export FIELDSYNC_USER_ID and FIELDSYNC_ORG_ID")
	}
	return scope, nil
}
