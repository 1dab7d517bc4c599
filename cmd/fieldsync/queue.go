package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline operation queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued, in-flight and failed operations",
	RunE:  runQueueStatus,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <operation-id>",
	Short: "Reset a failed operation and request a sync pass",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueRetryCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	scope, err := resolveScope()
	if err != nil {
		return err
	}
	apiClient.SetScope(scope)

	stats, err := apiClient.QueueStats()
	if err != nil {
		return err
	}
	failed, err := apiClient.FailedOps()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"pending": stats.Pending,
			"syncing": stats.Syncing,
			"failed":  stats.Failed,
			"failed_operations": failed,
		})
		return nil
	}

	fmt.Printf("Queue for %s:\n", scope)
	fmt.Printf("   Pending: %d\n", stats.Pending)
	fmt.Printf("   Syncing: %d\n", stats.Syncing)
	fmt.Printf("   Failed:  %d\n", stats.Failed)

	if len(failed) > 0 {
		fmt.Println("\nFailed operations:")
		for _, op := range failed {
			fmt.Printf("   #%d %s %s (%s, %d attempts)\n",
				op.ID, op.Type, op.Endpoint,
				op.Timestamp.Format(time.RFC3339), op.RetryCount)
			if op.LastError != "" {
				printError("      %s", op.LastError)
			}
		}
		printInfo("\nRetry with: fieldsync queue retry <operation-id>")
	}
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid operation id %q", args[0])
	}

	scope, err := resolveScope()
	if err != nil {
		return err
	}
	apiClient.SetScope(scope)

	if err := apiClient.RetryOp(context.Background(), id); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "id": id})
	} else {
		printSuccess("Operation #%d queued for retry", id)
	}
	return nil
}
