package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Warm the offline cache for the active scope",
	Long: `Preload fetches every read-through store from the server so all
reference data (machines, protocols, users, sites, nets, stock) is
available offline.`,
	RunE: runPreload,
}

func init() {
	rootCmd.AddCommand(preloadCmd)
}

func runPreload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	scope, err := resolveScope()
	if err != nil {
		return err
	}
	apiClient.SetScope(scope)

	if !apiClient.Connect(ctx, connectWait) {
		return fmt.Errorf("server unreachable; preload needs connectivity")
	}

	summary, err := apiClient.Preload(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		out := map[string]interface{}{
			"duration": summary.Duration.String(),
		}
		stores := make([]map[string]interface{}, 0, len(summary.Results))
		for _, r := range summary.Results {
			entry := map[string]interface{}{
				"store": r.Store,
				"count": r.Count,
			}
			if r.Err != nil {
				entry["error"] = r.Err.Error()
			}
			stores = append(stores, entry)
		}
		out["stores"] = stores
		printJSON(out)
		return nil
	}

	for _, r := range summary.Results {
		if r.Err != nil {
			printError("   %-22s failed: %v", r.Store, r.Err)
		} else {
			fmt.Printf("   %-22s %d records\n", r.Store, r.Count)
		}
	}

	if failed := summary.Failed(); len(failed) > 0 {
		printWarning("\nPreload finished with %d failed store(s)", len(failed))
		return nil
	}
	printSuccess("\nCache warmed for offline use")
	return nil
}
