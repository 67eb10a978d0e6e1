package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roost-sh/roost/internal/reaper"
)

var reapDryRun bool

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one retention sweep and exit",
	Long: `Delete every instance older than the configured maximum age.
With --dry-run the sweep only reports what it would delete.`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().BoolVar(&reapDryRun, "dry-run", false, "report candidates without deleting")
}

func runReap(cmd *cobra.Command, args []string) error {
	manager, err := buildManager(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	r := reaper.New(manager, cfg.Reaper.MaxAgeDays, cfg.Reaper.Interval)

	if reapDryRun {
		candidates, err := r.Preview(ctx)
		if err != nil {
			return fmt.Errorf("preview failed: %w", err)
		}
		if len(candidates) == 0 {
			fmt.Println("No instances on this host")
			return nil
		}
		for _, c := range candidates {
			marker := " "
			if c.WillBeDeleted {
				marker = "x"
			}
			fmt.Printf("[%s] %-32s age %dd, %dd remaining\n", marker, c.Tenant, c.AgeDays, c.DaysRemaining)
		}
		return nil
	}

	result, err := r.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("Checked %d instance(s), deleted %d\n", result.Checked, len(result.Deleted))
	for _, tenant := range result.Deleted {
		fmt.Printf("  deleted %s\n", tenant)
	}
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d instance(s) failed to delete", len(result.Errors))
	}
	return nil
}
