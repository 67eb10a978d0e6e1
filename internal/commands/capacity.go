package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Show host capacity",
	RunE:  runCapacity,
}

func runCapacity(cmd *cobra.Command, args []string) error {
	manager, err := buildManager(cfg)
	if err != nil {
		return err
	}

	cap, err := manager.Capacity(context.Background())
	if err != nil {
		return fmt.Errorf("failed to determine capacity: %w", err)
	}

	fmt.Printf("Host capacity\n")
	fmt.Printf("  Total memory:   %d MB\n", cap.TotalMemoryMB)
	fmt.Printf("  Reserved:       %d MB\n", cap.ReservedMB)
	fmt.Printf("  Per instance:   %d MB\n", cap.PerInstanceMB)
	fmt.Printf("  CPUs:           %d\n", cap.CPUs)
	fmt.Printf("  Max instances:  %d\n", cap.MaxInstances)
	fmt.Printf("  Active:         %d\n", cap.ActiveInstances)
	fmt.Printf("  Can create:     %v\n", cap.CanCreate)
	return nil
}
