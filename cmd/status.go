package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/waygate/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the waygate daemon",
	Long:  `Query the running daemon over the control socket: backend, capture tier, and live session count.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.NewClient()
		if err != nil {
			return fmt.Errorf("failed to create control client: %w", err)
		}

		status, err := client.Status()
		if err != nil {
			fmt.Println("waygate daemon is not running")
			return nil
		}

		fmt.Println("waygate daemon is running")
		fmt.Printf("  backend:       %s\n", status.Backend)
		fmt.Printf("  capture tier:  %s\n", status.CaptureTier)
		fmt.Printf("  input ready:   %v\n", status.InputReady)
		fmt.Printf("  sessions:      %d/%d\n", status.Sessions, status.MaxSessions)
		return nil
	},
}
