package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/config"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe host capabilities and show the selected capture tier",
	Long: `Inspect this host the way the daemon does at session start: GPU buffer
sharing, shared-memory capture, framebuffer access, and the synthetic
input channel. Prints the capture tier a session started now would get.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		caps := capability.System{}.Probe()
		tier := capture.SelectTier(caps, config.Get().Capture.MinDmabufVersion)

		fmt.Println("host capabilities:")
		fmt.Printf("  gpu zero-copy (dmabuf):  %v", caps.Dmabuf)
		if caps.Dmabuf {
			fmt.Printf(" (version %d, minimum %d)", caps.DmabufVersion, config.Get().Capture.MinDmabufVersion)
		}
		fmt.Println()
		fmt.Printf("  shared-memory capture:   %v\n", caps.Shm)
		fmt.Printf("  framebuffer read:        %v\n", caps.Framebuffer)
		fmt.Printf("  synthetic input:         %v\n", caps.SyntheticInput)
		fmt.Println()
		fmt.Printf("selected capture tier: %s\n", tier)
		return nil
	},
}
