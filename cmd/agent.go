package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/waygate/internal/network"
	"github.com/bnema/waygate/internal/protocol"
)

var (
	agentKeyPath string
	agentDevices string
)

var agentCmd = &cobra.Command{
	Use:   "agent <host:port>",
	Short: "Connect to a remote waygate daemon and negotiate a session",
	Long: `Connect to a waygate daemon over SSH, open a portal session with the
requested device classes, and report the mode the session actually
realized. The daemon must have this machine's key fingerprint
whitelisted (see "waygate config trust").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := parseDeviceList(agentDevices)
		if err != nil {
			return err
		}

		client := network.NewAgentClient(agentKeyPath)
		if err := client.Connect(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer func() { _ = client.Disconnect() }()

		handle, err := client.CreateSession("sh.bnema.waygate.agent")
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		defer func() { _ = client.CloseSession(handle) }()

		effective, err := client.SelectDevices(handle, devices)
		if err != nil {
			return fmt.Errorf("failed to select devices: %w", err)
		}
		if effective != devices {
			fmt.Printf("requested %s, daemon granted %s\n", devices, effective)
		}

		result, err := client.Start(handle)
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}

		fmt.Printf("session active\n")
		fmt.Printf("  handle:  %s\n", handle)
		fmt.Printf("  mode:    %s\n", result.Mode)
		if result.CaptureTier != "" {
			fmt.Printf("  capture: %s\n", result.CaptureTier)
		}
		if result.DegradedReason != "" {
			fmt.Printf("  note:    %s\n", result.DegradedReason)
		}
		return nil
	},
}

// parseDeviceList turns "pointer,keyboard" into a DeviceSet.
func parseDeviceList(list string) (protocol.DeviceSet, error) {
	var set protocol.DeviceSet
	for _, name := range strings.Split(list, ",") {
		switch strings.TrimSpace(name) {
		case "keyboard":
			set = set.With(protocol.DeviceKeyboard)
		case "pointer":
			set = set.With(protocol.DevicePointer)
		case "touchscreen":
			set = set.With(protocol.DeviceTouchscreen)
		case "":
		default:
			return 0, fmt.Errorf("unknown device class %q", name)
		}
	}
	if set.Empty() {
		return 0, fmt.Errorf("no device classes requested")
	}
	return set, nil
}

func init() {
	agentCmd.Flags().StringVar(&agentKeyPath, "key", "", "path to SSH private key (default: ~/.ssh/id_ed25519 or id_rsa)")
	agentCmd.Flags().StringVar(&agentDevices, "devices", "pointer,keyboard", "comma-separated device classes to request")
}
