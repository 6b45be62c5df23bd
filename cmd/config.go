package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/waygate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage waygate configuration",
	Long:  `Show the effective configuration and manage the agent key whitelist.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		fmt.Printf("config file: %s\n\n", config.GetConfigPath())

		fmt.Println("[session]")
		fmt.Printf("  max_events_per_sec: %d\n", cfg.Session.MaxEventsPerSec)
		fmt.Printf("  burst_limit:        %d\n", cfg.Session.BurstLimit)
		fmt.Printf("  max_sessions:       %d\n", cfg.Session.MaxSessions)
		fmt.Printf("  backend_timeout_ms: %d\n", cfg.Session.BackendTimeoutMs)

		fmt.Println("\n[capture]")
		fmt.Printf("  min_dmabuf_version: %d\n", cfg.Capture.MinDmabufVersion)

		fmt.Println("\n[server]")
		fmt.Printf("  port:               %d\n", cfg.Server.Port)
		fmt.Printf("  bind_address:       %s\n", cfg.Server.BindAddress)
		fmt.Printf("  max_agents:         %d\n", cfg.Server.MaxAgents)
		fmt.Printf("  ssh_host_key_path:  %s\n", cfg.Server.SSHHostKeyPath)
		fmt.Printf("  ssh_whitelist_only: %v\n", cfg.Server.SSHWhitelistOnly)
		if len(cfg.Server.SSHWhitelist) > 0 {
			fmt.Println("  ssh_whitelist:")
			for _, fp := range cfg.Server.SSHWhitelist {
				fmt.Printf("    - %s\n", fp)
			}
		}

		fmt.Println("\n[logging]")
		fmt.Printf("  file_logging: %v\n", cfg.Logging.FileLogging)
		fmt.Printf("  log_level:    %s\n", cfg.Logging.LogLevel)
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective configuration to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		fmt.Printf("configuration written to %s\n", config.GetConfigPath())
		return nil
	},
}

var configTrustCmd = &cobra.Command{
	Use:   "trust <fingerprint>",
	Short: "Add an agent key fingerprint to the whitelist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.AddSSHKeyToWhitelist(args[0]); err != nil {
			return err
		}
		fmt.Printf("whitelisted %s\n", args[0])
		return nil
	},
}

var configUntrustCmd = &cobra.Command{
	Use:   "untrust <fingerprint>",
	Short: "Remove an agent key fingerprint from the whitelist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.RemoveSSHKeyFromWhitelist(args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	configCmd.AddCommand(configTrustCmd)
	configCmd.AddCommand(configUntrustCmd)
}
