package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/waygate/internal/config"
	"github.com/bnema/waygate/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string

	rootCmd = &cobra.Command{
		Use:   "waygate",
		Short: "Waygate - remote desktop portal for Wayland",
		Long: `Waygate lets an authorized remote-control agent view and control a local
Wayland session. The daemon negotiates per-session device authorization,
picks the best available screen-capture tier for the host, and injects
rate-limited input through the uinput kernel module.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return err
			}
			logger.SetLevel(config.Get().Logging.LogLevel)
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
}
