package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/waygate/internal/config"
	"github.com/bnema/waygate/internal/daemon"
	"github.com/bnema/waygate/internal/logger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the waygate portal daemon",
	Long: `Run the portal daemon: probe host capabilities, attach the best input
backend, and serve portal sessions on the control socket and the SSH
agent listener. Input injection requires write access to /dev/uinput.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		if cfg.Logging.FileLogging {
			if err := logger.EnableFileLogging(logFilePath()); err != nil {
				logger.Warnf("file logging disabled: %v", err)
			}
			defer logger.CloseFileLogging()
		}

		d, err := daemon.New()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.Run(ctx)
	},
}

func logFilePath() string {
	if os.Getuid() == 0 {
		return "/var/log/waygate/waygate.log"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.local/state/waygate/waygate.log"
	}
	return "/tmp/waygate.log"
}
