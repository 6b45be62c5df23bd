// Package daemon wires the portal together: capability probe, backend,
// session manager, and the two control surfaces (unix socket, SSH).
package daemon

import (
	"context"
	"fmt"

	"github.com/bnema/waygate/internal/backend"
	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/config"
	"github.com/bnema/waygate/internal/ipc"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/network"
	"github.com/bnema/waygate/internal/session"
)

// Daemon is a running waygate instance.
type Daemon struct {
	backend   backend.Backend
	manager   *session.Manager
	handler   *Handler
	ipcServer *ipc.SocketServer
	sshServer *network.SSHServer
}

// New probes the host and assembles the daemon. Never fails because of
// missing host capabilities; a host that can do nothing still runs, and
// sessions against it start in mode None.
func New() (*Daemon, error) {
	cfg := config.Get()
	prober := capability.System{}

	caps := prober.Probe()
	logger.Infof("host capabilities: %s", caps)
	logger.Infof("capture tier if started now: %s",
		capture.SelectTier(caps, cfg.Capture.MinDmabufVersion))

	b := backend.CreateBackend(caps)
	manager := session.NewManager(b, prober, session.OptionsFromConfig(cfg))
	handler := NewHandler(manager, prober)

	ipcServer, err := ipc.NewSocketServer(handler)
	if err != nil {
		return nil, fmt.Errorf("failed to create control socket: %w", err)
	}

	return &Daemon{
		backend:   b,
		manager:   manager,
		handler:   handler,
		ipcServer: ipcServer,
		sshServer: network.NewSSHServer(cfg.Server, handler),
	}, nil
}

// Manager exposes the session manager (status and tests).
func (d *Daemon) Manager() *session.Manager { return d.manager }

// Run serves until ctx is cancelled, then tears everything down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	if err := d.sshServer.Start(ctx); err != nil {
		d.ipcServer.Stop()
		return fmt.Errorf("failed to start agent listener: %w", err)
	}

	logger.Info("waygate daemon running")
	<-ctx.Done()

	logger.Info("shutting down")
	d.manager.CloseAll()
	d.sshServer.Stop()
	d.ipcServer.Stop()
	if err := d.backend.Close(); err != nil {
		logger.Warnf("backend close: %v", err)
	}
	return nil
}
