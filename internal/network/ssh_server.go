// Package network carries the portal RPC surface to remote agents over
// SSH. The agent authenticates with a public key against the configured
// fingerprint whitelist, then streams length-prefixed CBOR request frames
// over the session channel and reads one response frame per request.
package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	gossh "golang.org/x/crypto/ssh"

	"github.com/bnema/waygate/internal/codec"
	"github.com/bnema/waygate/internal/config"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
)

// Handler processes one portal request and produces its response.
type Handler interface {
	Handle(req *protocol.Request) *protocol.Response
}

// SSHServer accepts remote agent connections
type SSHServer struct {
	port        int
	bindAddress string
	hostKeyPath string
	maxAgents   int
	handler     Handler
	sshServer   *ssh.Server

	// Active connections
	mu     sync.Mutex
	agents map[string]*agentConn // sessionID -> agent

	// Lifecycle
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// OnAuthRequest is consulted for keys not on the whitelist. Returns
	// approval; approved keys are persisted to the whitelist.
	OnAuthRequest func(addr, publicKey, fingerprint string) bool

	OnAgentConnected    func(addr, fingerprint string)
	OnAgentDisconnected func(addr string)
}

type agentConn struct {
	session     ssh.Session
	addr        string
	fingerprint string
}

// NewSSHServer creates the agent listener from the server config.
func NewSSHServer(cfg config.ServerConfig, handler Handler) *SSHServer {
	return &SSHServer{
		port:        cfg.Port,
		bindAddress: cfg.BindAddress,
		hostKeyPath: cfg.SSHHostKeyPath,
		maxAgents:   cfg.MaxAgents,
		handler:     handler,
		agents:      make(map[string]*agentConn),
		stop:        make(chan struct{}),
	}
}

// Start begins listening for agent connections
func (s *SSHServer) Start(ctx context.Context) error {
	server, err := wish.NewServer(
		wish.WithAddress(fmt.Sprintf("%s:%d", s.bindAddress, s.port)),
		wish.WithHostKeyPath(s.hostKeyPath),
		wish.WithPublicKeyAuth(s.publicKeyAuth),
		wish.WithMiddleware(
			s.loggingMiddleware(),
			s.sessionHandler(),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create SSH server: %w", err)
	}

	s.sshServer = server

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		logger.Infof("agent listener on %s:%d", s.bindAddress, s.port)
		if err := server.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
			logger.Errorf("SSH server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the SSH server
func (s *SSHServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)

		if s.sshServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.sshServer.Shutdown(ctx)
		}

		s.mu.Lock()
		for _, agent := range s.agents {
			_ = agent.session.Close()
		}
		s.agents = make(map[string]*agentConn)
		s.mu.Unlock()

		s.wg.Wait()
	})
}

// AgentCount returns the number of connected agents.
func (s *SSHServer) AgentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// publicKeyAuth handles SSH public key authentication
func (s *SSHServer) publicKeyAuth(ctx ssh.Context, key ssh.PublicKey) bool {
	var goKey gossh.PublicKey
	if wishKey, ok := key.(gossh.PublicKey); ok {
		goKey = wishKey
	} else {
		parsedKey, err := gossh.ParsePublicKey(key.Marshal())
		if err != nil {
			logger.Errorf("failed to parse public key: %v", err)
			return false
		}
		goKey = parsedKey
	}

	fingerprint := gossh.FingerprintSHA256(goKey)
	addr := ctx.RemoteAddr().String()

	logger.Infof("agent authentication attempt addr=%s user=%s key=%s", addr, ctx.User(), fingerprint)

	if config.IsSSHKeyWhitelisted(fingerprint) {
		logger.Infof("agent key is whitelisted key=%s", fingerprint)
		return true
	}

	cfg := config.Get()
	if !cfg.Server.SSHWhitelistOnly {
		logger.Info("accepting agent key (whitelist-only mode disabled)")
		return true
	}

	// Key not whitelisted, request approval
	if s.OnAuthRequest != nil {
		logger.Infof("requesting approval for agent key=%s addr=%s", fingerprint, addr)
		approved := s.OnAuthRequest(addr, string(gossh.MarshalAuthorizedKey(goKey)), fingerprint)
		if approved {
			if err := config.AddSSHKeyToWhitelist(fingerprint); err != nil {
				logger.Errorf("failed to add key to whitelist: %v", err)
			}
			logger.Infof("agent key approved and whitelisted key=%s addr=%s", fingerprint, addr)
			return true
		}
		logger.Infof("agent key denied key=%s addr=%s", fingerprint, addr)
		return false
	}

	logger.Infof("agent key denied (no auth handler) key=%s addr=%s", fingerprint, addr)
	return false
}

// loggingMiddleware provides custom logging using our internal logger
func (s *SSHServer) loggingMiddleware() wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			logger.Debugf("agent session started: user=%s addr=%s", sess.User(), sess.RemoteAddr())
			h(sess)
			logger.Debugf("agent session ended: addr=%s", sess.RemoteAddr())
		}
	}
}

// sessionHandler serves the portal RPC stream over one agent session
func (s *SSHServer) sessionHandler() wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			// Enforce the agent cap before accepting the stream
			s.mu.Lock()
			if s.maxAgents > 0 && len(s.agents) >= s.maxAgents {
				s.mu.Unlock()
				logger.Infof("rejecting agent - max agents reached addr=%s", sess.RemoteAddr().String())
				fmt.Fprintf(sess, "waygate: maximum number of agents reached\n")
				_ = sess.Exit(1)
				_ = sess.Close()
				return
			}

			addr := sess.RemoteAddr().String()
			var fingerprint string
			if sess.PublicKey() != nil {
				fingerprint = gossh.FingerprintSHA256(sess.PublicKey())
			}

			agent := &agentConn{
				session:     sess,
				addr:        addr,
				fingerprint: fingerprint,
			}
			s.agents[sess.Context().SessionID()] = agent
			s.mu.Unlock()

			if s.OnAgentConnected != nil {
				s.OnAgentConnected(addr, fingerprint)
			}

			defer func() {
				s.mu.Lock()
				delete(s.agents, sess.Context().SessionID())
				s.mu.Unlock()

				if s.OnAgentDisconnected != nil {
					s.OnAgentDisconnected(addr)
				}
			}()

			s.serveRequests(sess)
		}
	}
}

// serveRequests answers request frames until the agent hangs up or the
// server stops. Responses go back in request order; the session core does
// its own per-session serialization, so one slow inject never reorders a
// session's stream.
func (s *SSHServer) serveRequests(sess ssh.Session) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-s.stop:
			_ = sess.Close()
		case <-done:
		}
	}()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		var req protocol.Request
		if err := codec.ReadFrame(sess, &req); err != nil {
			logger.Debugf("agent stream closed addr=%s: %v", sess.RemoteAddr(), err)
			return
		}

		resp := s.handler.Handle(&req)
		if err := codec.WriteFrame(sess, resp); err != nil {
			logger.Errorf("failed to send response to agent: %v", err)
			return
		}
	}
}
