package network

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/bnema/waygate/internal/codec"
	"github.com/bnema/waygate/internal/protocol"
)

// AgentClient is the agent side of the SSH transport: it connects to a
// waygate daemon and drives portal sessions over the RPC stream.
type AgentClient struct {
	client  *ssh.Client
	session *ssh.Session
	writer  io.WriteCloser
	reader  io.Reader

	mu        sync.Mutex
	connected bool

	privateKeyPath string
}

// NewAgentClient creates a client authenticating with the given private
// key, defaulting to the usual ~/.ssh keys when empty.
func NewAgentClient(privateKeyPath string) *AgentClient {
	if privateKeyPath == "" {
		homeDir, _ := os.UserHomeDir()
		keyPaths := []string{
			filepath.Join(homeDir, ".ssh", "id_ed25519"),
			filepath.Join(homeDir, ".ssh", "id_rsa"),
		}
		for _, path := range keyPaths {
			if _, err := os.Stat(path); err == nil {
				privateKeyPath = path
				break
			}
		}
	}

	return &AgentClient{
		privateKeyPath: privateKeyPath,
	}
}

// Connect establishes the SSH connection and opens the RPC stream.
func (c *AgentClient) Connect(ctx context.Context, serverAddr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	key, err := os.ReadFile(c.privateKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: "waygate",
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: pin the daemon host key after first connect
		Timeout:         10 * time.Second,
	}

	client, err := ssh.Dial("tcp", serverAddr, config)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to create SSH session: %w", err)
	}

	writer, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	reader, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("failed to start SSH session: %w", err)
	}

	c.client = client
	c.session = session
	c.writer = writer
	c.reader = reader
	c.connected = true

	go c.monitorConnection()

	return nil
}

// Disconnect closes the SSH connection
func (c *AgentClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false

	if c.session != nil {
		c.session.Close()
		c.session = nil
	}

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}

	c.writer = nil
	c.reader = nil

	return nil
}

// IsConnected returns true if connected to the daemon
func (c *AgentClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Call sends one request and waits for its response. Calls are serialized
// so responses match requests on the single stream.
func (c *AgentClient) Call(req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.writer == nil {
		return nil, fmt.Errorf("not connected")
	}

	if err := codec.WriteFrame(c.writer, req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp protocol.Response
	if err := codec.ReadFrame(c.reader, &resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// CreateSession opens a portal session for the given application identity.
func (c *AgentClient) CreateSession(appID string) (string, error) {
	resp, err := c.Call(&protocol.Request{
		Type:          protocol.RequestCreateSession,
		CreateSession: &protocol.CreateSessionParams{AppID: appID},
	})
	if err != nil {
		return "", err
	}
	if resp.Failed() {
		return "", fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	if resp.CreateSession == nil {
		return "", fmt.Errorf("malformed CreateSession response")
	}
	return resp.CreateSession.Handle, nil
}

// SelectDevices requests device classes and returns the effective set.
func (c *AgentClient) SelectDevices(handle string, devices protocol.DeviceSet) (protocol.DeviceSet, error) {
	resp, err := c.Call(&protocol.Request{
		Type:          protocol.RequestSelectDevices,
		SelectDevices: &protocol.SelectDevicesParams{Handle: handle, Devices: devices},
	})
	if err != nil {
		return 0, err
	}
	if resp.Failed() {
		return 0, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	if resp.SelectDevices == nil {
		return 0, fmt.Errorf("malformed SelectDevices response")
	}
	return resp.SelectDevices.Devices, nil
}

// Start activates the session and returns the realized mode.
func (c *AgentClient) Start(handle string) (*protocol.StartResult, error) {
	resp, err := c.Call(&protocol.Request{
		Type:  protocol.RequestStart,
		Start: &protocol.StartParams{Handle: handle},
	})
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	if resp.Start == nil {
		return nil, fmt.Errorf("malformed Start response")
	}
	return resp.Start, nil
}

// NotifyEvent streams one input event into the session.
func (c *AgentClient) NotifyEvent(handle string, event protocol.InputEvent) (*protocol.NotifyEventResult, error) {
	resp, err := c.Call(&protocol.Request{
		Type:        protocol.RequestNotifyEvent,
		NotifyEvent: &protocol.NotifyEventParams{Handle: handle, Event: event},
	})
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	if resp.NotifyEvent == nil {
		return nil, fmt.Errorf("malformed NotifyEvent response")
	}
	return resp.NotifyEvent, nil
}

// CloseSession releases the session. Safe to repeat.
func (c *AgentClient) CloseSession(handle string) error {
	resp, err := c.Call(&protocol.Request{
		Type:         protocol.RequestCloseSession,
		CloseSession: &protocol.CloseSessionParams{Handle: handle},
	})
	if err != nil {
		return err
	}
	if resp.Failed() {
		return fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	return nil
}

// monitorConnection monitors the SSH connection health
func (c *AgentClient) monitorConnection() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if !c.connected || c.client == nil {
			c.mu.Unlock()
			return
		}

		_, _, err := c.client.SendRequest("keepalive@waygate", true, nil)
		if err != nil {
			c.connected = false
			c.mu.Unlock()
			_ = c.Disconnect()
			return
		}
		c.mu.Unlock()
	}
}
