package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/bnema/waygate/internal/codec"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
)

// Client talks to a running waygate daemon over the control socket. One
// connection is dialed per call; the socket is local so the cost is
// negligible and every call sees a fresh deadline.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new control socket client
func NewClient() (*Client, error) {
	socketPath, err := GetSocketPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get socket path: %w", err)
	}

	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}, nil
}

// NewClientAt creates a client for an explicit socket path (tests).
func NewClientAt(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Call sends one request and returns the daemon's response.
func (c *Client) Call(req *protocol.Request) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if isConnectionRefused(err) {
			return nil, fmt.Errorf("waygate is not running")
		}
		return nil, fmt.Errorf("failed to connect to waygate: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("failed to close control connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("failed to set connection deadline: %v", err)
	}

	if err := codec.WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp protocol.Response
	if err := codec.ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// Status queries the daemon's status.
func (c *Client) Status() (*protocol.StatusResult, error) {
	resp, err := c.Call(&protocol.Request{Type: protocol.RequestStatus})
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	if resp.Status == nil {
		return nil, fmt.Errorf("malformed status response")
	}
	return resp.Status, nil
}

// IsRunning checks whether a waygate daemon answers on the control socket.
func (c *Client) IsRunning() bool {
	_, err := c.Status()
	return err == nil
}

// isConnectionRefused checks if the error is a connection refused error
func isConnectionRefused(err error) bool {
	if netErr, ok := err.(*net.OpError); ok {
		if netErr.Op == "dial" {
			return true
		}
	}
	return false
}
