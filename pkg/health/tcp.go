package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker verifies a stream endpoint accepts connections. Used for
// the message broker and, with the unix network, the engine daemon's
// socket.
type TCPChecker struct {
	// Address is the endpoint to dial, host:port for tcp or a path
	// for unix sockets.
	Address string

	// Network is the dial network, tcp by default
	Network string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a checker that dials address over tcp
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Network: "tcp",
		Timeout: 5 * time.Second,
	}
}

// Check dials the endpoint and closes the connection again
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{
		Timeout: t.Timeout,
	}

	conn, err := dialer.DialContext(ctx, t.Network, t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s connection to %s successful", t.Network, t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithNetwork sets the dial network, e.g. unix for local sockets
func (t *TCPChecker) WithNetwork(network string) *TCPChecker {
	t.Network = network
	return t
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
