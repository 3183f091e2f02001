package health

import (
	"context"
	"net"
	"time"
)

const defaultTCPTimeout = 5 * time.Second

// TCPChecker probes a host:port address by opening and immediately closing
// a TCP connection.
type TCPChecker struct {
	address string
	timeout time.Duration
}

// NewTCPChecker builds a checker for a TCP address. A non-positive timeout
// falls back to the default.
func NewTCPChecker(address string, timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = defaultTCPTimeout
	}
	return &TCPChecker{address: address, timeout: timeout}
}

// Check dials the address and reports whether the connection succeeded.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", t.address)
	if err != nil {
		return probeResult(start, false, "connect "+t.address+": "+err.Error())
	}
	conn.Close()

	return probeResult(start, true, "connected to "+t.address)
}

// Type returns the health check type.
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}
