// Package probe implements the TCP reachability check for the monitored
// game server.
package probe

import (
	"context"
	"net"
	"time"

	"github.com/breeze-rmm/gatewatch/internal/logging"
)

var log = logging.L("probe")

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = 5 * time.Second

// TCP reports whether a TCP connection to an address can be opened.
type TCP struct {
	Timeout time.Duration
}

// NewTCP returns a TCP prober. A non-positive timeout uses DefaultTimeout.
func NewTCP(timeout time.Duration) *TCP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCP{Timeout: timeout}
}

// Probe dials address (host:port) and closes the connection immediately.
// Any failure, including timeout, refusal, DNS errors and a cancelled
// context, is reported as unreachable.
func (p *TCP) Probe(ctx context.Context, address string) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := net.Dialer{Timeout: timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		log.Debug("probe failed", "address", address, "durationMs", time.Since(start).Milliseconds(), logging.KeyError, err)
		return false
	}
	conn.Close()
	log.Debug("probe succeeded", "address", address, "durationMs", time.Since(start).Milliseconds())
	return true
}
