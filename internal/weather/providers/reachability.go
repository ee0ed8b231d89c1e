package providers

import (
	"context"
	"net"
	"time"

	"github.com/i474232898/weather-places/internal/weather"
)

const defaultDialTimeout = 2 * time.Second

// DialReachability reports the network as reachable when a TCP connection to
// addr succeeds.
type DialReachability struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

var _ weather.Reachability = (*DialReachability)(nil)

// NewDialReachability checks addr (host:port). A non-positive timeout selects
// two seconds.
func NewDialReachability(addr string, timeout time.Duration) *DialReachability {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &DialReachability{addr: addr, timeout: timeout}
}

func (d *DialReachability) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// AlwaysReachable skips the check.
type AlwaysReachable struct{}

func (AlwaysReachable) Reachable(context.Context) bool { return true }
