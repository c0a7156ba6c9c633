package discovery

import (
	"context"
	"net"
	"os"
	"strconv"
)

// SchedulerEnv names an explicit scheduler, as "host" or "host:port"
const SchedulerEnv = "USE_SCHEDULER"

// Locator finds the scheduler: a configured host is returned as is,
// otherwise a broadcast discovery round runs.
type Locator struct {
	Host   string
	Port   int
	Config Config
}

// NewLocator returns a locator for host, falling back to the USE_SCHEDULER
// environment variable and then to broadcast discovery.
func NewLocator(host string, port int, cfg Config) *Locator {
	if host == "" {
		host = os.Getenv(SchedulerEnv)
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			host, port = h, n
		}
	}
	return &Locator{Host: host, Port: port, Config: cfg}
}

// Locate returns the scheduler location
func (l *Locator) Locate(ctx context.Context) (Result, error) {
	if l.Host != "" {
		port := l.Port
		if port == 0 {
			port = DefaultPort
		}
		return Result{Host: l.Host, Port: port, NetName: l.Config.NetName}, nil
	}
	return Discover(ctx, l.Config)
}
