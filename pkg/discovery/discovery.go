package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/icecream/pkg/log"
	"golang.org/x/sys/unix"
)

const (
	// DefaultPort is the UDP port schedulers answer probes on
	DefaultPort = 8765

	// DefaultNetName is the network name schedulers announce
	DefaultNetName = "ICECREAM"

	// Probe is the single byte broadcast to find schedulers; replies start
	// with Probe+1
	Probe byte = 42

	// ReplySize is the fixed size of a scheduler reply
	ReplySize = 16

	DefaultWindow       = 4 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// ErrNoScheduler is returned when no matching scheduler replied in time
var ErrNoScheduler = errors.New("no scheduler found")

// Config controls a discovery round
type Config struct {
	NetName      string
	Port         int
	Window       time.Duration
	PollInterval time.Duration

	// Targets replaces the interface broadcast addresses when set
	Targets []*net.UDPAddr
}

func (c Config) withDefaults() Config {
	if c.NetName == "" {
		c.NetName = DefaultNetName
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Result is the location of a discovered scheduler
type Result struct {
	Host    string
	Port    int
	NetName string
}

// Discover broadcasts a probe and returns the first scheduler whose reply
// carries the configured network name. The reply's source address and
// port are the scheduler location.
func Discover(ctx context.Context, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	logger := log.WithComponent("discovery")

	targets := cfg.Targets
	if len(targets) == 0 {
		var err error
		targets, err = BroadcastTargets(cfg.Port)
		if err != nil {
			return Result{}, err
		}
	}
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("%w: no broadcast capable interface", ErrNoScheduler)
	}

	conn, err := listenBroadcast(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	for _, target := range targets {
		logger.Debug().Str("target", target.String()).Msg("Sending scheduler probe")
		if _, err := conn.WriteToUDP([]byte{Probe}, target); err != nil {
			logger.Warn().Err(err).Str("target", target.String()).Msg("Failed to send probe")
		}
	}

	deadline := time.Now().Add(cfg.Window)
	buf := make([]byte, ReplySize)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		wait := time.Now().Add(cfg.PollInterval)
		if wait.After(deadline) {
			wait = deadline
		}
		_ = conn.SetReadDeadline(wait)

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				logger.Debug().Err(err).Msg("Failed to read scheduler reply")
			}
			continue
		}

		name, ok := parseReply(buf[:n])
		if !ok {
			logger.Debug().Str("from", from.String()).Msg("Ignoring malformed reply")
			continue
		}
		if !strings.EqualFold(name, cfg.NetName) {
			logger.Debug().Str("from", from.String()).Str("netname", name).Msg("Ignoring scheduler of another network")
			continue
		}

		res := Result{Host: from.IP.String(), Port: from.Port, NetName: name}
		logger.Info().
			Str("host", res.Host).
			Int("port", res.Port).
			Str("netname", name).
			Msg("Found scheduler")
		return res, nil
	}

	return Result{}, fmt.Errorf("%w: network %q within %s", ErrNoScheduler, cfg.NetName, cfg.Window)
}

func parseReply(b []byte) (string, bool) {
	if len(b) < 2 || b[0] != Probe+1 {
		return "", false
	}
	name := b[1:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), true
}

// encodeReply builds the reply a scheduler sends for netName
func encodeReply(netName string) []byte {
	b := make([]byte, ReplySize)
	b[0] = Probe + 1
	copy(b[1:ReplySize-1], netName)
	return b
}

func listenBroadcast(ctx context.Context) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open discovery socket: %w", err)
	}
	return pc.(*net.UDPConn), nil
}

// BroadcastTargets lists the broadcast address of every IPv4 interface that
// is up, not loopback, not point to point and broadcast capable.
func BroadcastTargets(port int) ([]*net.UDPAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var targets []*net.UDPAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagPointToPoint != 0 ||
			iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := broadcastAddr(ipnet); bcast != nil {
				targets = append(targets, &net.UDPAddr{IP: bcast, Port: port})
			}
		}
	}
	return targets, nil
}

func broadcastAddr(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || ip.IsLoopback() || len(n.Mask) != net.IPv4len {
		return nil
	}
	out := make(net.IP, net.IPv4len)
	for i := range ip {
		out[i] = ip[i] | ^n.Mask[i]
	}
	return out
}
