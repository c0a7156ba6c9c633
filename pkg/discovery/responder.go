package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cuemby/icecream/pkg/log"
	"github.com/rs/zerolog"
)

// Responder answers discovery probes on behalf of a scheduler. It must
// listen on the same port number as the scheduler's TCP listener, since
// clients take the reply's source port as the scheduler port.
type Responder struct {
	conn    *net.UDPConn
	netName string
	logger  zerolog.Logger
}

// ListenResponder opens the probe socket on addr
func ListenResponder(addr, netName string) (*Responder, error) {
	if netName == "" {
		netName = DefaultNetName
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen discovery %s: %w", addr, err)
	}
	return &Responder{
		conn:    conn,
		netName: netName,
		logger:  log.WithComponent("discovery-responder"),
	}, nil
}

// Addr returns the local probe address
func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Serve answers probes until ctx is cancelled or the responder is closed
func (r *Responder) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	reply := encodeReply(r.netName)
	buf := make([]byte, 64)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read probe: %w", err)
		}
		if n != 1 || buf[0] != Probe {
			r.logger.Debug().Str("from", from.String()).Msg("Ignoring unknown datagram")
			continue
		}
		if _, err := r.conn.WriteToUDP(reply, from); err != nil {
			r.logger.Warn().Err(err).Str("to", from.String()).Msg("Failed to answer probe")
			continue
		}
		r.logger.Debug().Str("to", from.String()).Msg("Answered probe")
	}
}

// Close stops the responder
func (r *Responder) Close() error {
	return r.conn.Close()
}
