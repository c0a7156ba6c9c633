package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/icecream/pkg/protocol"
)

// DefaultWriteTimeout bounds a single Send so a vanished peer cannot block
// the sender forever.
const DefaultWriteTimeout = 10 * time.Second

// Channel is a byte stream bound to the identity of its remote end.
// Messages sent on one channel arrive in order.
type Channel struct {
	conn     net.Conn
	peer     Identity
	registry *Registry

	// WriteTimeout bounds each Send; zero disables the deadline
	WriteTimeout time.Duration

	sendMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel wraps an established connection. When reg is not nil the
// channel is registered under peer and fails with ErrChannelActive if the
// identity already has a channel; the connection is left open in that case.
func NewChannel(conn net.Conn, peer Identity, reg *Registry) (*Channel, error) {
	c := &Channel{
		conn:         conn,
		peer:         peer,
		registry:     reg,
		WriteTimeout: DefaultWriteTimeout,
		closed:       make(chan struct{}),
	}
	if reg != nil {
		if err := reg.register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Accept wraps a connection returned by a listener, taking the identity
// from its remote address.
func Accept(conn net.Conn, reg *Registry) (*Channel, error) {
	peer, err := IdentityFromAddr(conn.RemoteAddr())
	if err != nil {
		return nil, err
	}
	return NewChannel(conn, peer, reg)
}

// Connect resolves host, opens a TCP connection to it and wraps it. Only
// IPv4 peers are supported.
func Connect(ctx context.Context, host string, port int, reg *Registry) (*Channel, error) {
	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Peer: host, Err: err}
	}

	peer := Identity{Name: host, IP: ip, Port: port}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, &TransportError{Op: "connect", Peer: peer.String(), Err: err}
	}

	c, err := NewChannel(conn, peer, reg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFamily, host)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, host)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no IPv4 address", ErrUnsupportedFamily, host)
}

// Peer returns the identity of the remote end
func (c *Channel) Peer() Identity {
	return c.peer
}

// Conn returns the underlying connection
func (c *Channel) Conn() net.Conn {
	return c.conn
}

// Send encodes m onto the channel
func (c *Channel) Send(m protocol.Message) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if err := protocol.Encode(c.conn, m); err != nil {
		if errors.Is(err, protocol.ErrNotSendable) {
			return err
		}
		return &TransportError{Op: "send " + m.Type().String(), Peer: c.peer.String(), Err: err}
	}
	return nil
}

// Receive blocks until one message has been decoded
func (c *Channel) Receive() (protocol.Message, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	_ = c.conn.SetReadDeadline(time.Time{})
	return c.receive()
}

// ReceiveTimeout waits at most d for a message. When nothing arrives in
// time it returns a protocol.Timeout message and no error. A timeout that
// interrupts a partially read message leaves the stream unusable, so
// callers close the channel after one.
func (c *Channel) ReceiveTimeout(d time.Duration) (protocol.Message, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	defer c.conn.SetReadDeadline(time.Time{})

	m, err := c.receive()
	var ne net.Error
	if err != nil && errors.As(err, &ne) && ne.Timeout() {
		return &protocol.Timeout{}, nil
	}
	return m, err
}

func (c *Channel) receive() (protocol.Message, error) {
	m, err := protocol.Decode(c.conn)
	if err != nil {
		if protocol.IsProtocol(err) {
			return nil, err
		}
		return nil, &TransportError{Op: "receive", Peer: c.peer.String(), Err: err}
	}
	return m, nil
}

// Close closes the stream and releases the identity, so a later Lookup
// reports no active channel. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		if c.registry != nil {
			c.registry.release(c)
		}
	})
	return err
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
