package comm

import (
	"fmt"
	"net"
	"strconv"
)

// Identity is the remote end of a channel
type Identity struct {
	// Name is the symbolic host name used to reach the peer, or the
	// address text for accepted connections
	Name string
	IP   net.IP
	Port int
}

// IdentityFromAddr derives an identity from the address of an accepted
// connection.
func IdentityFromAddr(addr net.Addr) (Identity, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s address %q", ErrUnsupportedFamily, addr.Network(), addr.String())
	}
	return Identity{Name: tcp.IP.String(), IP: tcp.IP, Port: tcp.Port}, nil
}

// Key identifies the endpoint in a Registry
func (id Identity) Key() string {
	return net.JoinHostPort(id.IP.String(), strconv.Itoa(id.Port))
}

// Family returns 4 or 6, or 0 when the address is unset
func (id Identity) Family() int {
	switch {
	case id.IP.To4() != nil:
		return 4
	case id.IP.To16() != nil:
		return 6
	default:
		return 0
	}
}

// SameHost reports whether both identities share address family and
// address. Ports are ignored, so a peer that reconnects from a new port is
// still the same host.
func (id Identity) SameHost(other Identity) bool {
	if id.Family() == 0 || id.Family() != other.Family() {
		return false
	}
	return id.IP.Equal(other.IP)
}

func (id Identity) String() string {
	if id.Name != "" && id.Name != id.IP.String() {
		return fmt.Sprintf("%s(%s)", id.Name, id.Key())
	}
	return id.Key()
}
