package comm

import (
	"errors"
	"fmt"

	"github.com/cuemby/icecream/pkg/wire"
)

var (
	// ErrUnresolved is returned when a host name has no address
	ErrUnresolved = errors.New("host not resolved")

	// ErrUnsupportedFamily is returned for peers outside IPv4 TCP
	ErrUnsupportedFamily = errors.New("unsupported address family")

	// ErrChannelActive is returned when an identity already has a channel
	ErrChannelActive = errors.New("channel already active for peer")

	// ErrClosed is returned when using a closed channel
	ErrClosed = errors.New("channel closed")
)

// TransportError is a socket level failure: resolving, connecting,
// accepting, reading or writing. It is always recoverable by retrying or by
// building locally.
type TransportError struct {
	Op   string
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a transport failure
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) ||
		errors.Is(err, wire.ErrShortRead) ||
		errors.Is(err, wire.ErrShortWrite)
}
