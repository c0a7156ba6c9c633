package daemon

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrNoListenPort is returned when no port in the probed range is free
var ErrNoListenPort = errors.New("no free listen port")

// Listen binds the first free TCP port in [start, start+attempts). Ports
// that are in use are skipped; any other bind failure ends the search.
func Listen(host string, start, attempts int) (net.Listener, int, error) {
	for port := start; port < start+attempts; port++ {
		ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
		if !errors.Is(err, unix.EADDRINUSE) {
			return nil, 0, fmt.Errorf("%w: %v", ErrNoListenPort, err)
		}
	}
	return nil, 0, fmt.Errorf("%w: ports %d-%d in use", ErrNoListenPort, start, start+attempts-1)
}
