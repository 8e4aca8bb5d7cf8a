package hub

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrPortInUse reports a listen address that is already bound; the CLI
// maps it to its own exit code.
var ErrPortInUse = errors.New("listen address already in use")

// Listen opens the hub's TCP listener, translating the bind conflict
// into ErrPortInUse.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrPortInUse, addr)
		}
		return nil, err
	}
	return ln, nil
}
