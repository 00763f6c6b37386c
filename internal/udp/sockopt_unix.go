//go:build unix

package udp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl enables SO_REUSEADDR on the socket before bind.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
