//go:build windows

package udp

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// reuseAddrControl enables SO_REUSEADDR on the socket before bind.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
