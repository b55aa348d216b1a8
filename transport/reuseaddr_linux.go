//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR and SO_REUSEPORT on the listening
// socket before bind, so a controller that crashes and restarts can
// rebind its request/command ports immediately instead of waiting out
// TIME_WAIT. Grounded on the teacher's go:build linux socket-option
// stanzas.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
