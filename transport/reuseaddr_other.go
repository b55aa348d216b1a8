//go:build !linux

package transport

import "syscall"

// reuseAddrControl is a no-op outside Linux; SO_REUSEPORT semantics
// differ enough across platforms that we only bother wiring it up
// where the fabric is actually deployed.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
