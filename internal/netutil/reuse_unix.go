//go:build linux || darwin || freebsd || netbsd || openbsd

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddr sets SO_REUSEADDR, and SO_REUSEPORT where the platform
// exposes it, on the listening socket before bind — the Go equivalent of
// the C reference's setsockopt pair in server_socket. Best-effort: an
// error setting SO_REUSEPORT is tolerated (some kernels/containers
// restrict it), mirroring the reference's candidate-skipping loop over
// getaddrinfo results.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			ctrlErr = err
			return
		}
		// Best-effort only; SO_REUSEPORT is not available on all
		// platforms/kernel configs and its absence is not fatal.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
