//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package netutil

import "syscall"

// controlReuseAddr is a no-op on platforms where golang.org/x/sys/unix
// doesn't expose SO_REUSEPORT; net.ListenConfig already sets SO_REUSEADDR
// equivalents via its own platform defaults on these targets.
func controlReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
