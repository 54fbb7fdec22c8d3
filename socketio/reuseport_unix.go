//go:build unix

package socketio

import "golang.org/x/sys/unix"

// setReusePort sets SO_REUSEPORT where the platform defines it, enabling
// multiple reactor processes to share one listen address (SPEC_FULL.md
// §5). It is best-effort: a platform lacking the option still gets a
// working, just non-shared, listen socket.
func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
