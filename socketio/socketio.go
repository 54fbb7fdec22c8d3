// Package socketio implements the Socket I/O component: creating the
// listen socket, accepting connections, and non-blocking recv/send over
// raw file descriptors (rather than net.Conn), since the reactor's
// readiness contract operates on fds directly.
package socketio

import (
	"net"

	"github.com/hypersonic-io/hypersonic/httpproto"
)

// Send writes bufs to fd as a single vectored write where the platform
// supports it (Writev on Unix), falling back to sequential writes
// otherwise. It returns the total bytes written.
func Send(fd int, bufs net.Buffers) (int, error) {
	return send(fd, bufs)
}

// Send404 writes the fixed 404 response used when no handler matched,
// bypassing the handler contract entirely, per SPEC_FULL.md §4.2.
func Send404(fd int) error {
	_, err := Send(fd, httpproto.Encode404())
	return err
}
