package conn

import "errors"

// ErrHTTP2Unavailable is returned (and logged) when a connection sends
// the plaintext HTTP/2 connection preface but the http2adapter package was
// not compiled in (SPEC_FULL.md §4.7). The FSM falls back to responding
// with 505 HTTP Version Not Supported.
var ErrHTTP2Unavailable = errors.New("conn: HTTP/2 support not compiled in")

// ErrConnectionClosed is returned by Connection methods invoked after the
// connection has reached StateClosed.
var ErrConnectionClosed = errors.New("conn: connection closed")

// ErrBackpressure names the condition of a write queued rather than sent
// immediately because the socket send buffer is full. WriteChunk and
// SendFrame do not return it: both queue whatever the socket does not take
// and return nil.
var ErrBackpressure = errors.New("conn: write queued due to backpressure")
