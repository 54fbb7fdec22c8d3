// Package wsregistry implements the WebSocket Registry component: a
// fixed-capacity fd-indexed table of open WebSocket connections, the
// handshake upgrade validator, and named Rooms for broadcast fan-out.
package wsregistry

import (
	"errors"
	"strings"
	"sync"

	"github.com/hypersonic-io/hypersonic/httpproto"
	"github.com/hypersonic-io/hypersonic/wsframe"
)

// maxConnections mirrors the reactor package's fixed fd table capacity
// (65536), matching SPEC_FULL.md §3's arena-indexed table redesign.
const maxConnections = 65536

// ErrFDOutOfRange is returned when a table operation receives an fd
// outside [0, maxConnections).
var ErrFDOutOfRange = errors.New("wsregistry: fd out of range")

// Sender is satisfied by whatever writes bytes to a connection's socket;
// conn.Connection implements it. Kept minimal so this package does not
// import conn (which imports wsregistry), avoiding an import cycle.
type Sender interface {
	SendFrame(frame []byte) error
}

// WSConn is one open, registered WebSocket connection.
type WSConn struct {
	FD     int
	Sender Sender
	Open   bool
}

// Table is the fixed-capacity, fd-indexed registry of open WebSocket
// connections, grounded on the same direct-array-indexing idiom as
// reactor's epoll/kqueue backends (eventloop/poller_linux.go's
// fds [maxFDs]fdInfo).
type Table struct {
	mu    sync.RWMutex
	conns [maxConnections]*WSConn
}

// NewTable returns an empty Table.
func NewTable() *Table { return &Table{} }

// Register adds fd to the table.
func (t *Table) Register(fd int, sender Sender) (*WSConn, error) {
	if fd < 0 || fd >= maxConnections {
		return nil, ErrFDOutOfRange
	}
	c := &WSConn{FD: fd, Sender: sender, Open: true}
	t.mu.Lock()
	t.conns[fd] = c
	t.mu.Unlock()
	return c, nil
}

// Lookup returns the WSConn registered for fd, if any.
func (t *Table) Lookup(fd int) (*WSConn, bool) {
	if fd < 0 || fd >= maxConnections {
		return nil, false
	}
	t.mu.RLock()
	c := t.conns[fd]
	t.mu.RUnlock()
	return c, c != nil
}

// Close removes fd from the table, marking it no longer open.
func (t *Table) Close(fd int) {
	if fd < 0 || fd >= maxConnections {
		return
	}
	t.mu.Lock()
	if c := t.conns[fd]; c != nil {
		c.Open = false
	}
	t.conns[fd] = nil
	t.mu.Unlock()
}

// SendText sends a single unfragmented text frame to fd.
func (t *Table) SendText(fd int, data []byte) error {
	c, ok := t.Lookup(fd)
	if !ok || !c.Open {
		return nil
	}
	return c.Sender.SendFrame(wsframe.EncodeFrame(true, wsframe.OpText, data, false))
}

// SendBinary sends a single unfragmented binary frame to fd.
func (t *Table) SendBinary(fd int, data []byte) error {
	c, ok := t.Lookup(fd)
	if !ok || !c.Open {
		return nil
	}
	return c.Sender.SendFrame(wsframe.EncodeFrame(true, wsframe.OpBinary, data, false))
}

// ValidateHandshake checks an upgrade request against RFC 6455 §4.2.1 and
// returns the computed Sec-WebSocket-Accept value and the negotiated
// sub-protocol (empty if none requested). A method other than GET is
// rejected, as the RFC requires.
func ValidateHandshake(req *httpproto.Request) (acceptKey, subProtocol string, versionMismatch bool, err error) {
	if req.Method != "GET" {
		return "", "", false, errors.New("wsregistry: handshake must use GET")
	}
	if !strings.EqualFold(req.Header["upgrade"], "websocket") {
		return "", "", false, errors.New("wsregistry: missing Upgrade: websocket header")
	}
	if !headerTokenContains(req.Header["connection"], "upgrade") {
		return "", "", false, errors.New("wsregistry: missing Connection: Upgrade header")
	}
	key := req.Header["sec_websocket_key"]
	if len(key) == 0 {
		return "", "", false, errors.New("wsregistry: missing Sec-WebSocket-Key")
	}
	if req.Header["sec_websocket_version"] != "13" {
		return "", "", true, errors.New("wsregistry: unsupported Sec-WebSocket-Version")
	}
	return wsframe.AcceptKey(key), req.Header["sec_websocket_protocol"], false, nil
}

func headerTokenContains(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// BuildHandshakeResponse renders the 101 Switching Protocols response.
func BuildHandshakeResponse(acceptKey, subProtocol string) []byte {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey + "\r\n"
	if subProtocol != "" {
		resp += "Sec-WebSocket-Protocol: " + subProtocol + "\r\n"
	}
	resp += "\r\n"
	return []byte(resp)
}
