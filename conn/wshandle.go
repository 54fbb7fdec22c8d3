package conn

import "github.com/hypersonic-io/hypersonic/wsframe"

// WSHandle is the handler-facing reference to an open WebSocket
// connection, returned via WebSocketAccept.OnOpen and passed to
// OnMessage/OnClose. It is safe to retain past the callback that received
// it and to use concurrently from any goroutine (e.g. to push frames from
// a background producer, or to register with a wsregistry.Room).
type WSHandle struct {
	conn      *Connection
	onMessage func(handle *WSHandle, opcode int, data []byte)
	onClose   func(handle *WSHandle)
}

// FD returns the connection's file descriptor, usable as a wsregistry.Room
// membership key.
func (h *WSHandle) FD() int { return h.conn.fd }

// PeerAddr returns the remote peer's "ip:port".
func (h *WSHandle) PeerAddr() string { return h.conn.peerAddr }

// SendText sends a single unfragmented text message.
func (h *WSHandle) SendText(data []byte) error {
	return h.conn.SendFrame(wsframe.EncodeFrame(true, wsframe.OpText, data, false))
}

// SendBinary sends a single unfragmented binary message.
func (h *WSHandle) SendBinary(data []byte) error {
	return h.conn.SendFrame(wsframe.EncodeFrame(true, wsframe.OpBinary, data, false))
}

// Close initiates a clean WebSocket close handshake.
func (h *WSHandle) Close() error {
	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	if h.conn.closed {
		return ErrConnectionClosed
	}
	h.conn.sendCloseLocked(wsframe.StatusNormalClosure)
	return nil
}
