package conn

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hypersonic-io/hypersonic/hlog"
	"github.com/hypersonic-io/hypersonic/httpproto"
	"github.com/hypersonic-io/hypersonic/reactor"
	"github.com/hypersonic-io/hypersonic/socketio"
	"github.com/hypersonic-io/hypersonic/stream"
	"github.com/hypersonic-io/hypersonic/wsframe"
	"github.com/hypersonic-io/hypersonic/wsregistry"
)

// Limits bounds the per-connection resource consumption a Connection will
// allow, per SPEC_FULL.md §5 (the server package applies its configured
// defaults; conn just enforces whatever it is given).
type Limits struct {
	MaxHeaderSize      int
	MaxChunkedBody     int
	MaxWSAssembly      int
	KeepAliveTimeoutMs uint32
}

const readChunkSize = 64 * 1024

// Connection is the per-fd state machine. Its readiness callback
// (onEvents) is only ever invoked serially by the owning reactor.Reactor,
// so the mutex here guards against the one other path that touches a
// Connection concurrently: a Room broadcast or another goroutine calling
// SendFrame/WriteChunk from outside the reactor goroutine.
type Connection struct {
	fd       int
	peerAddr string

	reactor *reactor.Reactor
	handler Handler
	wsTable *wsregistry.Table
	log     *hlog.Logger
	limits  Limits

	mu    sync.Mutex
	state State

	recvBuf      []byte
	sentContinue bool
	wantWritable bool
	closed       bool

	lastActivity time.Time

	writeQueue             net.Buffers
	keepAliveAfterResponse bool

	activeStream *stream.Stream
	wsAssembler  *wsframe.Assembler
	wsHandle     *WSHandle

	onClose func(*Connection)
}

// New wires a freshly accept(2)-ed fd into the reactor as a Connection,
// registering it for readability immediately.
func New(fd int, peerAddr string, r *reactor.Reactor, handler Handler, wsTable *wsregistry.Table, log *hlog.Logger, limits Limits, onClose func(*Connection)) (*Connection, error) {
	c := &Connection{
		fd:           fd,
		peerAddr:     peerAddr,
		reactor:      r,
		handler:      handler,
		wsTable:      wsTable,
		log:          log,
		limits:       limits,
		state:        StateReadReq,
		onClose:      onClose,
		lastActivity: time.Now(),
	}
	if err := r.RegisterFD(fd, reactor.EventRead, c.onEvents); err != nil {
		return nil, err
	}
	return c, nil
}

// FD returns the underlying file descriptor.
func (c *Connection) FD() int { return c.fd }

// PeerAddr returns the "ip:port" of the remote peer.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// State returns the connection's current FSM state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IdleSince reports how long it has been since the last readiness event
// was dispatched for this connection, used by the server's idle sweep to
// enforce Limits.KeepAliveTimeoutMs (SPEC_FULL.md §5/§6).
func (c *Connection) IdleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

func (c *Connection) onEvents(events reactor.IOEvents) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastActivity = time.Now()
	if events&(reactor.EventError|reactor.EventHangup) != 0 {
		c.closeLocked()
		c.mu.Unlock()
		return
	}
	if events&reactor.EventRead != 0 {
		c.handleReadableLocked()
		if c.closed {
			c.mu.Unlock()
			return
		}
	}
	if events&reactor.EventWrite != 0 {
		c.flushLocked()
	}
	c.mu.Unlock()
}

func (c *Connection) handleReadableLocked() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := socketio.Recv(c.fd, buf)
		if n > 0 {
			c.recvBuf = append(c.recvBuf, buf[:n]...)
		}
		if err != nil {
			if err == socketio.ErrWouldBlock {
				break
			}
			c.closeLocked()
			return
		}
		if n == 0 {
			c.closeLocked()
			return
		}
		if n < len(buf) {
			break
		}
	}
	c.drainBufferedLocked()
}

// drainBufferedLocked repeatedly extracts whatever complete protocol
// units are already buffered: HTTP requests while in StateReadReq
// (supporting pipelining), or WebSocket frames while in StateWSOpen.
func (c *Connection) drainBufferedLocked() {
	for {
		switch c.state {
		case StateReadReq:
			if !c.tryParseRequestLocked() {
				return
			}
		case StateWSOpen:
			if !c.tryParseFrameLocked() {
				return
			}
		default:
			return
		}
		if c.closed {
			return
		}
	}
}

// http2Preface is the raw connection preface a plaintext (h2c) HTTP/2
// client sends instead of a request line, per spec.md §4.7.
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

func (c *Connection) tryParseRequestLocked() bool {
	if looksLikeHTTP2Preface(c.recvBuf) {
		if len(c.recvBuf) < len(http2Preface) {
			return false
		}
		return c.negotiateHTTP2Locked()
	}
	req, consumed, err := httpproto.ParseRequest(c.recvBuf, c.limits.MaxHeaderSize, c.limits.MaxChunkedBody)
	if err == httpproto.ErrIncomplete {
		c.maybeSendContinueLocked()
		return false
	}
	if err != nil {
		c.log.Err().Err(err).Log("malformed request")
		c.state = StateWriteResp
		c.keepAliveAfterResponse = false
		c.queueBufferedLocked(httpproto.EncodeResponse(400, nil, []byte("Bad Request"), false, false))
		c.flushLocked()
		return false
	}
	c.recvBuf = c.recvBuf[consumed:]
	c.sentContinue = false
	req.FD = c.fd
	req.PeerAddr = c.peerAddr
	c.state = StateHandling
	c.dispatchLocked(req)
	return true
}

// maybeSendContinueLocked implements RFC 7231 §5.1.1 Expect: 100-continue:
// once the header block is visibly complete but the body has not yet
// arrived, the server sends an interim 100 response before the client
// bothers uploading the body.
func (c *Connection) maybeSendContinueLocked() {
	if c.sentContinue {
		return
	}
	idx := bytes.Index(c.recvBuf, []byte("\r\n\r\n"))
	if idx < 0 {
		return
	}
	head := strings.ToLower(string(c.recvBuf[:idx]))
	if !strings.Contains(head, "expect:") || !strings.Contains(head, "100-continue") {
		return
	}
	c.sentContinue = true
	c.rawWriteLocked(net.Buffers{[]byte("HTTP/1.1 100 Continue\r\n\r\n")})
}

// looksLikeHTTP2Preface reports whether buf is consistent with the start of
// the HTTP/2 connection preface, even if buf is shorter than the full
// preface (so the caller keeps buffering instead of mis-parsing a partial
// preface as a malformed HTTP/1.1 request line). No valid HTTP/1.1 method
// shares "PRI"'s first two bytes, so this never misfires against a real
// request once at least two bytes have arrived.
func looksLikeHTTP2Preface(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if len(buf) >= len(http2Preface) {
		return bytes.Equal(buf[:len(http2Preface)], http2Preface)
	}
	return bytes.HasPrefix(http2Preface, buf)
}

// negotiateHTTP2Locked hands the connection to NegotiateHTTP2 once the full
// preface has arrived. Success means ownership of the fd has already moved
// to the HTTP/2 adapter (via HandoffFD, called from within NegotiateHTTP2);
// failure (the hypersonic_http2 build tag is absent) writes the
// spec-mandated 505 and closes per the ordinary non-keepalive response path.
func (c *Connection) negotiateHTTP2Locked() bool {
	c.mu.Unlock()
	err := NegotiateHTTP2(c)
	c.mu.Lock()
	if c.closed {
		return false
	}
	if err != nil {
		c.log.Warning().Err(err).Log("http/2 negotiation unavailable")
		c.keepAliveAfterResponse = false
		c.state = StateWriteResp
		c.queueBufferedLocked(httpproto.EncodeResponse(505, nil, []byte("HTTP Version Not Supported"), false, false))
		c.flushLocked()
	}
	return false
}

// HandoffFD detaches fd from the reactor and from this Connection's
// bookkeeping so a protocol adapter (the HTTP/2 bridge) can take over its
// I/O directly; the fd itself is left open and becomes the caller's
// responsibility, including eventually closing it. Any bytes already read
// past the point the caller recognized its own preface/marker are returned
// as leftover, since the adapter's own reader must see them first.
func (c *Connection) HandoffFD() (fd int, leftover []byte, peerAddr string, handler Handler, log *hlog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.reactor.UnregisterFD(c.fd)
	leftover = append([]byte(nil), c.recvBuf...)
	fd, peerAddr, handler, log = c.fd, c.peerAddr, c.handler, c.log
	c.recvBuf = nil
	c.closed = true
	c.state = StateClosed
	if c.onClose != nil {
		c.onClose(c)
	}
	return
}

// dispatchLocked invokes the Handler and wires its Response into the
// connection. The Handler (and any callback it triggers synchronously,
// e.g. StreamBegin.OnStream) runs with the connection's mutex released,
// mirroring reactor.Reactor.Run's own unlock-before-callback discipline so
// a handler is free to call back into WriteChunk/SendFrame without
// deadlocking.
//
// Any panic raised by the Handler itself, or by a callback it triggers
// synchronously, is recovered here rather than propagating into the
// reactor's single dispatch goroutine, per SPEC_FULL.md §7's HandlerFailure
// kind: a panic before any response has been chosen becomes a 500; a panic
// after headers/handshake bytes are already committed instead aborts the
// stream (or closes the WebSocket) and drops the connection.
func (c *Connection) dispatchLocked(req *httpproto.Request) {
	c.mu.Unlock()
	var resp Response
	panicVal := recoverCall(func() { resp = c.handler(req) })
	c.mu.Lock()
	if c.closed {
		return
	}
	if panicVal != nil {
		c.log.Err().Any("panic", panicVal).Log("handler panicked")
		c.keepAliveAfterResponse = false
		c.state = StateWriteResp
		c.queueBufferedLocked(httpproto.EncodeResponse(500, nil, []byte("internal error"), false, false))
		c.flushLocked()
		return
	}

	suppressBody := req.Method == "HEAD"
	switch r := resp.(type) {
	case Buffered:
		c.keepAliveAfterResponse = req.KeepAlive
		c.queueBufferedLocked(httpproto.EncodeResponse(r.Status, r.Headers, r.Body, req.KeepAlive, suppressBody))
		c.state = StateWriteResp
		c.flushLocked()

	case StreamBegin:
		c.keepAliveAfterResponse = req.KeepAlive
		c.state = StateStreaming
		s := stream.New((*streamWriter)(c))
		c.activeStream = s
		if err := s.Headers(r.Status, r.Headers); err != nil {
			c.log.Warning().Err(err).Log("failed to write stream headers")
		}
		if r.OnStream != nil {
			c.mu.Unlock()
			panicVal := recoverCall(func() { r.OnStream(s) })
			c.mu.Lock()
			if c.closed {
				return
			}
			if panicVal != nil {
				c.log.Err().Any("panic", panicVal).Log("OnStream panicked")
				_ = s.Abort(500, "internal error")
			}
		}

	case WebSocketAccept:
		acceptKey, subProto, versionMismatch, err := wsregistry.ValidateHandshake(req)
		if versionMismatch {
			c.keepAliveAfterResponse = false
			c.state = StateWriteResp
			c.queueBufferedLocked(httpproto.EncodeResponse(426, map[string]string{"Sec-WebSocket-Version": "13"}, []byte("Unsupported WebSocket Version"), false, false))
			c.flushLocked()
			return
		}
		if err != nil {
			c.keepAliveAfterResponse = false
			c.state = StateWriteResp
			c.queueBufferedLocked(httpproto.EncodeResponse(400, nil, []byte("Bad WebSocket Upgrade"), false, false))
			c.flushLocked()
			return
		}
		if r.SubProtocol != "" {
			subProto = r.SubProtocol
		}
		handle := &WSHandle{conn: c, onMessage: r.OnMessage, onClose: r.OnClose}
		if _, regErr := c.wsTable.Register(c.fd, c); regErr != nil {
			c.keepAliveAfterResponse = false
			c.state = StateWriteResp
			c.queueBufferedLocked(httpproto.EncodeResponse(500, nil, []byte("registry full"), false, false))
			c.flushLocked()
			return
		}
		c.wsHandle = handle
		c.wsAssembler = wsframe.NewAssembler(c.limits.MaxWSAssembly)
		c.state = StateWSHandshake
		c.rawWriteLocked(net.Buffers{wsregistry.BuildHandshakeResponse(acceptKey, subProto)})
		if r.OnOpen != nil {
			c.mu.Unlock()
			panicVal := recoverCall(func() { r.OnOpen(handle) })
			c.mu.Lock()
			if c.closed {
				return
			}
			if panicVal != nil {
				c.log.Err().Any("panic", panicVal).Log("OnOpen panicked")
				c.keepAliveAfterResponse = false
				c.closeLocked()
				return
			}
		}

	case Fail:
		c.log.Warning().Str("kind", r.Kind).Str("message", r.Message).Log("handler failed request")
		c.keepAliveAfterResponse = false
		c.state = StateWriteResp
		c.queueBufferedLocked(httpproto.EncodeResponse(500, nil, []byte(r.Message), false, false))
		c.flushLocked()

	default:
		c.keepAliveAfterResponse = false
		c.state = StateWriteResp
		c.queueBufferedLocked(httpproto.EncodeResponse(500, nil, []byte("no response"), false, false))
		c.flushLocked()
	}
}

func (c *Connection) queueBufferedLocked(bufs net.Buffers) {
	c.writeQueue = append(c.writeQueue, bufs...)
}

func (c *Connection) rawWriteLocked(bufs net.Buffers) {
	c.writeQueue = append(c.writeQueue, bufs...)
	c.flushLocked()
}

// flushLocked attempts to drain the write queue; if the socket can't take
// it all right now it arms EventWrite and returns, letting the reactor
// call flushLocked again (via onEvents) once space frees up.
func (c *Connection) flushLocked() {
	c.lastActivity = time.Now()
	if len(c.writeQueue) == 0 {
		c.disarmWritableLocked()
		c.afterFlushLocked()
		return
	}
	n, err := socketio.Send(c.fd, c.writeQueue)
	if err != nil && err != socketio.ErrWouldBlock {
		c.closeLocked()
		return
	}
	c.writeQueue = advanceBuffers(c.writeQueue, n)
	if len(c.writeQueue) > 0 {
		c.armWritableLocked()
		return
	}
	c.disarmWritableLocked()
	c.afterFlushLocked()
}

// advanceBuffers drops the first n written bytes from bufs, splitting a
// partially-written leading buffer rather than assuming socketio.Send
// mutated it in place.
func advanceBuffers(bufs net.Buffers, n int) net.Buffers {
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}

func (c *Connection) armWritableLocked() {
	if c.wantWritable {
		return
	}
	c.wantWritable = true
	_ = c.reactor.ModifyFD(c.fd, reactor.EventRead|reactor.EventWrite)
}

func (c *Connection) disarmWritableLocked() {
	if !c.wantWritable {
		return
	}
	c.wantWritable = false
	_ = c.reactor.ModifyFD(c.fd, reactor.EventRead)
}

// afterFlushLocked runs once the write queue has fully drained, deciding
// what the connection does next based on the state the just-flushed
// writes belonged to.
func (c *Connection) afterFlushLocked() {
	switch c.state {
	case StateWriteResp:
		if c.keepAliveAfterResponse {
			c.state = StateReadReq
			c.drainBufferedLocked()
		} else {
			c.closeLocked()
		}
	case StateWriteTail:
		if c.keepAliveAfterResponse {
			c.state = StateReadReq
			c.activeStream = nil
			c.drainBufferedLocked()
		} else {
			c.closeLocked()
		}
	case StateWSHandshake:
		c.state = StateWSOpen
	case StateWSClosing:
		c.closeLocked()
	}
}

func (c *Connection) tryParseFrameLocked() bool {
	f, consumed, err := wsframe.DecodeFrame(c.recvBuf, true)
	if err == wsframe.ErrIncomplete {
		return false
	}
	if err != nil {
		c.sendCloseLocked(wsframe.StatusProtocolError)
		return false
	}
	c.recvBuf = c.recvBuf[consumed:]

	switch f.Opcode {
	case wsframe.OpClose:
		c.sendCloseLocked(wsframe.StatusNormalClosure)
		return false
	case wsframe.OpPing:
		c.rawWriteLocked(net.Buffers{wsframe.EncodeFrame(true, wsframe.OpPong, f.Payload, false)})
		return true
	case wsframe.OpPong:
		return true
	}

	payload, opcode, ok, err := c.wsAssembler.Feed(f)
	if err != nil {
		var tooBig *wsframe.MessageTooBig
		if errors.As(err, &tooBig) {
			c.sendCloseLocked(wsframe.StatusMessageTooBig)
		} else {
			c.sendCloseLocked(wsframe.StatusProtocolError)
		}
		return false
	}
	if ok && c.wsHandle != nil && c.wsHandle.onMessage != nil {
		handle, onMessage := c.wsHandle, c.wsHandle.onMessage
		c.mu.Unlock()
		onMessage(handle, int(opcode), payload)
		c.mu.Lock()
		if c.closed {
			return false
		}
	}
	return true
}

func (c *Connection) sendCloseLocked(status uint16) {
	if c.state == StateWSClosing {
		return
	}
	payload := []byte{byte(status >> 8), byte(status)}
	c.wsTable.Close(c.fd)
	handle := c.wsHandle
	c.state = StateWSClosing
	c.rawWriteLocked(net.Buffers{wsframe.EncodeFrame(true, wsframe.OpClose, payload, false)})
	if handle != nil && handle.onClose != nil {
		c.mu.Unlock()
		handle.onClose(handle)
		c.mu.Lock()
	}
}

// SendFrame implements wsregistry.Sender, allowing a Room broadcast, or
// another goroutine holding a *WSHandle, to push a frame from outside the
// reactor's own read/dispatch path.
func (c *Connection) SendFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (c.state != StateWSOpen && c.state != StateWSHandshake) {
		return ErrConnectionClosed
	}
	c.rawWriteLocked(net.Buffers{frame})
	return nil
}

// WriteChunk implements stream.Writer. The Stream package pre-formats
// every write (the header block, each chunk, the terminating chunk), so
// this is a raw, unconditional write; the only thing conn needs to detect
// is the terminating chunk, so a keep-alive connection knows to return to
// StateReadReq once it has been flushed.
func (c *Connection) WriteChunk(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if bytes.Equal(data, httpproto.EncodeFinalChunk()) {
		c.state = StateWriteTail
	}
	c.rawWriteLocked(net.Buffers{data})
	return nil
}

// streamWriter adapts *Connection to stream.Writer under a distinct named
// type so the method set doesn't leak Connection's other exported surface
// into stream's view of it.
type streamWriter Connection

func (w *streamWriter) WriteChunk(data []byte) error {
	return (*Connection)(w).WriteChunk(data)
}

func (w *streamWriter) Abort() error {
	return (*Connection)(w).abortStream()
}

// abortStream force-closes the connection without attempting a clean
// keep-alive handoff, implementing the "close" half of stream.Stream.Abort.
func (c *Connection) abortStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepAliveAfterResponse = false
	c.closeLocked()
	return nil
}

// recoverCall runs fn, recovering any panic so a misbehaving handler
// callback cannot take down the reactor goroutine serving every other
// connection. It returns the recovered value, or nil if fn returned
// normally.
func recoverCall(fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed
	if c.wsHandle != nil {
		c.wsTable.Close(c.fd)
	}
	_ = c.reactor.UnregisterFD(c.fd)
	_ = socketio.CloseFD(c.fd)
	if c.onClose != nil {
		c.onClose(c)
	}
}

// Close tears the connection down from outside the reactor callback path,
// e.g. during server shutdown.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}
