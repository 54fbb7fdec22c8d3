//go:build hypersonic_http2

package http2adapter

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/http2"

	"github.com/hypersonic-io/hypersonic/conn"
	"github.com/hypersonic-io/hypersonic/hlog"
	"github.com/hypersonic-io/hypersonic/httpproto"
	"github.com/hypersonic-io/hypersonic/stream"
)

func init() {
	conn.NegotiateHTTP2 = negotiate
}

// negotiate takes ownership of c's fd via HandoffFD and continues serving
// it as an HTTP/2 (h2c) connection in its own goroutine, outside the
// reactor's single-threaded dispatch.
func negotiate(c *conn.Connection) error {
	fd, leftover, peerAddr, handler, log := c.HandoffFD()
	nc, err := fdToConn(fd)
	if err != nil {
		return err
	}
	go serve(&prefixConn{Conn: nc, leftover: leftover}, handler, peerAddr, log)
	return nil
}

func fdToConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "hypersonic-h2c")
	nc, err := net.FileConn(f)
	closeErr := f.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return nc, nil
}

// prefixConn replays bytes conn.Connection had already buffered off the
// wire (up to and including the client preface) before continuing to read
// from the underlying fd, since http2.Server.ServeConn expects to read the
// preface itself.
type prefixConn struct {
	net.Conn
	leftover []byte
}

func (p *prefixConn) Read(b []byte) (int, error) {
	if len(p.leftover) > 0 {
		n := copy(b, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

func serve(nc net.Conn, handler conn.Handler, peerAddr string, log *hlog.Logger) {
	defer func() { _ = nc.Close() }()
	srv := &http2.Server{}
	srv.ServeConn(nc, &http2.ServeConnOpts{
		Handler: NewBridge(handler, peerAddr, log),
	})
}

// Bridge adapts a conn.Handler onto http.Handler, the shape
// http2.Server.ServeConn expects, mapping Buffered/StreamBegin/Fail the
// same way conn.Connection's dispatchLocked does for HTTP/1.1 -- minus the
// chunk-encoded wire framing, which HTTP/2's own DATA frames make
// unnecessary. WebSocketAccept has no HTTP/2 equivalent (RFC 8441 Extended
// CONNECT is out of scope) and is answered with 426 Upgrade Required.
type Bridge struct {
	handler  conn.Handler
	peerAddr string
	log      *hlog.Logger
}

// NewBridge builds a Bridge serving handler for connections whose peer
// address is peerAddr (the one recorded by conn.Connection.HandoffFD, not
// necessarily equal to an individual request's r.RemoteAddr).
func NewBridge(handler conn.Handler, peerAddr string, log *hlog.Logger) *Bridge {
	return &Bridge{handler: handler, peerAddr: peerAddr, log: log}
}

// ServeHTTP recovers a panic raised by the handler itself the same way
// conn.Connection.dispatchLocked does for HTTP/1.1: nothing has been
// written to w yet, so a 500 is safe to send. A panic raised by a callback
// the handler triggers after headers are already committed (OnStream) is
// instead recovered inside serveStream.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := b.translateRequest(r)
	var resp conn.Response
	if panicVal := recoverCall(func() { resp = b.handler(req) }); panicVal != nil {
		b.log.Err().Any("panic", panicVal).Log("handler panicked")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch res := resp.(type) {
	case conn.Buffered:
		writeBuffered(w, res, req.Method == "HEAD")
	case conn.StreamBegin:
		serveStream(w, res, b.log)
	case conn.WebSocketAccept:
		http.Error(w, "WebSocket upgrade is not supported over HTTP/2", http.StatusUpgradeRequired)
	case conn.Fail:
		b.log.Warning().Str("kind", res.Kind).Str("message", res.Message).Log("handler failed request")
		http.Error(w, res.Message, http.StatusInternalServerError)
	default:
		http.Error(w, "no response", http.StatusInternalServerError)
	}
}

// recoverCall runs fn, recovering any panic so a misbehaving handler
// callback cannot crash the http2.Server's serving goroutine for this
// stream.
func recoverCall(fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}

func (b *Bridge) translateRequest(r *http.Request) *conn.Request {
	header := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		if len(vs) > 0 {
			header[httpproto.HeaderKey(k)] = vs[0]
		}
	}
	body, _ := io.ReadAll(r.Body)
	peerAddr := r.RemoteAddr
	if peerAddr == "" {
		peerAddr = b.peerAddr
	}
	return &conn.Request{
		Method:    r.Method,
		Path:      r.URL.RequestURI(),
		Version:   "HTTP/2.0",
		Header:    header,
		Body:      body,
		KeepAlive: true,
		FD:        -1,
		PeerAddr:  peerAddr,
	}
}

func writeBuffered(w http.ResponseWriter, res conn.Buffered, suppressBody bool) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(res.Status)
	if !suppressBody {
		_, _ = w.Write(res.Body)
	}
}

// serveStream gives the handler a real *stream.Stream, the same type it
// would get over HTTP/1.1, backed by an h2StreamWriter that unwraps the
// chunk-encoded bytes Stream produces and re-emits them as plain HTTP/2
// response body writes, translating the first Headers() call into
// w.WriteHeader and the terminating chunk into stream completion. A panic
// from OnStream is recovered and mapped onto Stream.Abort, matching
// conn.Connection.dispatchLocked's handling of the same callback over
// HTTP/1.1.
func serveStream(w http.ResponseWriter, res conn.StreamBegin, log *hlog.Logger) {
	flusher, _ := w.(http.Flusher)
	done := make(chan struct{})
	sw := &h2StreamWriter{w: w, flusher: flusher, done: done}
	s := stream.New(sw)
	if err := s.Headers(res.Status, res.Headers); err != nil {
		log.Warning().Err(err).Log("failed to write stream headers")
	}
	if res.OnStream != nil {
		if panicVal := recoverCall(func() { res.OnStream(s) }); panicVal != nil {
			log.Err().Any("panic", panicVal).Log("OnStream panicked")
			_ = s.Abort(500, "internal error")
		}
	}
	<-done
}

type h2StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	done    chan struct{}
}

// Abort implements stream.Writer. If headers were already sent, there is no
// way to reset the HTTP/2 stream through the http.ResponseWriter API, so
// this just unblocks serveStream's <-done by closing it if not already
// closed; the connection's own teardown happens when ServeHTTP returns.
func (h *h2StreamWriter) Abort() error {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	return nil
}

var finalChunk = httpproto.EncodeFinalChunk()

// WriteChunk is called at most once with the raw head block (Stream.Headers
// guards against re-entry via its own state machine), any number of times
// with an encoded data chunk, and at most once with the final chunk
// (Stream.End's own state machine likewise guards against a second call),
// so done is only ever closed once.
func (h *h2StreamWriter) WriteChunk(data []byte) error {
	if !h.started {
		h.started = true
		writeHeadBlock(h.w, data)
		return nil
	}
	if bytes.Equal(data, finalChunk) {
		close(h.done)
		return nil
	}
	payload, ok := decodeSingleChunk(data)
	if !ok {
		return nil
	}
	if _, err := h.w.Write(payload); err != nil {
		return err
	}
	if h.flusher != nil {
		h.flusher.Flush()
	}
	return nil
}

// hopByHopHeaders lists the connection-specific header fields Stream.Headers
// writes for the HTTP/1.1 wire format that RFC 7540 §8.1.2.2 forbids on an
// HTTP/2 response.
var hopByHopHeaders = []string{"Transfer-Encoding", "Connection"}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// writeHeadBlock parses the raw status-line + header block Stream.Headers
// produces and replays it through the http.ResponseWriter API, dropping
// any hop-by-hop header fields HTTP/2 forbids.
func writeHeadBlock(w http.ResponseWriter, head []byte) {
	lines := strings.Split(strings.TrimSuffix(string(head), "\r\n"), "\r\n")
	if len(lines) == 0 {
		return
	}
	status := 200
	fields := strings.SplitN(lines[0], " ", 3)
	if len(fields) >= 2 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			status = n
		}
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ": ", 2)
		if len(kv) != 2 {
			continue
		}
		if isHopByHop(kv[0]) {
			continue
		}
		w.Header().Set(kv[0], kv[1])
	}
	w.WriteHeader(status)
}

// decodeSingleChunk unwraps one httpproto.EncodeChunk-framed chunk
// ("<hex-size>\r\n<data>\r\n") back to its raw payload.
func decodeSingleChunk(data []byte) ([]byte, bool) {
	idx := bytes.Index(data, []byte("\r\n"))
	if idx < 0 {
		return nil, false
	}
	size, err := strconv.ParseInt(string(data[:idx]), 16, 64)
	if err != nil || size < 0 {
		return nil, false
	}
	start := idx + 2
	end := start + int(size)
	if end > len(data) {
		return nil, false
	}
	return data[start:end], true
}
