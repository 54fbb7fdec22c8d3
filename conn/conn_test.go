//go:build unix

package conn

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/hypersonic-io/hypersonic/hlog"
	"github.com/hypersonic-io/hypersonic/reactor"
	"github.com/hypersonic-io/hypersonic/stream"
	"github.com/hypersonic-io/hypersonic/wsframe"
	"github.com/hypersonic-io/hypersonic/wsregistry"
	"github.com/stretchr/testify/require"
)

func defaultLimits() Limits {
	return Limits{MaxHeaderSize: 16 * 1024, MaxChunkedBody: 1 << 20, MaxWSAssembly: 16 << 20, KeepAliveTimeoutMs: 60000}
}

// newLoopbackPair returns a connected TCP pair: dial is a plain net.Conn
// the test drives directly, and serverFD is the raw fd of the peer,
// suitable for handing to conn.New.
func newLoopbackPair(t *testing.T) (dial net.Conn, serverFD int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	dial, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server := <-acceptCh
	require.NotNil(t, server)
	t.Cleanup(func() { server.Close() })

	fd, err := handleOfForTest(server.(syscall.Conn))
	require.NoError(t, err)
	return dial, fd
}

func runReactor(t *testing.T, r *reactor.Reactor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		r.Shutdown()
		<-done
		_ = r.Close()
	})
}

func readAll(t *testing.T, c net.Conn, timeout time.Duration) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		return ""
	}
	return string(buf[:n])
}

func TestConnection_BufferedResponseRoundTrip(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	handler := func(req *Request) Response {
		require.Equal(t, "GET", req.Method)
		require.Equal(t, "/hello", req.Path)
		return Buffered{Status: 200, Body: []byte("hi there")}
	}

	_, err = New(fd, "127.0.0.1:0", r, handler, wsregistry.NewTable(), hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	_, err = dial.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	got := readAll(t, dial, time.Second)
	require.Contains(t, got, "HTTP/1.1 200")
	require.Contains(t, got, "hi there")
}

func TestConnection_HEADSuppressesBody(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	handler := func(req *Request) Response {
		return Buffered{Status: 200, Body: []byte("should not appear")}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, wsregistry.NewTable(), hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	_, err = dial.Write([]byte("HEAD / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	got := readAll(t, dial, time.Second)
	require.Contains(t, got, "HTTP/1.1 200")
	require.NotContains(t, got, "should not appear")
}

func TestConnection_KeepAlivePipelinedRequests(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	var seen []string
	handler := func(req *Request) Response {
		seen = append(seen, req.Path)
		return Buffered{Status: 200, Body: []byte(req.Path)}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, wsregistry.NewTable(), hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	req := "GET /one HTTP/1.1\r\nHost: x\r\n\r\n" + "GET /two HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	_, err = dial.Write([]byte(req))
	require.NoError(t, err)

	got := readAll(t, dial, time.Second)
	require.Contains(t, got, "/one")

	require.Eventually(t, func() bool {
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestConnection_StreamingResponse(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	handler := func(req *Request) Response {
		return StreamBegin{
			Status: 200,
			OnStream: func(s *stream.Stream) {
				_, _ = s.Write([]byte("chunk-one"))
				_ = s.End([]byte("chunk-two"))
			},
		}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, wsregistry.NewTable(), hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	_, err = dial.Write([]byte("GET /stream HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	got := readAll(t, dial, time.Second)
	require.Contains(t, got, "Transfer-Encoding: chunked")
	require.Contains(t, got, "chunk-one")
	require.Contains(t, got, "chunk-two")
	require.Contains(t, got, "0\r\n\r\n")
}

func TestConnection_HTTP2PrefaceWithoutAdapterReturns505(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	handler := func(req *Request) Response {
		t.Fatal("handler should not run for an h2c preface with no adapter linked")
		return Fail{}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, wsregistry.NewTable(), hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	_, err = dial.Write(http2Preface)
	require.NoError(t, err)

	got := readAll(t, dial, time.Second)
	require.Contains(t, got, "HTTP/1.1 505")
}

func TestConnection_WebSocketEchoRoundTrip(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	table := wsregistry.NewTable()
	handler := func(req *Request) Response {
		return WebSocketAccept{
			OnMessage: func(handle *WSHandle, opcode int, data []byte) {
				_ = handle.SendText(data)
			},
		}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, table, hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	key := "dGhlIHNhbXBsZSBub25jZQ=="
	handshake := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = dial.Write([]byte(handshake))
	require.NoError(t, err)

	resp := readAll(t, dial, time.Second)
	require.Contains(t, resp, "101 Switching Protocols")
	require.Contains(t, resp, wsframe.AcceptKey(key))

	frame := wsframe.EncodeFrame(true, wsframe.OpText, []byte("ping"), true)
	_, err = dial.Write(frame)
	require.NoError(t, err)

	require.NoError(t, dial.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 256)
	n, err := dial.Read(buf)
	require.NoError(t, err)
	got, consumed, err := wsframe.DecodeFrame(buf[:n], false)
	require.NoError(t, err)
	require.Equal(t, n, consumed)
	require.Equal(t, "ping", string(got.Payload))
}

func TestConnection_WebSocketVersionMismatchReturns426(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	table := wsregistry.NewTable()
	handler := func(req *Request) Response {
		return WebSocketAccept{}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, table, hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	handshake := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 8\r\n\r\n"
	_, err = dial.Write([]byte(handshake))
	require.NoError(t, err)

	resp := readAll(t, dial, time.Second)
	require.Contains(t, resp, "426 Upgrade Required")
	require.Contains(t, resp, "Sec-WebSocket-Version: 13")
}

func TestConnection_WebSocketBadHandshakeReturns400(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	table := wsregistry.NewTable()
	handler := func(req *Request) Response {
		return WebSocketAccept{}
	}
	_, err = New(fd, "127.0.0.1:0", r, handler, table, hlog.Discard(), defaultLimits(), nil)
	require.NoError(t, err)

	handshake := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = dial.Write([]byte(handshake))
	require.NoError(t, err)

	resp := readAll(t, dial, time.Second)
	require.Contains(t, resp, "400 Bad Request")
}

func TestConnection_OversizedWSMessageClosesWithStatusMessageTooBig(t *testing.T) {
	dial, fd := newLoopbackPair(t)
	defer dial.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	runReactor(t, r)

	table := wsregistry.NewTable()
	handler := func(req *Request) Response {
		return WebSocketAccept{
			OnMessage: func(handle *WSHandle, opcode int, data []byte) {},
		}
	}
	limits := defaultLimits()
	limits.MaxWSAssembly = 4
	_, err = New(fd, "127.0.0.1:0", r, handler, table, hlog.Discard(), limits, nil)
	require.NoError(t, err)

	key := "dGhlIHNhbXBsZSBub25jZQ=="
	handshake := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = dial.Write([]byte(handshake))
	require.NoError(t, err)

	resp := readAll(t, dial, time.Second)
	require.Contains(t, resp, "101 Switching Protocols")

	frame := wsframe.EncodeFrame(true, wsframe.OpText, []byte("way too long for the limit"), true)
	_, err = dial.Write(frame)
	require.NoError(t, err)

	require.NoError(t, dial.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 256)
	n, err := dial.Read(buf)
	require.NoError(t, err)
	closeFrame, _, err := wsframe.DecodeFrame(buf[:n], false)
	require.NoError(t, err)
	require.Equal(t, wsframe.OpClose, closeFrame.Opcode)
	require.GreaterOrEqual(t, len(closeFrame.Payload), 2)
	status := int(closeFrame.Payload[0])<<8 | int(closeFrame.Payload[1])
	require.Equal(t, wsframe.StatusMessageTooBig, status)
}
