//go:build unix

package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hypersonic-io/hypersonic/conn"
	"github.com/hypersonic-io/hypersonic/hlog"
	"github.com/hypersonic-io/hypersonic/stream"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, handler conn.Handler, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithPort(0), WithLogger(hlog.Discard()), WithWorkers(1)}, opts...)
	srv, err := New(handler, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return srv.Port() != 0 }, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(time.Second):
		}
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", portString(srv.Port())), time.Second)
	require.NoError(t, err)
	return c
}

func portString(p uint16) string {
	return (net.TCPAddr{Port: int(p)}).AddrPort().String()[len("0.0.0.0:"):]
}

func TestServer_HandlesBufferedRequest(t *testing.T) {
	srv := startTestServer(t, func(req *conn.Request) conn.Response {
		return conn.Buffered{Status: 200, Body: []byte("ok:" + req.Path)}
	})

	c := dial(t, srv)
	defer c.Close()

	_, err := c.Write([]byte("GET /widgets HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	got := string(buf[:n])
	require.Contains(t, got, "HTTP/1.1 200")
	require.Contains(t, got, "ok:/widgets")
}

func TestServer_RejectsBeyondMaxConnections(t *testing.T) {
	srv := startTestServer(t, func(req *conn.Request) conn.Response {
		return conn.Buffered{Status: 200, Body: []byte("ok")}
	}, WithMaxConnections(1))

	first := dial(t, srv)
	defer first.Close()

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	second := dial(t, srv)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	buf := make([]byte, 16)
	_, err := second.Read(buf)
	require.Error(t, err)
}

// TestServer_IdleSweepClosesExpiredKeepaliveConnections exercises
// Config.KeepaliveTimeoutMs end-to-end: a connection that issues no
// further requests on a keep-alive response must be closed by the server
// once it has been idle past the configured timeout, per SPEC_FULL.md §6.
func TestServer_IdleSweepClosesExpiredKeepaliveConnections(t *testing.T) {
	srv := startTestServer(t, func(req *conn.Request) conn.Response {
		return conn.Buffered{Status: 200, Body: []byte("ok")}
	}, WithKeepaliveTimeoutMs(50))

	c := dial(t, srv)
	defer c.Close()

	_, err := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "HTTP/1.1 200")

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = c.Read(buf)
	require.Error(t, err)
}

// TestServer_IdleSweepSparesActivelyStreamingConnection guards against the
// idle sweep mistaking an actively-written stream for an idle keep-alive
// connection: a handler that keeps writing chunks well past
// Config.KeepaliveTimeoutMs (with no further readiness events on the fd)
// must not be closed out from under it.
func TestServer_IdleSweepSparesActivelyStreamingConnection(t *testing.T) {
	srv := startTestServer(t, nil, WithKeepaliveTimeoutMs(200))
	srv.SetHandler(func(req *conn.Request) conn.Response {
		return conn.StreamBegin{
			Status: 200,
			OnStream: func(s *stream.Stream) {
				for i := 0; i < 5; i++ {
					_, _ = s.Write([]byte("chunk\n"))
					time.Sleep(30 * time.Millisecond)
				}
				_ = s.End(nil)
			},
		}
	})

	c := dial(t, srv)
	defer c.Close()

	_, err := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	all := make([]byte, 0)
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			all = append(all, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	got := string(all)
	require.Contains(t, got, "HTTP/1.1 200")
	require.Contains(t, got, "chunk")
}

// TestServer_PoolSubmitsAndCompletesWork exercises the Completion Pool
// integration: a handler that needs to do blocking work never blocks the
// reactor goroutine itself. It starts a StreamBegin response, submits
// work to the Pool, and registers a Future.OnDone callback that finishes
// the stream once the Pool signals completion back through the reactor
// (the pool's notify fd, drained on the same goroutine).
func TestServer_PoolSubmitsAndCompletesWork(t *testing.T) {
	srv := startTestServer(t, nil)
	srv.SetHandler(func(req *conn.Request) conn.Response {
		return conn.StreamBegin{
			Status: 200,
			OnStream: func(s *stream.Stream) {
				f, err := srv.Pool().Submit(func() ([]any, error) {
					return []any{"background-result"}, nil
				})
				if err != nil {
					_ = s.End([]byte(err.Error()))
					return
				}
				f.OnDone(func(results []any) {
					_ = s.End([]byte(results[0].(string)))
				})
			},
		}
	})

	c := dial(t, srv)
	defer c.Close()

	_, err := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "background-result")
}
