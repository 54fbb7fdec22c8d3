// Command hypersonicd is the ambient demo binary exercising the handler
// contract described in SPEC_FULL.md §0: it wires server.Server to a
// sample conn.Handler implementing a handful of routes covering the
// buffered, streaming and WebSocket Response kinds, plus flags for the
// Config options exposed by server.Option.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hypersonic-io/hypersonic/conn"
	"github.com/hypersonic-io/hypersonic/hlog"
	"github.com/hypersonic-io/hypersonic/server"
	"github.com/hypersonic-io/hypersonic/stream"
)

func main() {
	var (
		port        = flag.Uint("port", 8080, "TCP listen port")
		workers     = flag.Int("workers", 4, "Completion Pool worker count")
		maxConns    = flag.Int("max-connections", 65536, "maximum simultaneously open connections")
		backendName = flag.String("backend", "", "reactor backend override (epoll, kqueue, poll, select, iocp; empty means platform default)")
	)
	flag.Parse()

	log := hlog.New()

	srv, err := server.New(nil,
		server.WithPort(uint16(*port)),
		server.WithWorkers(*workers),
		server.WithMaxConnections(*maxConns),
		server.WithBackend(*backendName),
		server.WithLogger(log),
	)
	if err != nil {
		log.Err().Err(err).Log("failed to build server")
		os.Exit(1)
	}
	srv.SetHandler(demoHandler(srv))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Log("starting hypersonicd")
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Err().Err(err).Log("server exited with error")
		os.Exit(1)
	}
}

// demoHandler routes by path, covering the Buffered, StreamBegin and
// WebSocketAccept Response kinds (no route returns Fail) so the binary
// doubles as a manual smoke test for the connection FSM.
func demoHandler(srv *server.Server) conn.Handler {
	return func(req *conn.Request) conn.Response {
		switch {
		case req.Path == "/" || req.Path == "/hello":
			return conn.Buffered{
				Status:  200,
				Headers: map[string]string{"Content-Type": "text/plain"},
				Body:    []byte("hello from hypersonicd\n"),
			}

		case req.Path == "/stream":
			return conn.StreamBegin{
				Status:  200,
				Headers: map[string]string{"Content-Type": "text/plain"},
				OnStream: func(s *stream.Stream) {
					_, _ = s.Write([]byte("chunk one\n"))
					_ = s.End([]byte("chunk two\n"))
				},
			}

		case req.Path == "/async":
			return conn.StreamBegin{
				Status:  200,
				Headers: map[string]string{"Content-Type": "text/plain"},
				OnStream: func(s *stream.Stream) {
					f, err := srv.Pool().Submit(func() ([]any, error) {
						return []any{"background work done\n"}, nil
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

		case strings.HasPrefix(req.Path, "/ws"):
			return conn.WebSocketAccept{
				OnMessage: func(h *conn.WSHandle, opcode int, data []byte) {
					_ = h.SendText(data)
				},
			}

		default:
			return conn.Buffered{Status: 404, Body: []byte("not found\n")}
		}
	}
}
