package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hypersonic-io/hypersonic/conn"
	"github.com/hypersonic-io/hypersonic/future"
	"github.com/hypersonic-io/hypersonic/hlog"
	"github.com/hypersonic-io/hypersonic/reactor"
	"github.com/hypersonic-io/hypersonic/socketio"
	"github.com/hypersonic-io/hypersonic/wsregistry"
)

// ErrAtCapacity is logged (and the offending fd closed) when an accepted
// connection would exceed Config.MaxConnections.
var ErrAtCapacity = errors.New("server: at max connection capacity")

// Server owns the listen socket, the reactor main loop, the Completion
// Pool, and the table of live connections; it is the top-level assembly
// described by SPEC_FULL.md §5.
type Server struct {
	cfg     Config
	handler conn.Handler
	log     *hlog.Logger

	reactor *reactor.Reactor
	pool    *future.Pool
	wsTable *wsregistry.Table

	listenFD int

	mu        sync.Mutex
	conns     map[int]*conn.Connection
	boundPort uint16
}

// Port returns the port the listen socket is actually bound to, resolved
// after ListenAndServe has started (useful when Config.Port was 0).
func (s *Server) Port() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// New builds a Server bound to handler. The reactor, listen socket, and
// Completion Pool are not created until ListenAndServe.
func New(handler conn.Handler, opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = hlog.New()
	}
	return &Server{
		cfg:      cfg,
		handler:  handler,
		log:      cfg.Logger,
		listenFD: -1,
		conns:    make(map[int]*conn.Connection),
	}, nil
}

// SetHandler replaces the request handler. Each connection is served by
// the handler in effect when it was accepted. It exists so a handler
// closure can capture the Server itself and reach its Pool (for
// offloading blocking work) at request time; Pool returns nil until
// ListenAndServe has created it:
//
//	srv, _ := server.New(nil, opts...)
//	srv.SetHandler(myHandler(srv)) // myHandler calls srv.Pool() per request
//	srv.ListenAndServe(ctx)
func (s *Server) SetHandler(h conn.Handler) { s.handler = h }

// Pool returns the Completion Pool, for handlers that need to offload
// blocking work (DB calls, CPU-bound transforms) off the reactor goroutine.
func (s *Server) Pool() *future.Pool { return s.pool }

// WSTable returns the WebSocket registry, for wiring up wsregistry.Room
// broadcast groups from outside a request handler.
func (s *Server) WSTable() *wsregistry.Table { return s.wsTable }

// ConnectionCount returns the number of currently open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe creates the listen socket, the reactor, and the
// Completion Pool, then runs the reactor's wait/classify/dispatch loop
// until ctx is cancelled. It blocks until shutdown completes.
func (s *Server) ListenAndServe(ctx context.Context) error {
	pool, err := future.New(s.cfg.Workers, s.log)
	if err != nil {
		return err
	}
	s.pool = pool
	defer func() { _ = pool.Shutdown(context.Background()) }()

	r, err := reactor.New(
		reactor.WithBackend(s.cfg.BackendName),
		reactor.WithPollTimeoutMillis(s.cfg.PollTimeoutMillis),
		reactor.WithBackendErrorHandler(func(err error) {
			s.log.Err().Err(err).Log("reactor backend error")
		}),
	)
	if err != nil {
		return err
	}
	s.reactor = r
	defer func() { _ = r.Close() }()

	s.wsTable = wsregistry.NewTable()

	listenFD, err := socketio.CreateListenSocket(s.cfg.Port)
	if err != nil {
		return err
	}
	s.listenFD = listenFD
	defer func() { _ = socketio.CloseFD(listenFD) }()

	if port, portErr := socketio.LocalPort(listenFD); portErr == nil {
		s.mu.Lock()
		s.boundPort = port
		s.mu.Unlock()
	}

	if err := r.RegisterFD(listenFD, reactor.EventRead, func(reactor.IOEvents) { s.acceptLoop() }); err != nil {
		return err
	}

	if err := r.RegisterSlot(pool.NotifyFD(), pool.Slot(), reactor.EventRead, func(reactor.IOEvents) { pool.ProcessReady() }); err != nil {
		return err
	}

	if s.cfg.KeepaliveTimeoutMs > 0 {
		sweepCtx, cancelSweep := context.WithCancel(ctx)
		defer cancelSweep()
		go s.runIdleSweep(sweepCtx)
	}

	return r.Run(ctx)
}

// runIdleSweep periodically closes connections that have gone longer than
// Config.KeepaliveTimeoutMs since their last readiness event, enforcing the
// keepalive_timeout_ms config knob from SPEC_FULL.md §6. It runs on its own
// goroutine since conn.Connection.Close is safe to call from outside the
// reactor's dispatch goroutine (the same path server.Shutdown already uses).
func (s *Server) runIdleSweep(ctx context.Context) {
	timeout := time.Duration(s.cfg.KeepaliveTimeoutMs) * time.Millisecond
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepIdleConnections(now, timeout)
		}
	}
}

func (s *Server) sweepIdleConnections(now time.Time, timeout time.Duration) {
	s.mu.Lock()
	idle := make([]*conn.Connection, 0)
	for _, c := range s.conns {
		if c.IdleSince(now) >= timeout {
			idle = append(idle, c)
		}
	}
	s.mu.Unlock()
	for _, c := range idle {
		s.log.Warning().Int("fd", c.FD()).Log("closing idle keepalive connection")
		c.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		fd, peer, err := socketio.Accept(s.listenFD)
		if err != nil {
			if err == socketio.ErrWouldBlock {
				return
			}
			s.log.Err().Err(err).Log("accept failed")
			return
		}
		if s.ConnectionCount() >= s.cfg.MaxConnections {
			_ = socketio.CloseFD(fd)
			s.log.Warning().Int("fd", fd).Err(ErrAtCapacity).Log("rejecting connection")
			continue
		}
		c, err := conn.New(fd, peer, s.reactor, s.handler, s.wsTable, s.log, s.cfg.limits(), s.onConnClose)
		if err != nil {
			s.log.Err().Err(err).Log("failed to register accepted connection")
			_ = socketio.CloseFD(fd)
			continue
		}
		s.mu.Lock()
		s.conns[fd] = c
		s.mu.Unlock()
	}
}

func (s *Server) onConnClose(c *conn.Connection) {
	s.mu.Lock()
	delete(s.conns, c.FD())
	s.mu.Unlock()
}

// Shutdown closes every live connection and the listen socket; it does
// not stop the reactor loop itself (cancel the ctx passed to
// ListenAndServe for that).
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*conn.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
