// Package server wires the reactor, the listen socket's accept loop, the
// Completion Pool, and per-connection conn.Connection instances into the
// single running process described by SPEC_FULL.md §5.
package server

import (
	"github.com/hypersonic-io/hypersonic/conn"
	"github.com/hypersonic-io/hypersonic/hlog"
)

// Config holds a Server's tunables. Use the With* options with New rather
// than constructing Config directly: New starts from the documented
// defaults and applies each option in order, so an option that sets a
// zero value keeps it (WithPort(0) binds an OS-assigned port).
type Config struct {
	Port               uint16
	Workers            int
	MaxConnections     int
	MaxHeaderSize      int
	MaxChunkedBody     int
	MaxWSAssembly      int
	KeepaliveTimeoutMs uint32
	BackendName        string
	PollTimeoutMillis  int
	Logger             *hlog.Logger
}

func defaultConfig() Config {
	return Config{
		Port:               8080,
		Workers:            4,
		MaxConnections:     65536,
		MaxHeaderSize:      16 * 1024,
		MaxChunkedBody:     1 << 20,
		MaxWSAssembly:      16 << 20,
		KeepaliveTimeoutMs: 60000,
		PollTimeoutMillis:  100,
	}
}

func (c Config) limits() conn.Limits {
	return conn.Limits{
		MaxHeaderSize:      c.MaxHeaderSize,
		MaxChunkedBody:     c.MaxChunkedBody,
		MaxWSAssembly:      c.MaxWSAssembly,
		KeepAliveTimeoutMs: c.KeepaliveTimeoutMs,
	}
}

// Option configures a Server at construction time.
type Option func(*Config)

// WithPort sets the TCP listen port (default 8080).
func WithPort(port uint16) Option { return func(c *Config) { c.Port = port } }

// WithWorkers sets the Completion Pool's worker count (default 4).
func WithWorkers(n int) Option { return func(c *Config) { c.Workers = n } }

// WithMaxConnections bounds simultaneously open connections (default
// 65536, matching the reactor/wsregistry fixed table capacity).
func WithMaxConnections(n int) Option { return func(c *Config) { c.MaxConnections = n } }

// WithMaxHeaderSize bounds the request line + header block (default 16 KiB).
func WithMaxHeaderSize(n int) Option { return func(c *Config) { c.MaxHeaderSize = n } }

// WithMaxChunkedBody bounds a request body, chunked or Content-Length
// delimited (default 1 MiB).
func WithMaxChunkedBody(n int) Option { return func(c *Config) { c.MaxChunkedBody = n } }

// WithMaxWSAssembly bounds a reassembled fragmented WebSocket message
// (default 16 MiB).
func WithMaxWSAssembly(n int) Option { return func(c *Config) { c.MaxWSAssembly = n } }

// WithKeepaliveTimeoutMs sets the idle keep-alive timeout in milliseconds
// (default 60000). ListenAndServe runs a periodic idle sweep (driven by
// conn.Connection.IdleSince) that closes any connection that has gone this
// long since its last readiness event; a zero value disables the sweep.
func WithKeepaliveTimeoutMs(ms uint32) Option { return func(c *Config) { c.KeepaliveTimeoutMs = ms } }

// WithBackend selects the reactor readiness backend by name ("epoll",
// "kqueue", "poll", "select", "iocp", or "" for the platform default).
func WithBackend(name string) Option { return func(c *Config) { c.BackendName = name } }

// WithPollTimeoutMillis overrides the reactor's idle poll timeout.
func WithPollTimeoutMillis(ms int) Option { return func(c *Config) { c.PollTimeoutMillis = ms } }

// WithLogger overrides the ambient hlog.Logger (default: hlog.New()).
func WithLogger(log *hlog.Logger) Option { return func(c *Config) { c.Logger = log } }
