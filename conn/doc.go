// Package conn implements the per-connection finite state machine that
// sits between the reactor's readiness events and a user Handler: it owns
// request parsing (via httpproto), WebSocket upgrade and framing (via
// wsframe/wsregistry), chunked/streamed responses (via stream), and the
// non-blocking socket I/O (via socketio) that ties them to a file
// descriptor registered with a reactor.Reactor.
package conn
