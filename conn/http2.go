package conn

// NegotiateHTTP2 is the hook the connection FSM calls once a client's raw
// connection preface identifies it as HTTP/2 instead of HTTP/1.1 (spec.md
// §4.7 — Hypersonic terminates plaintext h2c rather than negotiating ALPN
// inside a TLS layer it doesn't own). The default below reports the
// component as compiled out. Building with the hypersonic_http2 tag links
// http2adapter, whose init() replaces this var with one that calls
// HandoffFD and bridges the fd to golang.org/x/net/http2.
//
// A successful implementation takes ownership of the connection via
// HandoffFD before returning nil; it must not return nil without doing so.
var NegotiateHTTP2 func(c *Connection) error = negotiateHTTP2Unavailable

func negotiateHTTP2Unavailable(c *Connection) error { return ErrHTTP2Unavailable }
