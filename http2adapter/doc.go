// Package http2adapter is the optional HTTP/2 Adapter from SPEC_FULL.md
// §4.7. It is only functional when built with the hypersonic_http2 tag
// (bridge.go); without the tag (stub.go) importing this package still
// compiles, but conn.NegotiateHTTP2 is left at its default, which reports
// ErrHTTP2Unavailable and the FSM answers with a 505.
//
// Importing this package for its init() side effect (wiring
// conn.NegotiateHTTP2) is the intended usage, e.g. from a build-tagged file
// in cmd/hypersonicd:
//
//	//go:build hypersonic_http2
//
//	package main
//
//	import _ "github.com/hypersonic-io/hypersonic/http2adapter"
package http2adapter
