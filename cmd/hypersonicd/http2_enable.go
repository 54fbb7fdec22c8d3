//go:build hypersonic_http2

package main

// Importing http2adapter for its init() side effect links the real HTTP/2
// bridge into conn.NegotiateHTTP2; without the hypersonic_http2 build tag
// this file is excluded and the default (HTTP/2 compiled out) stands.
import _ "github.com/hypersonic-io/hypersonic/http2adapter"
