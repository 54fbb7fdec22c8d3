//go:build !hypersonic_http2

package http2adapter

import (
	"net/http"

	"github.com/hypersonic-io/hypersonic/conn"
	"github.com/hypersonic-io/hypersonic/hlog"
)

// Bridge is a type-compatible stand-in for the real adapter in bridge.go,
// present so callers that reference http2adapter.Bridge compile either
// way; without the hypersonic_http2 tag it always answers 505, matching
// conn's own default conn.NegotiateHTTP2 behavior.
type Bridge struct {
	handler  conn.Handler
	peerAddr string
	log      *hlog.Logger
}

// NewBridge builds a Bridge that reports HTTP/2 support as unavailable.
func NewBridge(handler conn.Handler, peerAddr string, log *hlog.Logger) *Bridge {
	return &Bridge{handler: handler, peerAddr: peerAddr, log: log}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "HTTP/2 support not compiled in", http.StatusHTTPVersionNotSupported)
}
