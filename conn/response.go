package conn

import "github.com/hypersonic-io/hypersonic/stream"

// Response is the closed sum type a Handler returns, matching the
// REDESIGN FLAGS guidance that the handler contract be an explicit typed
// interface rather than name-dispatched or reflection-based.
type Response interface{ isResponse() }

// Buffered is a complete, already-known-length response.
type Buffered struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

func (Buffered) isResponse() {}

// StreamBegin starts a chunked response; OnStream is invoked once the
// status line and headers have been written, with a *stream.Stream the
// handler drives incrementally.
type StreamBegin struct {
	Status   int
	Headers  map[string]string
	OnStream func(*stream.Stream)
}

func (StreamBegin) isResponse() {}

// WebSocketAccept accepts a validated upgrade request; OnOpen is invoked
// once the 101 response has been written and the connection has
// transitioned into the WebSocket protocol.
type WebSocketAccept struct {
	SubProtocol string
	OnOpen      func(*WSHandle)
	OnMessage   func(handle *WSHandle, opcode int, data []byte)
	OnClose     func(handle *WSHandle)
}

func (WebSocketAccept) isResponse() {}

// Fail rejects the request outright; Kind classifies the failure for
// logging (matching the HandlerFailure error kind from SPEC_FULL.md §7).
type Fail struct {
	Kind    string
	Message string
}

func (Fail) isResponse() {}

// Handler is the callback contract invoked once per parsed request.
type Handler func(*Request) Response
