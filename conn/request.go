package conn

import "github.com/hypersonic-io/hypersonic/httpproto"

// Request is the parsed request handed to a Handler. It is a plain alias
// of httpproto.Request: parsing is httpproto's concern, conn only adds
// the lifecycle around it.
type Request = httpproto.Request
