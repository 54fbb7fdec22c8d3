package httpproto

import (
	"net"
	"strconv"
)

// reasonPhrases is the fixed status-code → reason-phrase table from
// SPEC_FULL.md §4.5. Unknown codes fall back to "OK" (matching the
// original's permissive behavior), never to an empty string.
var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	426: "Upgrade Required",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the fixed reason phrase for status, or "OK" if the
// code is not in the table.
func ReasonPhrase(status int) string {
	if p, ok := reasonPhrases[status]; ok {
		return p
	}
	return "OK"
}

// StatusLine renders "HTTP/1.1 <status> <reason>\r\n".
func StatusLine(status int) []byte {
	return []byte("HTTP/1.1 " + strconv.Itoa(status) + " " + ReasonPhrase(status) + "\r\n")
}

// EncodeResponse builds the status line, header block, and body as a
// net.Buffers ready for a single vectored write (socketio.Send), matching
// the "one write, not N" requirement of the Socket I/O component.
// suppressBody must be set for HEAD requests: Content-Length still
// reflects len(body), but body itself is not written.
func EncodeResponse(status int, headers map[string]string, body []byte, keepAlive, suppressBody bool) net.Buffers {
	head := make([]byte, 0, 256)
	head = append(head, StatusLine(status)...)
	for k, v := range headers {
		head = append(head, []byte(k)...)
		head = append(head, ':', ' ')
		head = append(head, []byte(v)...)
		head = append(head, '\r', '\n')
	}
	if _, ok := headers["Content-Length"]; !ok {
		head = append(head, []byte("Content-Length: "+strconv.Itoa(len(body))+"\r\n")...)
	}
	if _, ok := headers["Connection"]; !ok {
		if keepAlive {
			head = append(head, []byte("Connection: keep-alive\r\n")...)
		} else {
			head = append(head, []byte("Connection: close\r\n")...)
		}
	}
	head = append(head, '\r', '\n')

	if suppressBody || len(body) == 0 {
		return net.Buffers{head}
	}
	return net.Buffers{head, body}
}

// Encode404 builds the fixed 404 response used by socketio.Send404 when no
// handler matched (a fast path that bypasses the handler contract
// entirely, per SPEC_FULL.md §4.2).
func Encode404() net.Buffers {
	return EncodeResponse(404, nil, []byte("not found"), false, false)
}
