package httpproto

import (
	"bytes"
	"strconv"
)

// finalChunkLiteral is the exact terminating-chunk bytes a correct encoder
// must emit, a testable property from SPEC_FULL.md §8.
const finalChunkLiteral = "0\r\n\r\n"

// HexChunkSize renders n as the lowercase hex chunk-size line content used
// in chunked transfer-encoding (without the trailing CRLF).
func HexChunkSize(n int) string {
	return strconv.FormatInt(int64(n), 16)
}

// EncodeChunk wraps data as a single chunk: "<hex-size>\r\n<data>\r\n". An
// empty data slice is invalid input for a non-final chunk; callers end a
// stream with EncodeFinalChunk instead.
func EncodeChunk(data []byte) []byte {
	size := HexChunkSize(len(data))
	out := make([]byte, 0, len(size)+4+len(data)+2)
	out = append(out, size...)
	out = append(out, '\r', '\n')
	out = append(out, data...)
	out = append(out, '\r', '\n')
	return out
}

// EncodeFinalChunk returns the terminating chunk literal, with no
// trailers.
func EncodeFinalChunk() []byte {
	return []byte(finalChunkLiteral)
}

// DecodeChunked decodes a complete chunked body (all chunks through the
// terminator) from the head of buf, non-blocking: it returns ErrIncomplete
// if buf does not yet contain the terminating chunk. maxBodySize bounds
// the total assembled body size, per the configurable cap in
// SPEC_FULL.md §4.5 (default 1 MiB).
func DecodeChunked(buf []byte, maxBodySize int) (body []byte, consumed int, err error) {
	var out []byte
	pos := 0
	for {
		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if lineEnd < 0 {
			return nil, 0, ErrIncomplete
		}
		sizeLine := buf[pos : pos+lineEnd]
		// Strip chunk extensions (";...") per RFC 7230 §4.1.1.
		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size64, convErr := strconv.ParseInt(string(sizeLine), 16, 64)
		if convErr != nil || size64 < 0 {
			return nil, 0, &ErrMalformed{Reason: "invalid chunk size"}
		}
		size := int(size64)
		pos += lineEnd + 2

		if size == 0 {
			// Terminating chunk: consume trailer header lines (if any)
			// one at a time until the final blank line, per RFC 7230
			// §4.1.2. A bare blank line (no trailers) terminates
			// immediately.
			for {
				lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
				if lineEnd < 0 {
					return nil, 0, ErrIncomplete
				}
				if lineEnd == 0 {
					pos += 2
					return out, pos, nil
				}
				pos += lineEnd + 2
			}
		}

		if len(out)+size > maxBodySize {
			return nil, 0, &ErrBodyTooLarge{Limit: maxBodySize}
		}
		if len(buf)-pos < size+2 {
			return nil, 0, ErrIncomplete
		}
		out = append(out, buf[pos:pos+size]...)
		pos += size
		if buf[pos] != '\r' || buf[pos+1] != '\n' {
			return nil, 0, &ErrMalformed{Reason: "missing chunk trailing CRLF"}
		}
		pos += 2
	}
}
