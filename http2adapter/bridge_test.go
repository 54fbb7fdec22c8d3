//go:build hypersonic_http2

package http2adapter

import (
	"net/http/httptest"
	"testing"

	"github.com/hypersonic-io/hypersonic/httpproto"
	"github.com/stretchr/testify/require"
)

func TestWriteHeadBlock_ParsesStatusAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	head := append([]byte{}, httpproto.StatusLine(201)...)
	head = append(head, "X-Widget: yes\r\n"...)
	head = append(head, "Transfer-Encoding: chunked\r\nConnection: keep-alive\r\n\r\n"...)

	writeHeadBlock(rec, head)

	require.Equal(t, 201, rec.Code)
	require.Equal(t, "yes", rec.Header().Get("X-Widget"))
	require.Empty(t, rec.Header().Get("Transfer-Encoding"))
	require.Empty(t, rec.Header().Get("Connection"))
}

func TestDecodeSingleChunk_RoundTripsEncodeChunk(t *testing.T) {
	encoded := httpproto.EncodeChunk([]byte("hello"))
	payload, ok := decodeSingleChunk(encoded)
	require.True(t, ok)
	require.Equal(t, "hello", string(payload))
}

func TestDecodeSingleChunk_RejectsTruncatedInput(t *testing.T) {
	_, ok := decodeSingleChunk([]byte("5\r\nhe"))
	require.False(t, ok)
}

func TestH2StreamWriter_HeadThenChunkThenFinalClosesDone(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &h2StreamWriter{w: rec, done: make(chan struct{})}

	head := append([]byte{}, httpproto.StatusLine(200)...)
	head = append(head, "Transfer-Encoding: chunked\r\n\r\n"...)
	require.NoError(t, sw.WriteChunk(head))
	require.Equal(t, 200, rec.Code)

	require.NoError(t, sw.WriteChunk(httpproto.EncodeChunk([]byte("payload"))))
	require.Equal(t, "payload", rec.Body.String())

	require.NoError(t, sw.WriteChunk(httpproto.EncodeFinalChunk()))
	select {
	case <-sw.done:
	default:
		t.Fatal("expected done channel to be closed after the final chunk")
	}
}

func TestH2StreamWriter_AbortAfterFinalChunkDoesNotPanic(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &h2StreamWriter{w: rec, done: make(chan struct{})}

	head := append([]byte{}, httpproto.StatusLine(200)...)
	head = append(head, "Transfer-Encoding: chunked\r\n\r\n"...)
	require.NoError(t, sw.WriteChunk(head))
	require.NoError(t, sw.WriteChunk(httpproto.EncodeFinalChunk()))
	require.NotPanics(t, func() {
		require.NoError(t, sw.Abort())
	})
}

func TestH2StreamWriter_AbortUnblocksDone(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &h2StreamWriter{w: rec, done: make(chan struct{})}

	require.NoError(t, sw.Abort())
	select {
	case <-sw.done:
	default:
		t.Fatal("expected done channel to be closed after Abort")
	}
}
