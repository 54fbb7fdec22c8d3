package wsregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypersonic-io/hypersonic/httpproto"
)

type fakeSender struct {
	sent [][]byte
	fail bool
}

func (f *fakeSender) SendFrame(frame []byte) error {
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, frame)
	return nil
}

func validHandshakeRequest() *httpproto.Request {
	return &httpproto.Request{
		Method: "GET",
		Header: map[string]string{
			"upgrade":               "websocket",
			"connection":            "Upgrade",
			"sec_websocket_key":     "dGhlIHNhbXBsZSBub25jZQ==",
			"sec_websocket_version": "13",
		},
	}
}

func TestValidateHandshake_Valid(t *testing.T) {
	acceptKey, _, mismatch, err := ValidateHandshake(validHandshakeRequest())
	require.NoError(t, err)
	require.False(t, mismatch)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKey)
}

func TestValidateHandshake_VersionMismatch(t *testing.T) {
	req := validHandshakeRequest()
	req.Header["sec_websocket_version"] = "8"
	_, _, mismatch, err := ValidateHandshake(req)
	require.Error(t, err)
	assert.True(t, mismatch)
}

func TestValidateHandshake_MissingUpgradeHeader(t *testing.T) {
	req := validHandshakeRequest()
	delete(req.Header, "upgrade")
	_, _, mismatch, err := ValidateHandshake(req)
	require.Error(t, err)
	assert.False(t, mismatch)
}

func TestBuildHandshakeResponse_ContainsAcceptKey(t *testing.T) {
	resp := string(BuildHandshakeResponse("abc123", ""))
	assert.Contains(t, resp, "HTTP/1.1 101 Switching Protocols")
	assert.Contains(t, resp, "Sec-WebSocket-Accept: abc123")
}

func TestTable_RegisterLookupClose(t *testing.T) {
	table := NewTable()
	sender := &fakeSender{}
	_, err := table.Register(5, sender)
	require.NoError(t, err)

	c, ok := table.Lookup(5)
	require.True(t, ok)
	assert.True(t, c.Open)

	table.Close(5)
	_, ok = table.Lookup(5)
	assert.False(t, ok)
}

func TestTable_RegisterOutOfRange(t *testing.T) {
	table := NewTable()
	_, err := table.Register(-1, &fakeSender{})
	require.ErrorIs(t, err, ErrFDOutOfRange)
}

func TestRoom_JoinLeaveIdempotent(t *testing.T) {
	table := NewTable()
	room := NewRoom("lobby", table)
	room.Join(1)
	room.Join(1)
	assert.Len(t, room.Members(), 1)
	room.Leave(1)
	room.Leave(1)
	assert.Empty(t, room.Members())
}

func TestRoom_BroadcastSkipsExcludedAndStale(t *testing.T) {
	table := NewTable()
	senderA := &fakeSender{}
	senderB := &fakeSender{}
	_, _ = table.Register(1, senderA)
	_, _ = table.Register(2, senderB)

	room := NewRoom("lobby", table)
	room.Join(1)
	room.Join(2)
	room.Join(3) // never registered: stale

	n := room.Broadcast([]byte("hi"), 1)
	assert.Equal(t, 1, n)
	assert.Empty(t, senderA.sent)
	assert.Len(t, senderB.sent, 1)
	assert.Len(t, room.Members(), 2) // fd 3 pruned as stale
}
