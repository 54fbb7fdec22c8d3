package wsframe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptKey_RFC6455Vector(t *testing.T) {
	// The canonical example from RFC 6455 §1.3.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func TestEncodeDecodeFrame_UnmaskedRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	wire := EncodeFrame(true, OpText, payload, false)

	frame, n, err := DecodeFrame(wire, false)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, payload, frame.Payload)
	assert.Equal(t, OpText, frame.Opcode)
	assert.True(t, frame.FIN)
}

func TestEncodeDecodeFrame_MaskedRoundTrip(t *testing.T) {
	old := newMaskKey
	defer func() { newMaskKey = old }()
	newMaskKey = func() [4]byte { return [4]byte{0xAA, 0xBB, 0xCC, 0xDD} }

	payload := []byte("masked payload")
	wire := EncodeFrame(true, OpBinary, payload, true)

	frame, n, err := DecodeFrame(wire, true)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, payload, frame.Payload)
}

func TestDecodeFrame_RequireMaskedRejectsUnmasked(t *testing.T) {
	wire := EncodeFrame(true, OpText, []byte("x"), false)
	_, _, err := DecodeFrame(wire, true)
	var pv *ProtocolViolation
	require.ErrorAs(t, err, &pv)
}

func TestDecodeFrame_Incomplete(t *testing.T) {
	wire := EncodeFrame(true, OpText, []byte("hello"), false)
	_, _, err := DecodeFrame(wire[:len(wire)-2], false)
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeFrame_LargePayloadUses16BitLength(t *testing.T) {
	payload := make([]byte, 200)
	wire := EncodeFrame(true, OpBinary, payload, false)
	assert.Equal(t, byte(126), wire[1]&0x7f)

	frame, n, err := DecodeFrame(wire, false)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Len(t, frame.Payload, 200)
}

func TestDecodeFrame_RejectsFragmentedControlFrame(t *testing.T) {
	wire := EncodeFrame(false, OpPing, []byte("x"), false)
	_, _, err := DecodeFrame(wire, false)
	var pv *ProtocolViolation
	require.ErrorAs(t, err, &pv)
}

func TestDecodeFrame_RejectsOversizedControlPayload(t *testing.T) {
	wire := EncodeFrame(true, OpPing, make([]byte, 200), false)
	_, _, err := DecodeFrame(wire, false)
	var pv *ProtocolViolation
	require.ErrorAs(t, err, &pv)
}

func TestAssembler_UnfragmentedMessagePassesThroughImmediately(t *testing.T) {
	a := NewAssembler(1 << 20)
	payload, op, ok, err := a.Feed(&Frame{FIN: true, Opcode: OpText, Payload: []byte("hi")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OpText, op)
	assert.Equal(t, "hi", string(payload))
}

func TestAssembler_ReassemblesFragments(t *testing.T) {
	a := NewAssembler(1 << 20)

	_, _, ok, err := a.Feed(&Frame{FIN: false, Opcode: OpText, Payload: []byte("Hello, ")})
	require.NoError(t, err)
	require.False(t, ok)

	_, _, ok, err = a.Feed(&Frame{FIN: false, Opcode: OpContinuation, Payload: []byte("cruel ")})
	require.NoError(t, err)
	require.False(t, ok)

	payload, op, ok, err := a.Feed(&Frame{FIN: true, Opcode: OpContinuation, Payload: []byte("world!")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OpText, op)
	assert.Equal(t, "Hello, cruel world!", string(payload))
}

func TestAssembler_ControlFrameInterleavedDuringFragmentation(t *testing.T) {
	a := NewAssembler(1 << 20)
	_, _, ok, err := a.Feed(&Frame{FIN: false, Opcode: OpText, Payload: []byte("part1")})
	require.NoError(t, err)
	require.False(t, ok)

	payload, op, ok, err := a.Feed(&Frame{FIN: true, Opcode: OpPing, Payload: []byte("ping")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OpPing, op)
	assert.Equal(t, "ping", string(payload))

	final, finalOp, ok, err := a.Feed(&Frame{FIN: true, Opcode: OpContinuation, Payload: []byte("part2")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OpText, finalOp)
	assert.Equal(t, "part1part2", string(final))
}

func TestAssembler_RejectsOversizedAssembly(t *testing.T) {
	a := NewAssembler(4)
	_, _, _, err := a.Feed(&Frame{FIN: false, Opcode: OpText, Payload: []byte("12345")})
	var tooBig *MessageTooBig
	require.ErrorAs(t, err, &tooBig)
}

func TestAssembler_RejectsOversizedContinuation(t *testing.T) {
	a := NewAssembler(4)
	_, _, ok, err := a.Feed(&Frame{FIN: false, Opcode: OpText, Payload: []byte("ab")})
	require.NoError(t, err)
	require.False(t, ok)

	_, _, _, err = a.Feed(&Frame{FIN: false, Opcode: OpContinuation, Payload: []byte("cde")})
	var tooBig *MessageTooBig
	require.ErrorAs(t, err, &tooBig)
}

func TestAssembler_OversizedAssemblyIsNotAProtocolViolation(t *testing.T) {
	a := NewAssembler(4)
	_, _, _, err := a.Feed(&Frame{FIN: false, Opcode: OpText, Payload: []byte("12345")})
	var pv *ProtocolViolation
	require.False(t, errors.As(err, &pv))
}
