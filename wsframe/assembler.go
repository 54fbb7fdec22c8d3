package wsframe

// Assembler reassembles a fragmented message (a FIN=false first frame of
// OpText/OpBinary, zero or more FIN=false OpContinuation frames, and a
// FIN=true OpContinuation frame) into one payload, per RFC 6455 §5.4.
// Control frames may be interleaved between fragments and are returned to
// the caller immediately via Feed's ok=true/opcode-is-control return,
// without disturbing in-progress assembly state.
type Assembler struct {
	assembling bool
	opcode     Opcode
	buf        []byte
	maxSize    int
}

// NewAssembler bounds the reassembled payload at maxSize bytes, matching
// the configurable WS assembly cap (default 16 MiB) from SPEC_FULL.md §5.
func NewAssembler(maxSize int) *Assembler {
	return &Assembler{maxSize: maxSize}
}

// Feed processes one decoded frame. When a complete message is assembled
// (control frame, or a finished fragmented/unfragmented data message), it
// returns the payload, the message opcode, and ok=true. Otherwise it
// returns ok=false while assembly continues.
func (a *Assembler) Feed(f *Frame) (payload []byte, opcode Opcode, ok bool, err error) {
	if f.Opcode.IsControl() {
		return f.Payload, f.Opcode, true, nil
	}

	switch f.Opcode {
	case OpText, OpBinary:
		if a.assembling {
			return nil, 0, false, &ProtocolViolation{Reason: "new message started mid-fragment"}
		}
		if f.FIN {
			if len(f.Payload) > a.maxSize {
				return nil, 0, false, &MessageTooBig{Reason: "message exceeds configured limit"}
			}
			return f.Payload, f.Opcode, true, nil
		}
		a.assembling = true
		a.opcode = f.Opcode
		a.buf = append(a.buf[:0], f.Payload...)
		if len(a.buf) > a.maxSize {
			a.reset()
			return nil, 0, false, &MessageTooBig{Reason: "assembled message exceeds configured limit"}
		}
		return nil, 0, false, nil

	case OpContinuation:
		if !a.assembling {
			return nil, 0, false, &ProtocolViolation{Reason: "continuation frame with no message in progress"}
		}
		a.buf = append(a.buf, f.Payload...)
		if len(a.buf) > a.maxSize {
			a.reset()
			return nil, 0, false, &MessageTooBig{Reason: "assembled message exceeds configured limit"}
		}
		if !f.FIN {
			return nil, 0, false, nil
		}
		out := a.buf
		op := a.opcode
		a.reset()
		return out, op, true, nil

	default:
		return nil, 0, false, &ProtocolViolation{Reason: "unknown opcode"}
	}
}

func (a *Assembler) reset() {
	a.assembling = false
	a.buf = nil
}
