package reactor

import "errors"

// IOEvents is a bitmask of readiness conditions reported by a Backend.
type IOEvents uint32

const (
	// EventRead indicates the fd is ready for a non-blocking read.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the fd is ready for a non-blocking write.
	EventWrite
	// EventError indicates an error condition on the fd.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// TokenKind distinguishes the two shapes of Token.
type TokenKind uint8

const (
	// TokenKindFD marks a Token carrying a raw file descriptor, the
	// classic readiness-registration path used for connections.
	TokenKindFD TokenKind = iota
	// TokenKindSlot marks a Token carrying a small integer slot, used by
	// the Completion Pool's notify-fd registration and reserved for
	// future non-fd async backends.
	TokenKindSlot
)

// Token is the opaque user-data a Backend hands back on each readiness
// event. It preserves the producer's fd-vs-slot choice byte for byte: a
// Backend MUST NOT coerce one into the other.
type Token struct {
	kind  TokenKind
	value int32
}

// FDToken builds a Token around a raw file descriptor.
func FDToken(fd int) Token { return Token{kind: TokenKindFD, value: int32(fd)} }

// SlotToken builds a Token around a small integer slot.
func SlotToken(slot int) Token { return Token{kind: TokenKindSlot, value: int32(slot)} }

// FD reports the wrapped file descriptor and whether this Token is an FD
// token.
func (t Token) FD() (int, bool) {
	if t.kind != TokenKindFD {
		return 0, false
	}
	return int(t.value), true
}

// Slot reports the wrapped slot and whether this Token is a slot token.
func (t Token) Slot() (int, bool) {
	if t.kind != TokenKindSlot {
		return 0, false
	}
	return int(t.value), true
}

// Event is one readiness notification returned from Backend.Wait.
type Event struct {
	Token  Token
	Events IOEvents
}

// Backend is the pluggable readiness-notification mechanism described in
// the event backend component: create, add, del, wait, and an optional
// rearm for oneshot-style backends.
type Backend interface {
	// Open acquires whatever OS resource backs this Backend (an epoll fd,
	// a kqueue fd, ...). Open must be called exactly once before any
	// other method.
	Open() error
	// Add registers fd for the given events, associated with tok.
	Add(fd int, tok Token, events IOEvents) error
	// Modify changes the event mask for an already-registered fd.
	Modify(fd int, tok Token, events IOEvents) error
	// Del removes fd from the interest set. It is not an error to Del an
	// fd that was never added.
	Del(fd int) error
	// Rearm re-arms a oneshot registration. Backends that are
	// level-triggered (epoll's default mode, kqueue) may implement this
	// as a no-op.
	Rearm(fd int, tok Token, events IOEvents) error
	// Wait blocks for up to timeoutMs milliseconds (negative: forever)
	// and appends ready events to dst, returning the extended slice.
	Wait(dst []Event, timeoutMs int) ([]Event, error)
	// Close releases the backend's OS resource.
	Close() error
}

// ErrBackendUnavailable is returned by NewBackend when the requested name
// names a readiness model this build does not implement.
var ErrBackendUnavailable = errors.New("reactor: backend unavailable on this platform")

// maxDirectFDs bounds the fds this package will track with direct
// slice indexing, matching the WebSocket registry's fixed 65536 capacity.
const maxDirectFDs = 65536
