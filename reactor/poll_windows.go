//go:build windows

package reactor

import (
	"golang.org/x/sys/windows"
)

// windowsBackend implements Backend on Windows via WSAPoll, which reports
// the same readiness information epoll/kqueue do. The teacher's
// poller_windows.go drives a true IOCP completion port; IOCP is inherently
// completion-based rather than readiness-based, so bridging it into this
// package's readiness Backend interface would reintroduce exactly the
// per-platform branching the reactor main loop is designed to avoid (see
// DESIGN.md for the full rationale). WSAPoll gives an honest, simple
// readiness backend instead.
type windowsBackend struct {
	fds    []windows.WSAPollFD
	tokens map[windows.Handle]Token
	idx    map[windows.Handle]int
}

func newWindowsBackend() *windowsBackend {
	return &windowsBackend{
		tokens: make(map[windows.Handle]Token),
		idx:    make(map[windows.Handle]int),
	}
}

func (b *windowsBackend) Open() error { return nil }

func (b *windowsBackend) Add(fd int, tok Token, events IOEvents) error {
	h := windows.Handle(fd)
	if _, exists := b.idx[h]; exists {
		return b.Modify(fd, tok, events)
	}
	b.idx[h] = len(b.fds)
	b.fds = append(b.fds, windows.WSAPollFD{Fd: windows.Handle(fd), Events: eventsToWSAPoll(events)})
	b.tokens[h] = tok
	return nil
}

func (b *windowsBackend) Modify(fd int, tok Token, events IOEvents) error {
	h := windows.Handle(fd)
	i, ok := b.idx[h]
	if !ok {
		return ErrFDOutOfRange
	}
	b.fds[i].Events = eventsToWSAPoll(events)
	b.tokens[h] = tok
	return nil
}

func (b *windowsBackend) Del(fd int) error {
	h := windows.Handle(fd)
	i, ok := b.idx[h]
	if !ok {
		return nil
	}
	last := len(b.fds) - 1
	b.fds[i] = b.fds[last]
	b.fds = b.fds[:last]
	if i != last {
		b.idx[b.fds[i].Fd] = i
	}
	delete(b.idx, h)
	delete(b.tokens, h)
	return nil
}

func (b *windowsBackend) Rearm(fd int, tok Token, events IOEvents) error { return nil }

func (b *windowsBackend) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	if len(b.fds) == 0 {
		return dst, nil
	}
	n, err := windows.WSAPoll(&b.fds[0], uint32(len(b.fds)), int32(timeoutMs))
	if err != nil {
		return dst, err
	}
	if n == 0 {
		return dst, nil
	}
	for _, pfd := range b.fds {
		if pfd.REvents == 0 {
			continue
		}
		dst = append(dst, Event{Token: b.tokens[pfd.Fd], Events: wsaToEvents(pfd.REvents)})
	}
	return dst, nil
}

func (b *windowsBackend) Close() error { return nil }

func eventsToWSAPoll(events IOEvents) int16 {
	var e int16
	if events&EventRead != 0 {
		e |= windows.POLLRDNORM
	}
	if events&EventWrite != 0 {
		e |= windows.POLLWRNORM
	}
	return e
}

func wsaToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&windows.POLLRDNORM != 0 {
		events |= EventRead
	}
	if revents&windows.POLLWRNORM != 0 {
		events |= EventWrite
	}
	if revents&windows.POLLERR != 0 {
		events |= EventError
	}
	if revents&(windows.POLLHUP|windows.POLLNVAL) != 0 {
		events |= EventHangup
	}
	return events
}

func newPlatformBackend(name string) (Backend, error) {
	switch name {
	case "", "auto", "iocp", "poll", "select":
		return newWindowsBackend(), nil
	default:
		return nil, ErrBackendUnavailable
	}
}
