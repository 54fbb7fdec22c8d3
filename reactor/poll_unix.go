//go:build unix

package reactor

import (
	"golang.org/x/sys/unix"
)

// pollBackend is the portable poll(2)-based fallback, selected by
// server.Config.BackendName == "poll" (and also used, per SPEC_FULL.md §9, as the
// implementation behind the "select" backend name on platforms where this
// package has no dedicated select(2) path — poll(2) and select(2) report
// the same readiness information for our purposes, and poll avoids the
// FD_SETSIZE ceiling select carries).
type pollBackend struct {
	fds    []unix.PollFd
	tokens map[int]Token
	idx    map[int]int // fd -> index into fds
}

func newPollBackend() *pollBackend {
	return &pollBackend{
		tokens: make(map[int]Token),
		idx:    make(map[int]int),
	}
}

func (b *pollBackend) Open() error { return nil }

func (b *pollBackend) Add(fd int, tok Token, events IOEvents) error {
	if _, exists := b.idx[fd]; exists {
		return b.Modify(fd, tok, events)
	}
	b.idx[fd] = len(b.fds)
	b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: eventsToPoll(events)})
	b.tokens[fd] = tok
	return nil
}

func (b *pollBackend) Modify(fd int, tok Token, events IOEvents) error {
	i, ok := b.idx[fd]
	if !ok {
		return ErrFDOutOfRange
	}
	b.fds[i].Events = eventsToPoll(events)
	b.tokens[fd] = tok
	return nil
}

func (b *pollBackend) Del(fd int) error {
	i, ok := b.idx[fd]
	if !ok {
		return nil
	}
	last := len(b.fds) - 1
	b.fds[i] = b.fds[last]
	b.fds = b.fds[:last]
	if i != last {
		b.idx[int(b.fds[i].Fd)] = i
	}
	delete(b.idx, fd)
	delete(b.tokens, fd)
	return nil
}

// Rearm is a no-op: poll(2) re-reports interest on every call.
func (b *pollBackend) Rearm(fd int, tok Token, events IOEvents) error { return nil }

func (b *pollBackend) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	if len(b.fds) == 0 {
		// unix.Poll with a nil/empty slice still sleeps for timeoutMs,
		// which is exactly what an idle reactor wants.
		_, err := unix.Poll(nil, timeoutMs)
		if err != nil && err != unix.EINTR {
			return dst, err
		}
		return dst, nil
	}
	n, err := unix.Poll(b.fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	if n == 0 {
		return dst, nil
	}
	for _, pfd := range b.fds {
		if pfd.Revents == 0 {
			continue
		}
		dst = append(dst, Event{Token: b.tokens[int(pfd.Fd)], Events: pollToEvents(pfd.Revents)})
	}
	return dst, nil
}

func (b *pollBackend) Close() error { return nil }

func eventsToPoll(events IOEvents) int16 {
	var e int16
	if events&EventRead != 0 {
		e |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func pollToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if revents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if revents&unix.POLLERR != 0 {
		events |= EventError
	}
	if revents&(unix.POLLHUP|unix.POLLNVAL) != 0 {
		events |= EventHangup
	}
	return events
}
