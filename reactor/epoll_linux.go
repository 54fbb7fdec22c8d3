//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollBackend implements Backend on Linux using epoll in level-triggered
// mode, adapted from the teacher's FastPoller (poller_linux.go): direct fd
// indexing for the token table, no map on the hot path.
type epollBackend struct {
	epfd   int
	tokens []Token
	buf    []unix.EpollEvent
}

func newEpollBackend() *epollBackend {
	return &epollBackend{
		epfd:   -1,
		tokens: make([]Token, maxDirectFDs),
		buf:    make([]unix.EpollEvent, 256),
	}
}

func (b *epollBackend) Open() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	b.epfd = fd
	return nil
}

func (b *epollBackend) Add(fd int, tok Token, events IOEvents) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	b.tokens[fd] = tok
	return nil
}

func (b *epollBackend) Modify(fd int, tok Token, events IOEvents) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	b.tokens[fd] = tok
	return nil
}

func (b *epollBackend) Del(fd int) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	b.tokens[fd] = Token{}
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Rearm is a no-op: epoll here runs level-triggered, so interest stays live
// across events without re-registration.
func (b *epollBackend) Rearm(fd int, tok Token, events IOEvents) error { return nil }

func (b *epollBackend) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(b.epfd, b.buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		fd := int(b.buf[i].Fd)
		if fd < 0 || fd >= maxDirectFDs {
			continue
		}
		dst = append(dst, Event{Token: b.tokens[fd], Events: epollToEvents(b.buf[i].Events)})
	}
	return dst, nil
}

func (b *epollBackend) Close() error {
	if b.epfd < 0 {
		return nil
	}
	err := unix.Close(b.epfd)
	b.epfd = -1
	return err
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

func newPlatformBackend(name string) (Backend, error) {
	switch name {
	case "", "auto", "epoll":
		return newEpollBackend(), nil
	case "poll", "select":
		return newPollBackend(), nil
	default:
		return nil, ErrBackendUnavailable
	}
}
