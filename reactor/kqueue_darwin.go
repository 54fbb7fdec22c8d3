//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// kqueueBackend implements Backend on Darwin/BSD using kqueue, adapted
// from the teacher's FastPoller (poller_darwin.go).
type kqueueBackend struct {
	kq     int
	tokens []Token
	buf    []unix.Kevent_t
}

func newKqueueBackend() *kqueueBackend {
	return &kqueueBackend{
		kq:     -1,
		tokens: make([]Token, maxDirectFDs),
		buf:    make([]unix.Kevent_t, 256),
	}
}

func (b *kqueueBackend) Open() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	b.kq = kq
	return nil
}

func (b *kqueueBackend) Add(fd int, tok Token, events IOEvents) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	kevs := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevs) > 0 {
		if _, err := unix.Kevent(b.kq, kevs, nil, nil); err != nil {
			return err
		}
	}
	b.tokens[fd] = tok
	return nil
}

func (b *kqueueBackend) Modify(fd int, tok Token, events IOEvents) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	all := eventsToKevents(fd, EventRead|EventWrite, unix.EV_DELETE)
	_, _ = unix.Kevent(b.kq, all, nil, nil)
	kevs := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevs) > 0 {
		if _, err := unix.Kevent(b.kq, kevs, nil, nil); err != nil {
			return err
		}
	}
	b.tokens[fd] = tok
	return nil
}

func (b *kqueueBackend) Del(fd int) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	kevs := eventsToKevents(fd, EventRead|EventWrite, unix.EV_DELETE)
	if len(kevs) > 0 {
		_, _ = unix.Kevent(b.kq, kevs, nil, nil)
	}
	b.tokens[fd] = Token{}
	return nil
}

// Rearm is a no-op: this package never requests EV_ONESHOT/EV_CLEAR, so
// interest stays live across deliveries.
func (b *kqueueBackend) Rearm(fd int, tok Token, events IOEvents) error { return nil }

func (b *kqueueBackend) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1e6),
		}
	}
	n, err := unix.Kevent(b.kq, nil, b.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		fd := int(b.buf[i].Ident)
		if fd < 0 || fd >= maxDirectFDs {
			continue
		}
		dst = append(dst, Event{Token: b.tokens[fd], Events: keventToEvents(&b.buf[i])})
	}
	return dst, nil
}

func (b *kqueueBackend) Close() error {
	if b.kq < 0 {
		return nil
	}
	err := unix.Close(b.kq)
	b.kq = -1
	return err
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevs []unix.Kevent_t
	if events&EventRead != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevs
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}

func newPlatformBackend(name string) (Backend, error) {
	switch name {
	case "", "auto", "kqueue":
		return newKqueueBackend(), nil
	case "poll", "select":
		return newPollBackend(), nil
	default:
		return nil, ErrBackendUnavailable
	}
}
