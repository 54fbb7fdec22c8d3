package reactor

import (
	"context"
	"sync"
	"sync/atomic"
)

// Option configures a Reactor, grounded on eventloop/options.go's
// LoopOption pattern.
type Option interface {
	apply(*config)
}

type config struct {
	backendName  string
	pollTimeout  int
	onBackendErr func(error)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithBackend selects the readiness backend by name: "epoll", "kqueue",
// "poll", "iocp", "select", or "" / "auto" for the platform default.
func WithBackend(name string) Option {
	return optionFunc(func(c *config) { c.backendName = name })
}

// WithPollTimeoutMillis overrides the idle poll timeout; the default (100ms)
// balances timer-firing latency against wakeup cost. A value of 0 means
// never block, -1 means block forever (only sensible alongside at least one
// registered fd).
func WithPollTimeoutMillis(ms int) Option {
	return optionFunc(func(c *config) { c.pollTimeout = ms })
}

// WithBackendErrorHandler installs a callback invoked whenever a fatal
// backend error (anything BackendFatal-wrapped) is about to terminate Run.
func WithBackendErrorHandler(fn func(error)) Option {
	return optionFunc(func(c *config) { c.onBackendErr = fn })
}

// entry is the per-fd callback record.
type entry struct {
	cb     func(IOEvents)
	events IOEvents
}

// Reactor is the single-threaded cooperative main loop described in the
// reactor component: it owns one Backend, the registered fd callbacks, and
// a monotonic tick counter, adapted from eventloop/loop.go's Loop with the
// JavaScript timer/microtask machinery removed (this domain has no
// microtask queue; future.Pool's completed queue plays that role and is
// drained via a callback registered on its notify fd, see
// future.Pool.NotifyFD and RegisterSlot).
type Reactor struct {
	backend Backend
	cfg     config

	mu          sync.RWMutex
	entries     map[int]*entry
	slotEntries map[int]*entry

	wakeReadFD, wakeWriteFD int

	tick    atomic.Uint64
	running atomic.Bool
	stop    atomic.Bool
}

// New creates a Reactor with the given options but does not yet acquire any
// OS resources; call Run to start it.
func New(opts ...Option) (*Reactor, error) {
	cfg := config{pollTimeout: 100}
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}

	backend, err := newPlatformBackend(cfg.backendName)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(); err != nil {
		return nil, err
	}

	rfd, wfd, err := createWakeFD()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	r := &Reactor{
		backend:     backend,
		cfg:         cfg,
		entries:     make(map[int]*entry),
		slotEntries: make(map[int]*entry),
		wakeReadFD:  rfd,
		wakeWriteFD: wfd,
	}
	r.entries[rfd] = &entry{cb: func(IOEvents) { drainWakeFD(rfd) }, events: EventRead}
	if err := backend.Add(rfd, FDToken(rfd), EventRead); err != nil {
		closeWakeFD(rfd, wfd)
		_ = backend.Close()
		return nil, err
	}
	return r, nil
}

// RegisterFD adds fd to the interest set, invoking cb inline (on the
// reactor goroutine) whenever it becomes ready. Safe to call from any
// goroutine; registrations observed mid-Wait take effect on the next Wait.
func (r *Reactor) RegisterFD(fd int, events IOEvents, cb func(IOEvents)) error {
	r.mu.Lock()
	r.entries[fd] = &entry{cb: cb, events: events}
	r.mu.Unlock()
	return r.backend.Add(fd, FDToken(fd), events)
}

// RegisterSlot adds fd to the interest set under a slot token rather than
// an fd token: the async-request path from the event backend component
// (§4.1), used by future.Pool's notify-fd registration so the reactor's
// dispatch loop can tell "a connection fd became ready" apart from "a
// Completion Pool has work ready to drain" even though both currently
// happen to be backed by a real kernel fd. slot must be unique among all
// of this Reactor's slot registrations (it shares no namespace with fd).
func (r *Reactor) RegisterSlot(fd int, slot int, events IOEvents, cb func(IOEvents)) error {
	r.mu.Lock()
	r.slotEntries[slot] = &entry{cb: cb, events: events}
	r.mu.Unlock()
	return r.backend.Add(fd, SlotToken(slot), events)
}

// UnregisterSlot removes a slot registered via RegisterSlot, given the
// same fd and slot it was registered with.
func (r *Reactor) UnregisterSlot(fd int, slot int) error {
	r.mu.Lock()
	delete(r.slotEntries, slot)
	r.mu.Unlock()
	return r.backend.Del(fd)
}

// ModifyFD changes the interest set for an already-registered fd.
func (r *Reactor) ModifyFD(fd int, events IOEvents) error {
	r.mu.Lock()
	e, ok := r.entries[fd]
	if ok {
		e.events = events
	}
	r.mu.Unlock()
	if !ok {
		return ErrFDOutOfRange
	}
	return r.backend.Modify(fd, FDToken(fd), events)
}

// UnregisterFD removes fd from the interest set. Per the reactor
// component's cross-fd-close rule, any event for fd already queued from the
// same Wait batch is silently dropped once Unregister has run.
func (r *Reactor) UnregisterFD(fd int) error {
	r.mu.Lock()
	delete(r.entries, fd)
	r.mu.Unlock()
	return r.backend.Del(fd)
}

// Tick returns the number of completed main-loop iterations.
func (r *Reactor) Tick() uint64 { return r.tick.Load() }

// Shutdown requests Run to return after the current iteration.
func (r *Reactor) Shutdown() {
	r.stop.Store(true)
	_ = signalWakeFD(r.wakeWriteFD)
}

// Run executes the wait/classify/dispatch loop until ctx is cancelled or
// Shutdown is called, matching the six-step cycle in the reactor
// component: wait for readiness, classify each event, dispatch callbacks
// inline in delivery order, repeat.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrReactorShutdown
	}
	defer r.running.Store(false)

	go func() {
		<-ctx.Done()
		r.Shutdown()
	}()

	events := make([]Event, 0, 256)
	for !r.stop.Load() {
		events = events[:0]
		var err error
		events, err = r.backend.Wait(events, r.cfg.pollTimeout)
		if err != nil {
			if r.cfg.onBackendErr != nil {
				r.cfg.onBackendErr(err)
			}
			return &BackendFatal{Cause: err}
		}

		r.mu.RLock()
		for _, ev := range events {
			if fd, isFD := ev.Token.FD(); isFD {
				if e, ok := r.entries[fd]; ok && e.cb != nil {
					cb := e.cb
					// Dispatch outside the lock so a callback is free to
					// register/unregister other fds without deadlocking.
					r.mu.RUnlock()
					cb(ev.Events)
					r.mu.RLock()
				}
				continue
			}
			if slot, isSlot := ev.Token.Slot(); isSlot {
				if e, ok := r.slotEntries[slot]; ok && e.cb != nil {
					cb := e.cb
					r.mu.RUnlock()
					cb(ev.Events)
					r.mu.RLock()
				}
			}
		}
		r.mu.RUnlock()

		r.tick.Add(1)
	}
	return nil
}

// Close releases the backend and wake-fd resources. Call only after Run has
// returned.
func (r *Reactor) Close() error {
	closeWakeFD(r.wakeReadFD, r.wakeWriteFD)
	return r.backend.Close()
}
