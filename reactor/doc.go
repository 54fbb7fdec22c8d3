// Package reactor implements the readiness-based event backend and the
// single-threaded reactor main loop that drives Hypersonic's connections.
//
// The backend abstraction (Backend) hides epoll (Linux), kqueue
// (Darwin/BSD), a portable poll(2) fallback, and a readiness-emulated IOCP
// path (Windows) behind one interface. Reactor owns exactly one Backend, the
// listen socket, and the set of registered fds; it never blocks on anything
// but Backend.Wait.
package reactor
