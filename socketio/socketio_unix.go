//go:build unix

package socketio

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Recv/Accept when the fd has no data/pending
// connection right now; the reactor re-polls and the caller retries later.
var ErrWouldBlock = errors.New("socketio: operation would block")

// CreateListenSocket opens a non-blocking TCP listen socket on port,
// setting SO_REUSEADDR (and SO_REUSEPORT where available, enabling the
// horizontal-scaling model from SPEC_FULL.md §5's multi-process reactor
// pool sharing one listen address).
func CreateListenSocket(port uint16) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	_ = setReusePort(fd)

	addr := unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept accepts one pending connection on listenFD, returning its
// non-blocking client fd and the peer's address string. ErrWouldBlock is
// returned (not wrapped) when there is no pending connection.
func Accept(listenFD int) (clientFD int, peer string, err error) {
	nfd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, "", ErrWouldBlock
		}
		return -1, "", err
	}
	return nfd, sockaddrString(sa), nil
}

// Recv reads into buf from fd. ErrWouldBlock is returned when no data is
// currently available.
func Recv(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		if err == unix.ECONNRESET {
			return 0, ErrResetByPeer
		}
		return 0, err
	}
	return n, nil
}

// ErrResetByPeer indicates the peer reset the connection.
var ErrResetByPeer = errors.New("socketio: connection reset by peer")

var errNotInetSockaddr = errors.New("socketio: socket is not AF_INET/AF_INET6")

func send(fd int, bufs net.Buffers) (int, error) {
	if len(bufs) == 0 {
		return 0, nil
	}
	iovs := make([]unix.Iovec, 0, len(bufs))
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		var iov unix.Iovec
		iov.SetLen(len(b))
		iov.Base = &b[0]
		iovs = append(iovs, iov)
	}
	if len(iovs) == 0 {
		return 0, nil
	}
	n, err := unix.Writev(fd, iovs)
	if err != nil && err == unix.EAGAIN {
		return 0, ErrWouldBlock
	}
	return n, err
}

// CloseFD closes fd.
func CloseFD(fd int) error { return unix.Close(fd) }

// LocalPort returns the port a listen socket was actually bound to, useful
// when CreateListenSocket was called with port 0 (OS-assigned ephemeral
// port), e.g. in tests.
func LocalPort(fd int) (uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return uint16(a.Port), nil
	case *unix.SockaddrInet6:
		return uint16(a.Port), nil
	default:
		return 0, errNotInetSockaddr
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), itoa(a.Port))
	default:
		return ""
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
