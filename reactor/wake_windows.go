//go:build windows

package reactor

import (
	"errors"
	"net"
	"syscall"
)

var errNotSyscallConn = errors.New("reactor: connection does not expose a syscall handle")

// createWakeFD on Windows has no eventfd/pipe2 analogue that WSAPoll can
// watch directly, so it opens a connected loopback TCP pair and hands back
// the raw socket handles of each end, matching the self-pipe shape used on
// Unix (write a byte to wake, read bytes to drain).
func createWakeFD() (readFD, writeFD int, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return -1, -1, err
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	writeConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return -1, -1, err
	}
	var readConn net.Conn
	select {
	case readConn = <-acceptCh:
	case err = <-errCh:
		writeConn.Close()
		return -1, -1, err
	}

	rfd, err := socketFD(readConn)
	if err != nil {
		return -1, -1, err
	}
	wfd, err := socketFD(writeConn)
	if err != nil {
		return -1, -1, err
	}
	return rfd, wfd, nil
}

func socketFD(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, errNotSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctlErr := raw.Control(func(h uintptr) { fd = int(h) })
	if ctlErr != nil {
		return -1, ctlErr
	}
	return fd, nil
}

func signalWakeFD(writeFD int) error {
	_, err := syscall.Write(syscall.Handle(writeFD), []byte{1})
	return err
}

func drainWakeFD(readFD int) {
	var buf [64]byte
	for {
		n, err := syscall.Read(syscall.Handle(readFD), buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

func closeWakeFD(readFD, writeFD int) {
	_ = syscall.Close(syscall.Handle(readFD))
	_ = syscall.Close(syscall.Handle(writeFD))
}
