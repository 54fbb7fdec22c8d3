//go:build windows

package future

import (
	"errors"
	"net"
	"syscall"
)

var errNotSyscallConn = errors.New("future: connection does not expose a syscall handle")

// createNotifyFD mirrors reactor's wake_windows.go: a connected loopback
// TCP pair stands in for eventfd/pipe2 so the notify fd can still be
// watched by the Windows WSAPoll-based reactor backend.
func createNotifyFD() (readFD, writeFD int, err error) {
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
	if err := raw.Control(func(h uintptr) { fd = int(h) }); err != nil {
		return -1, err
	}
	return fd, nil
}

func signalNotifyFD(writeFD int) error {
	_, err := syscall.Write(syscall.Handle(writeFD), []byte{1})
	return err
}

func closeNotifyFD(readFD, writeFD int) {
	_ = syscall.Close(syscall.Handle(readFD))
	_ = syscall.Close(syscall.Handle(writeFD))
}

// drainNotifyFD reads every byte buffered on the loopback socket so the
// reactor stops seeing it as readable, grounded on
// reactor/wake_windows.go's drainWakeFD.
func drainNotifyFD(readFD int) {
	var buf [64]byte
	for {
		n, err := syscall.Read(syscall.Handle(readFD), buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}
