//go:build unix

package conn

import "syscall"

func handleOfForTest(c syscall.Conn) (int, error) {
	raw, err := c.SyscallConn()
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
