//go:build linux

package reactor

import "golang.org/x/sys/unix"

// createWakeFD creates an eventfd usable both as the reactor's own
// self-wake mechanism and as a Completion Pool's notify fd, grounded on
// eventloop/wakeup_linux.go's createWakeFd.
func createWakeFD() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func signalWakeFD(writeFD int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(writeFD, buf[:])
	if err == unix.EAGAIN {
		// Counter already non-zero: a wake is already pending.
		return nil
	}
	return err
}

func drainWakeFD(readFD int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(readFD, buf[:]); err != nil {
			return
		}
	}
}

func closeWakeFD(readFD, writeFD int) {
	_ = unix.Close(readFD)
}
