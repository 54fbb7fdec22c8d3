//go:build linux

package future

import "golang.org/x/sys/unix"

// createNotifyFD creates an eventfd, grounded on the same
// eventloop/wakeup_linux.go shape the reactor package's own wake fd uses.
func createNotifyFD() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func signalNotifyFD(writeFD int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(writeFD, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func closeNotifyFD(readFD, writeFD int) { _ = unix.Close(readFD) }

// drainNotifyFD clears the eventfd's counter so the reactor stops seeing it
// as readable, grounded on reactor/wake_linux.go's drainWakeFD.
func drainNotifyFD(readFD int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(readFD, buf[:]); err != nil {
			return
		}
	}
}
