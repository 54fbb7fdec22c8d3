//go:build darwin || (unix && !linux)

package future

import "golang.org/x/sys/unix"

// createNotifyFD creates a self-pipe on platforms without eventfd.
func createNotifyFD() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func signalNotifyFD(writeFD int) error {
	_, err := unix.Write(writeFD, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func closeNotifyFD(readFD, writeFD int) {
	_ = unix.Close(readFD)
	_ = unix.Close(writeFD)
}

// drainNotifyFD reads every byte buffered on the self-pipe so the reactor
// stops seeing it as readable, grounded on reactor/wake_pipe.go's
// drainWakeFD.
func drainNotifyFD(readFD int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(readFD, buf[:]); err != nil {
			return
		}
	}
}
