//go:build darwin || (unix && !linux)

package reactor

import "golang.org/x/sys/unix"

// createWakeFD creates a self-pipe for platforms without eventfd, grounded
// on the self-pipe fallback shape implied by eventloop/wakeup_darwin.go's
// wakePipe (read end, write end).
func createWakeFD() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func signalWakeFD(writeFD int) error {
	_, err := unix.Write(writeFD, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func drainWakeFD(readFD int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(readFD, buf[:]); err != nil {
			return
		}
	}
}

func closeWakeFD(readFD, writeFD int) {
	_ = unix.Close(readFD)
	_ = unix.Close(writeFD)
}
