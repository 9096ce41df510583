// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package posixio

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const nativeAvailable = true

// sysFd extracts the OS descriptor of h without switching it to blocking
// mode, which (*os.File).Fd would do.
func sysFd(h Handle) int {
	sc, ok := h.(syscall.Conn)
	if !ok {
		return -1
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := rc.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1
	}
	return fd
}

func isOSAppend(fd int) bool {
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	return err == nil && fl&unix.O_APPEND != 0
}

func setNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

func rawRead(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, errnoErr(err)
	}
}

func rawWrite(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, errnoErr(err)
	}
}

// flockNative issues one non-blocking flock(2) call.
func flockNative(fd int, mode LockMode) error {
	how := unix.LOCK_NB
	switch mode {
	case LockShared:
		how |= unix.LOCK_SH
	case LockExclusive:
		how |= unix.LOCK_EX
	default:
		how |= unix.LOCK_UN
	}
	for {
		err := unix.Flock(fd, how)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return errnoErr(err)
	}
}

func errnoErr(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return syscall.Errno(errno)
	}
	return err
}

type pollEntry struct {
	fd      int
	events  Interest
	revents Interest
}

// pollOnce waits until one entry is ready or timeout passes; a negative
// timeout waits forever.
func pollOnce(entries []pollEntry, timeout time.Duration) (int, error) {
	fds := make([]unix.PollFd, len(entries))
	for i, e := range entries {
		fds[i].Fd = int32(e.fd)
		if e.events&InterestRead != 0 {
			fds[i].Events |= unix.POLLIN
		}
		if e.events&InterestWrite != 0 {
			fds[i].Events |= unix.POLLOUT
		}
		if e.events&InterestError != 0 {
			fds[i].Events |= unix.POLLPRI
		}
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	deadline := time.Now().Add(timeout)
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			if timeout >= 0 {
				left := time.Until(deadline)
				if left < 0 {
					left = 0
				}
				ms = int((left + time.Millisecond - 1) / time.Millisecond)
			}
			continue
		}
		if err != nil {
			return 0, errnoErr(err)
		}
		for i := range entries {
			var r Interest
			re := fds[i].Revents
			if re&(unix.POLLIN|unix.POLLHUP) != 0 && entries[i].events&InterestRead != 0 {
				r |= InterestRead
			}
			if re&unix.POLLOUT != 0 {
				r |= InterestWrite
			}
			if re&unix.POLLERR != 0 && entries[i].events&InterestWrite != 0 {
				r |= InterestWrite
			}
			if re&unix.POLLPRI != 0 {
				r |= InterestError
			}
			if re&unix.POLLNVAL != 0 {
				return 0, syscall.EBADF
			}
			entries[i].revents = r
		}
		return n, nil
	}
}

// wakeup is a self-pipe that interrupts pollOnce.
type wakeup struct {
	r, w int
}

func newWakeup() (*wakeup, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errnoErr(err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, errnoErr(err)
		}
	}
	return &wakeup{r: p[0], w: p[1]}, nil
}

func (w *wakeup) signal() {
	_, _ = unix.Write(w.w, []byte{1})
}

func (w *wakeup) close() {
	unix.Close(w.r)
	unix.Close(w.w)
}
