// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package posixio

import (
	"errors"
	"time"
)

// Without the unix poller every handle goes through its Go interfaces and
// native descriptors are treated as always ready.
const nativeAvailable = false

var errNoNative = errors.New("posixio: native descriptors unsupported on this platform")

func sysFd(Handle) int { return -1 }

func isOSAppend(int) bool { return false }

func setNonblock(int, bool) error { return errNoNative }

func rawRead(int, []byte) (int, error) { return 0, errNoNative }

func rawWrite(int, []byte) (int, error) { return 0, errNoNative }

func flockNative(int, LockMode) error { return errNoNative }

type pollEntry struct {
	fd      int
	events  Interest
	revents Interest
}

func pollOnce(entries []pollEntry, _ time.Duration) (int, error) {
	for i := range entries {
		entries[i].revents = entries[i].events
	}
	return len(entries), nil
}

type wakeup struct{ r int }

func newWakeup() (*wakeup, error) { return nil, errNoNative }

func (*wakeup) signal() {}

func (*wakeup) close() {}
