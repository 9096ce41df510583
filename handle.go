// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"io"
	"io/fs"
)

// Handle is the byte-oriented resource a Descriptor owns: an *os.File, an
// afero.File, a MemPipe end, or any other io.Closer.
//
// What a handle can do is discovered once, from the optional interfaces
// below plus io.Reader, io.Writer and io.Seeker, and never re-queried.
type Handle interface {
	io.Closer
}

// Interest is a readiness condition.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestError
)

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestError:
		return "error"
	default:
		return "Interest(mixed)"
	}
}

// ReadinessNotifier is implemented by emulated handles that can report and
// wait for readiness without an OS descriptor. Such handles are selectable
// through the secondary readiness provider.
type ReadinessNotifier interface {
	// Ready reports whether an operation of interest i would proceed now.
	Ready(i Interest) bool
	// WaitReady blocks until Ready(i) or ctx is done.
	WaitReady(ctx context.Context, i Interest) error
}

// NonblockingReader reads without waiting, returning ErrWouldBlock when no
// data is available.
type NonblockingReader interface {
	ReadNonblock(p []byte) (int, error)
}

// NonblockingWriter writes what fits without waiting, returning
// ErrWouldBlock when nothing fits.
type NonblockingWriter interface {
	WriteNonblock(p []byte) (int, error)
}

// Truncater is implemented by handles whose size can be changed.
type Truncater interface {
	Truncate(size int64) error
}

// Syncer is implemented by handles that can commit written data to stable
// storage.
type Syncer interface {
	Sync() error
}

type statter interface {
	Stat() (fs.FileInfo, error)
}

type namer interface {
	Name() string
}

// Capabilities are the four facts the core needs about a handle.
type Capabilities struct {
	Readable   bool
	Writable   bool
	Seekable   bool
	Selectable bool
}

// HandleKind is the capability variant of a handle, chosen once.
type HandleKind uint8

const (
	// KindOpaque handles neither seek nor take part in readiness waits;
	// they are always ready.
	KindOpaque HandleKind = iota
	// KindSeekable is a regular file.
	KindSeekable
	// KindSelectable is a pipe, socket or emulated stream.
	KindSelectable
	// KindSeekableSelectable seeks and also reports readiness.
	KindSeekableSelectable
)

func (k HandleKind) Seekable() bool   { return k == KindSeekable || k == KindSeekableSelectable }
func (k HandleKind) Selectable() bool { return k == KindSelectable || k == KindSeekableSelectable }

func (k HandleKind) String() string {
	switch k {
	case KindOpaque:
		return "Opaque"
	case KindSeekable:
		return "Seekable"
	case KindSelectable:
		return "Selectable"
	case KindSeekableSelectable:
		return "SeekableSelectable"
	default:
		return "HandleKind(unknown)"
	}
}

func kindOf(c Capabilities) HandleKind {
	switch {
	case c.Seekable && c.Selectable:
		return KindSeekableSelectable
	case c.Seekable:
		return KindSeekable
	case c.Selectable:
		return KindSelectable
	default:
		return KindOpaque
	}
}

// detectCapabilities inspects h once. sysfd is the native descriptor, or -1.
func detectCapabilities(h Handle, m ModeFlags) (c Capabilities, sysfd int) {
	_, isReader := h.(io.Reader)
	_, isWriter := h.(io.Writer)
	c.Readable = isReader && m.IsReadable()
	c.Writable = isWriter && m.IsWritable()

	regular := false
	if st, ok := h.(statter); ok {
		if fi, err := st.Stat(); err == nil {
			regular = fi.Mode().IsRegular()
		}
	}
	if s, ok := h.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekCurrent); err == nil {
			c.Seekable = true
		}
	}
	sysfd = sysFd(h)
	switch {
	case sysfd >= 0 && !regular:
		c.Selectable = true
	default:
		if _, ok := h.(ReadinessNotifier); ok {
			c.Selectable = true
		}
	}
	return c, sysfd
}

func handleName(h Handle) string {
	if n, ok := h.(namer); ok {
		return n.Name()
	}
	return ""
}
