// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"errors"
	"io"
	"syscall"
)

// Shim performs one byte-level operation per call against a Descriptor and
// reports failures in errno terms, whether the handle is an OS descriptor
// or an emulated one. Its only state is the last error, cleared at the
// start of every call.
type Shim struct {
	err     error
	backoff Backoff
}

// Err returns the error of the last call, or nil.
func (s *Shim) Err() error { return s.err }

// Errno returns the errno of the last call, or 0.
func (s *Shim) Errno() syscall.Errno {
	var oe *OpError
	if errors.As(s.err, &oe) {
		return oe.Errno
	}
	return 0
}

func (s *Shim) clear() { s.err = nil }

func (s *Shim) fail(op string, st *handleState, d *Descriptor, err error) error {
	fileno := -1
	if d != nil {
		fileno = d.Fileno()
	}
	path := ""
	if st != nil {
		path = st.path
	}
	if errors.Is(err, io.EOF) {
		s.err = err
		return err
	}
	s.err = newOpError(op, path, fileno, err)
	return s.err
}

func (s *Shim) open(op string, d *Descriptor) (*handleState, error) {
	s.clear()
	st, err := d.openState()
	if err != nil {
		s.err = err
		return nil, err
	}
	return st, nil
}

// Seek repositions the handle. Pipe-class handles fail with ESPIPE.
func (s *Shim) Seek(d *Descriptor, offset int64, whence int) (int64, error) {
	st, err := s.open("seek", d)
	if err != nil {
		return -1, err
	}
	if !st.kind.Seekable() {
		return -1, s.fail("seek", st, d, syscall.ESPIPE)
	}
	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
	default:
		return -1, s.fail("seek", st, d, syscall.EINVAL)
	}
	pos, err := st.h.(io.Seeker).Seek(offset, whence)
	if err != nil {
		return -1, s.fail("seek", st, d, err)
	}
	return pos, nil
}

// Size returns the size of a seekable handle.
func (s *Shim) Size(d *Descriptor) (int64, error) {
	st, err := s.open("size", d)
	if err != nil {
		return -1, err
	}
	size, err := handleSize(st)
	if err != nil {
		return -1, s.fail("size", st, d, err)
	}
	return size, nil
}

func handleSize(st *handleState) (int64, error) {
	if sh, ok := st.h.(statter); ok {
		fi, err := sh.Stat()
		if err != nil {
			return -1, err
		}
		return fi.Size(), nil
	}
	if !st.kind.Seekable() {
		return -1, syscall.ESPIPE
	}
	sk := st.h.(io.Seeker)
	cur, err := sk.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, err
	}
	end, err := sk.Seek(0, io.SeekEnd)
	if err != nil {
		return -1, err
	}
	if _, err := sk.Seek(cur, io.SeekStart); err != nil {
		return -1, err
	}
	return end, nil
}

// Read reads into p. A zero return with nil error is end of input. In
// non-blocking mode, no data available is ErrWouldBlock (EAGAIN); emulated
// files approximate that by comparing position to size.
func (s *Shim) Read(d *Descriptor, p []byte, nonblock bool) (int, error) {
	st, err := s.open("read", d)
	if err != nil {
		return 0, err
	}
	if !st.caps.Readable {
		return 0, s.fail("read", st, d, ErrNotOpenedForReading)
	}
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	switch {
	case st.sysfd >= 0 && st.kind.Selectable():
		n, err = rawRead(st.sysfd, p)
	case nonblock:
		n, err = s.readNonblock(st, p)
	default:
		n, err = st.h.(io.Reader).Read(p)
	}
	if errors.Is(err, io.EOF) {
		if n > 0 {
			return n, nil
		}
		return 0, nil
	}
	if err != nil {
		return n, s.fail("read", st, d, err)
	}
	if n == 0 && nonblock && st.sysfd < 0 {
		return 0, s.fail("read", st, d, syscall.EAGAIN)
	}
	return n, nil
}

func (s *Shim) readNonblock(st *handleState, p []byte) (int, error) {
	if nr, ok := st.h.(NonblockingReader); ok {
		return nr.ReadNonblock(p)
	}
	if st.kind.Seekable() && st.sysfd < 0 {
		pos, err := st.h.(io.Seeker).Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		size, err := handleSize(st)
		if err != nil || pos >= size {
			return 0, syscall.EAGAIN
		}
		return st.h.(io.Reader).Read(p)
	}
	if st.sysfd >= 0 {
		// Native regular file: reads never block.
		return st.h.(io.Reader).Read(p)
	}
	return 0, syscall.EAGAIN
}

// Write writes p. Emulated append-mode handles are positioned at the end
// first. A non-blocking write that moves nothing is ErrWouldBlock.
func (s *Shim) Write(d *Descriptor, p []byte, nonblock bool) (int, error) {
	st, err := s.open("write", d)
	if err != nil {
		return 0, err
	}
	if !st.caps.Writable {
		return 0, s.fail("write", st, d, syscall.EACCES)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if st.mode.IsAppendable() && !st.osAppend && st.kind.Seekable() {
		if _, err := st.h.(io.Seeker).Seek(0, io.SeekEnd); err != nil {
			return 0, s.fail("write", st, d, err)
		}
	}
	var n int
	switch {
	case st.sysfd >= 0 && st.kind.Selectable():
		n, err = rawWrite(st.sysfd, p)
	case nonblock:
		if nw, ok := st.h.(NonblockingWriter); ok {
			n, err = nw.WriteNonblock(p)
		} else {
			n, err = st.h.(io.Writer).Write(p)
		}
	default:
		n, err = st.h.(io.Writer).Write(p)
	}
	if err != nil {
		return n, s.fail("write", st, d, err)
	}
	if n == 0 && nonblock {
		return 0, s.fail("write", st, d, syscall.EAGAIN)
	}
	return n, nil
}

// Flock applies a flock(2) operation. Native descriptors use flock itself;
// other seekable handles use the cooperative lock table; anything else is
// ErrLockUnsupported.
func (s *Shim) Flock(ctx context.Context, d *Descriptor, op FlockOp) error {
	st, err := s.open("flock", d)
	if err != nil {
		return err
	}
	mode, ok := op.mode()
	if !ok {
		return s.fail("flock", st, d, syscall.EINVAL)
	}
	st.mu.Lock()
	current := st.lockMode
	st.mu.Unlock()

	if nativeAvailable && st.sysfd >= 0 {
		return s.flockNative(ctx, d, st, mode, op.nonblocking())
	}
	if !st.kind.Seekable() {
		return s.fail("flock", st, d, &OpError{Op: "flock", Path: "stream is not a file", Fileno: -1, Errno: syscall.EINVAL, Err: ErrLockUnsupported})
	}
	if err := checkSharedExclusive(st, mode); err != nil {
		return s.fail("flock", st, d, err)
	}
	if mode == current {
		return nil
	}
	key := st.lockKey()
	if mode == LockNone {
		st.locks.releaseAll(key, st.lockToken)
	} else if dropped, err := st.locks.acquire(ctx, key, st.lockToken, mode, op.nonblocking()); err != nil {
		if dropped {
			st.mu.Lock()
			st.lockMode = LockNone
			st.mu.Unlock()
		}
		return s.fail("flock", st, d, err)
	}
	st.mu.Lock()
	st.lockMode = mode
	st.mu.Unlock()
	return nil
}

func (s *Shim) flockNative(ctx context.Context, d *Descriptor, st *handleState, mode LockMode, nonblock bool) error {
	s.backoff.Reset()
	for {
		err := flockNative(st.sysfd, mode)
		if err == nil {
			st.mu.Lock()
			st.lockMode = mode
			st.mu.Unlock()
			return nil
		}
		if !IsWouldBlock(err) || nonblock {
			return s.fail("flock", st, d, err)
		}
		if err := s.backoff.Wait(ctx); err != nil {
			return s.fail("flock", st, d, err)
		}
	}
}

// checkSharedExclusive mirrors the OS rule that an exclusive lock needs a
// writable handle and a shared lock a readable one.
func checkSharedExclusive(st *handleState, mode LockMode) error {
	switch {
	case mode == LockExclusive && !st.caps.Writable,
		mode == LockShared && !st.caps.Readable:
		return &OpError{Op: "flock", Path: st.path, Fileno: -1, Errno: syscall.EINVAL, Err: ErrLockUnsupported}
	}
	return nil
}

// Close closes d.
func (s *Shim) Close(d *Descriptor) error {
	s.clear()
	if err := d.Close(); err != nil {
		s.err = err
		return err
	}
	return nil
}

// Truncate changes the size of a seekable handle.
func (s *Shim) Truncate(d *Descriptor, size int64) error {
	st, err := s.open("truncate", d)
	if err != nil {
		return err
	}
	t, ok := st.h.(Truncater)
	if !ok || !st.kind.Seekable() {
		return s.fail("truncate", st, d, syscall.EINVAL)
	}
	if !st.caps.Writable {
		return s.fail("truncate", st, d, ErrNotOpenedForWriting)
	}
	if err := t.Truncate(size); err != nil {
		return s.fail("truncate", st, d, err)
	}
	return nil
}

// Sync commits written data when the handle supports it.
func (s *Shim) Sync(d *Descriptor) error {
	st, err := s.open("fsync", d)
	if err != nil {
		return err
	}
	if sy, ok := st.h.(Syncer); ok {
		if err := sy.Sync(); err != nil {
			return s.fail("fsync", st, d, err)
		}
	}
	return nil
}
