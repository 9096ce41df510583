// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"code.hybscloud.com/posixio"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDesc(t *testing.T, h *posixio.Host, path, mode string) *posixio.Descriptor {
	t.Helper()
	d, err := h.Open(path, mustMode(t, mode), 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestShim_SeekAndSize(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/s", []byte("0123456789"), 0o644))
	d := openDesc(t, h, "/s", "r")

	var s posixio.Shim
	pos, err := s.Seek(d, 4, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
	pos, err = s.Seek(d, -2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)

	_, err = s.Seek(d, 0, 42)
	assert.Equal(t, syscall.EINVAL, s.Errno())
	assert.Error(t, err)

	size, err := s.Size(d)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.NoError(t, s.Err(), "every call clears the last error")
}

func TestShim_SeekPipe(t *testing.T) {
	h, _ := newMemHost(t)
	r, _ := newPipe(t, h)

	var s posixio.Shim
	_, err := s.Seek(r.Descriptor(), 0, io.SeekCurrent)
	assert.ErrorIs(t, err, posixio.ErrNotSeekable)
	assert.Equal(t, posixio.KindNotSeekable, posixio.KindOf(err))
	assert.Equal(t, syscall.ESPIPE, s.Errno())
	assert.Same(t, err, s.Err())
}

func TestShim_ReadEOFAndNonblock(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/r", []byte("ab"), 0o644))
	d := openDesc(t, h, "/r", "r")

	var s posixio.Shim
	buf := make([]byte, 8)
	n, err := s.Read(d, buf, true)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))

	n, err = s.Read(d, buf, false)
	assert.NoError(t, err, "end of input is a zero read, not an error")
	assert.Equal(t, 0, n)

	_, err = s.Read(d, buf, true)
	assert.True(t, posixio.IsWouldBlock(err), "emulated file at its end would block: %v", err)

	n, err = s.Read(d, nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestShim_ReadWriteAccess(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/ro", []byte("x"), 0o644))
	ro := openDesc(t, h, "/ro", "r")
	wo := openDesc(t, h, "/wo", "w")

	var s posixio.Shim
	_, err := s.Write(ro, []byte("y"), false)
	assert.Equal(t, syscall.EACCES, s.Errno())
	assert.Error(t, err)

	_, err = s.Read(wo, make([]byte, 1), false)
	assert.ErrorIs(t, err, posixio.ErrNotOpenedForReading)
	assert.ErrorIs(t, err, posixio.ErrBadDescriptor)
}

func TestShim_AppendGoesToEnd(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/log", []byte("one\n"), 0o644))
	d := openDesc(t, h, "/log", "a+")

	var s posixio.Shim
	_, err := s.Seek(d, 0, io.SeekStart)
	require.NoError(t, err)
	_, err = s.Write(d, []byte("two\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", readFile(t, fs, "/log"))
}

func TestShim_TruncateAndSync(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/t", []byte("0123456789"), 0o644))
	rw := openDesc(t, h, "/t", "r+")
	ro := openDesc(t, h, "/t", "r")

	var s posixio.Shim
	require.NoError(t, s.Truncate(rw, 3))
	assert.Equal(t, "012", readFile(t, fs, "/t"))
	assert.NoError(t, s.Sync(rw))

	err := s.Truncate(ro, 1)
	assert.ErrorIs(t, err, posixio.ErrNotOpenedForWriting)

	r, _ := newPipe(t, h)
	err = s.Truncate(r.Descriptor(), 0)
	assert.Equal(t, syscall.EINVAL, s.Errno())
	assert.Error(t, err)
}

func TestShim_ClosedDescriptor(t *testing.T) {
	h, _ := newMemHost(t)
	d, err := h.Open("/c", mustMode(t, "w"), 0o644)
	require.NoError(t, err)

	var s posixio.Shim
	require.NoError(t, s.Close(d))
	assert.NoError(t, s.Err())

	_, err = s.Write(d, []byte("x"), false)
	assert.ErrorIs(t, err, posixio.ErrBadDescriptor)
	_, err = s.Seek(d, 0, io.SeekStart)
	assert.ErrorIs(t, err, posixio.ErrBadDescriptor)
	assert.ErrorIs(t, s.Close(d), posixio.ErrBadDescriptor)
	assert.ErrorIs(t, s.Err(), posixio.ErrBadDescriptor)
}

func TestShim_FlockCooperative(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/lock", nil, 0o644))
	a := openDesc(t, h, "/lock", "r+")
	b := openDesc(t, h, "/lock", "r+")
	ctx := context.Background()

	var sa, sb posixio.Shim
	require.NoError(t, sa.Flock(ctx, a, posixio.LockEX))
	excl, shared := h.Locks().Holders("/lock")
	assert.NotZero(t, excl)
	assert.Equal(t, 0, shared)

	err := sb.Flock(ctx, b, posixio.LockSH|posixio.LockNB)
	assert.True(t, posixio.IsWouldBlock(err), "conflicting lock: %v", err)

	// Shared is compatible with shared.
	require.NoError(t, sa.Flock(ctx, a, posixio.LockSH))
	require.NoError(t, sb.Flock(ctx, b, posixio.LockSH|posixio.LockNB))
	_, shared = h.Locks().Holders("/lock")
	assert.Equal(t, 2, shared)

	err = sb.Flock(ctx, b, posixio.LockEX|posixio.LockNB)
	assert.True(t, posixio.IsWouldBlock(err), "upgrade against another holder: %v", err)

	// A blocking request waits until the other holder lets go.
	acquired := make(chan error, 1)
	go func() { acquired <- sb.Flock(ctx, b, posixio.LockEX) }()
	select {
	case err := <-acquired:
		t.Fatalf("exclusive lock granted while shared held: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, sa.Flock(ctx, a, posixio.LockUN))
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked lock not granted after unlock")
	}

	// Closing the last reference releases the lock.
	require.NoError(t, b.Close())
	excl, shared = h.Locks().Holders("/lock")
	assert.Zero(t, excl)
	assert.Equal(t, 0, shared)
}

func TestShim_FlockCancel(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/lock", nil, 0o644))
	a := openDesc(t, h, "/lock", "r+")
	b := openDesc(t, h, "/lock", "r+")

	var sa, sb posixio.Shim
	require.NoError(t, sa.Flock(context.Background(), a, posixio.LockEX))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sb.Flock(ctx, b, posixio.LockEX)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err=%v", err)
}

func TestShim_FlockFailedConversionDropsHold(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/lock", nil, 0o644))
	a := openDesc(t, h, "/lock", "r+")
	b := openDesc(t, h, "/lock", "r+")
	ctx := context.Background()

	var sa, sb posixio.Shim
	require.NoError(t, sa.Flock(ctx, a, posixio.LockSH))
	require.NoError(t, sb.Flock(ctx, b, posixio.LockSH))

	// The upgrade fails and, as with flock(2), b no longer holds anything.
	err := sb.Flock(ctx, b, posixio.LockEX|posixio.LockNB)
	assert.True(t, posixio.IsWouldBlock(err), "upgrade: %v", err)
	_, shared := h.Locks().Holders("/lock")
	assert.Equal(t, 1, shared)

	// Asking for the old mode again takes it for real.
	require.NoError(t, sb.Flock(ctx, b, posixio.LockSH|posixio.LockNB))
	_, shared = h.Locks().Holders("/lock")
	assert.Equal(t, 2, shared)
	err = sa.Flock(ctx, a, posixio.LockEX|posixio.LockNB)
	assert.True(t, posixio.IsWouldBlock(err), "a must not get exclusive while b shares: %v", err)
}

func TestShim_FlockUnsupported(t *testing.T) {
	h, fs := newMemHost(t)
	require.NoError(t, afero.WriteFile(fs, "/ro", nil, 0o644))
	ro := openDesc(t, h, "/ro", "r")
	r, _ := newPipe(t, h)
	ctx := context.Background()

	var s posixio.Shim
	err := s.Flock(ctx, ro, posixio.LockEX)
	assert.ErrorIs(t, err, posixio.ErrLockUnsupported, "exclusive lock needs a writable handle")
	assert.Equal(t, posixio.KindLockUnsupported, posixio.KindOf(err))

	err = s.Flock(ctx, r.Descriptor(), posixio.LockSH)
	assert.ErrorIs(t, err, posixio.ErrLockUnsupported)

	err = s.Flock(ctx, ro, posixio.FlockOp(0))
	assert.Equal(t, syscall.EINVAL, s.Errno())
	assert.Error(t, err)
}
