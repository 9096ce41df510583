// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"context"
	"io"
	"syscall"
	"testing"
	"time"

	"code.hybscloud.com/posixio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemPipe_NonblockingEnds(t *testing.T) {
	r, w := posixio.MemPipe(4)
	buf := make([]byte, 8)

	_, err := r.ReadNonblock(buf)
	assert.ErrorIs(t, err, posixio.ErrWouldBlock)
	assert.False(t, r.Ready(posixio.InterestRead))
	assert.True(t, w.Ready(posixio.InterestWrite))

	n, err := w.WriteNonblock([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, r.Buffered())
	assert.False(t, w.Ready(posixio.InterestWrite))
	_, err = w.WriteNonblock([]byte("x"))
	assert.ErrorIs(t, err, posixio.ErrWouldBlock)

	assert.True(t, r.Ready(posixio.InterestRead))
	n, err = r.ReadNonblock(buf[:3])
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	assert.Equal(t, 1, r.Buffered())
}

func TestMemPipe_BlockingWriteWaitsForSpace(t *testing.T) {
	r, w := posixio.MemPipe(2)
	done := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("hello"))
		done <- err
		_ = w.Close()
	}()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	require.NoError(t, <-done)
}

func TestMemPipe_Close(t *testing.T) {
	r, w := posixio.MemPipe(0)
	_, err := w.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), posixio.ErrClosedStream)
	assert.True(t, w.Ready(posixio.InterestWrite))

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf[:n]))
	_, err = r.ReadNonblock(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, r.Ready(posixio.InterestRead))

	r2, w2 := posixio.MemPipe(0)
	require.NoError(t, r2.Close())
	_, err = w2.Write([]byte("x"))
	assert.ErrorIs(t, err, syscall.EPIPE)
	_, err = r2.ReadNonblock(buf)
	assert.ErrorIs(t, err, posixio.ErrClosedStream)
}

func TestMemPipe_WaitReady(t *testing.T) {
	r, w := posixio.MemPipe(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	}()
	require.NoError(t, r.WaitReady(context.Background(), posixio.InterestRead))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitReady(ctx, posixio.InterestWrite), context.DeadlineExceeded)

	require.NoError(t, w.WaitReady(context.Background(), posixio.InterestWrite))
	assert.Equal(t, "mempipe:r", r.Name())
	assert.Equal(t, "mempipe:w", w.Name())
}

func TestMemPipe_Capabilities(t *testing.T) {
	h, _ := newMemHost(t)
	r, w := posixio.MemPipe(0)
	rd, err := h.Wrap(r)
	require.NoError(t, err)
	wd, err := h.Wrap(w)
	require.NoError(t, err)

	assert.Equal(t, posixio.KindSelectable, rd.Kind())
	assert.True(t, rd.Capabilities().Readable)
	assert.False(t, rd.Capabilities().Writable)
	assert.True(t, wd.Capabilities().Writable)
	assert.False(t, wd.Capabilities().Seekable)
	assert.True(t, rd.ModeFlags().IsReadable())
	assert.False(t, rd.ModeFlags().IsWritable())
}
