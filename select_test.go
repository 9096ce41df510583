// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"context"
	"testing"
	"time"

	"code.hybscloud.com/posixio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_Probe(t *testing.T) {
	h, _ := newMemHost(t)
	r, w := newPipe(t, h)

	res, err := h.Select(context.Background(), []*posixio.File{r}, []*posixio.File{w}, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.Read)
	assert.Equal(t, []*posixio.File{w}, res.Write)
	assert.False(t, res.Empty())
}

func TestSelect_Timeout(t *testing.T) {
	h, _ := newMemHost(t)
	r, _ := newPipe(t, h)

	start := time.Now()
	res, err := h.Select(context.Background(), []*posixio.File{r}, nil, nil, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.True(t, res.Empty())
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSelect_WakesOnInput(t *testing.T) {
	h, _ := newMemHost(t)
	r, w := newPipe(t, h)
	r2, _ := newPipe(t, h)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = w.WriteString("ping")
	}()
	res, err := h.Select(context.Background(), []*posixio.File{r2, r}, nil, nil, posixio.Forever)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []*posixio.File{r}, res.Read)

	buf := make([]byte, 8)
	n, err := r.ReadPartial(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestSelect_EOFIsReadable(t *testing.T) {
	h, _ := newMemHost(t)
	r, w := newPipe(t, h)
	require.NoError(t, w.Close())

	res, err := h.Select(context.Background(), []*posixio.File{r}, nil, nil, posixio.Forever)
	require.NoError(t, err)
	assert.Equal(t, []*posixio.File{r}, res.Read)
}

func TestSelect_ContextCancel(t *testing.T) {
	h, _ := newMemHost(t)
	r, _ := newPipe(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := h.Select(ctx, []*posixio.File{r}, nil, nil, posixio.Forever)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res)
}

func TestSelect_BufferedInputIsReady(t *testing.T) {
	h, fs := newMemHost(t)
	r, w := newPipe(t, h)
	ctx := context.Background()

	_, err := w.WriteString("ab")
	require.NoError(t, err)
	b, err := r.GetByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	assert.Equal(t, 1, r.ReadPending())

	res, err := h.Select(ctx, []*posixio.File{r}, nil, nil, posixio.Forever)
	require.NoError(t, err)
	assert.Equal(t, []*posixio.File{r}, res.Read)

	// Regular files never block.
	f := writeFile(t, h, fs, "/plain.txt", "", "r+")
	res, err = h.Select(ctx, []*posixio.File{f}, []*posixio.File{f}, nil, posixio.Forever)
	require.NoError(t, err)
	assert.Equal(t, []*posixio.File{f}, res.Read)
	assert.Equal(t, []*posixio.File{f}, res.Write)

	res, err = h.Select(ctx, nil, nil, []*posixio.File{f}, 0)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSelect_ClosedFile(t *testing.T) {
	h, _ := newMemHost(t)
	r, _ := newPipe(t, h)
	require.NoError(t, r.Close())

	_, err := h.Select(context.Background(), []*posixio.File{r}, nil, nil, 0)
	assert.ErrorIs(t, err, posixio.ErrBadDescriptor)
}

func TestFile_WaitPipe(t *testing.T) {
	h, _ := newMemHost(t)
	r, w := newPipe(t, h)
	ctx := context.Background()

	ok, err := r.Wait(ctx, posixio.InterestRead, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.Wait(ctx, posixio.InterestWrite, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = w.WriteString("x")
	require.NoError(t, err)
	ok, err = r.Wait(ctx, posixio.InterestRead, posixio.Forever)
	require.NoError(t, err)
	assert.True(t, ok)
}
