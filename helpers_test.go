// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"context"
	"testing"

	"code.hybscloud.com/posixio"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// newMemHost returns a Host over an in-memory filesystem whose pipes are
// MemPipes.
func newMemHost(t *testing.T) (*posixio.Host, afero.Fs) {
	t.Helper()
	return newMemHostConfig(t, &posixio.Config{})
}

func newMemHostConfig(t *testing.T, cfg *posixio.Config) (*posixio.Host, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	native := false
	cfg.FS = fs
	cfg.Native = &native
	h, err := posixio.NewHost(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, fs
}

// newOSHost returns a Host over the real filesystem with native pipes.
func newOSHost(t *testing.T) *posixio.Host {
	t.Helper()
	h, err := posixio.NewHost(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// newLoggedHost returns a memory Host whose logger records entries.
func newLoggedHost(t *testing.T) (*posixio.Host, afero.Fs, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h, fs := newMemHostConfig(t, &posixio.Config{Logger: logger})
	return h, fs, hook
}

func newPipe(t *testing.T, h *posixio.Host) (r, w *posixio.File) {
	t.Helper()
	r, w, err := h.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = posixio.CloseAll(context.Background(), r, w) })
	return r, w
}

// writeFile stores data at path and opens it with mode.
func writeFile(t *testing.T, h *posixio.Host, fs afero.Fs, path, data, mode string) *posixio.File {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(data), 0o644))
	f, err := h.OpenFile(path, mode, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = f.Finalize(context.Background(), true) })
	return f
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func writeFileRaw(fs afero.Fs, path, data string) error {
	return afero.WriteFile(fs, path, []byte(data), 0o644)
}
