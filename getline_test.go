// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"context"
	"io"
	"math"
	"testing"

	"code.hybscloud.com/posixio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGetlineArgs(t *testing.T) {
	latin1 := posixio.MustLookupEncoding("ISO-8859-1")
	cases := []struct {
		name string
		enc  *posixio.Encoding
		args []any
		want posixio.GetlineArgs
	}{
		{"none", posixio.UTF8, nil, posixio.DefaultGetlineArgs()},
		{
			"limit only", posixio.UTF8, []any{5},
			posixio.GetlineArgs{Sep: []byte("\n"), HasSep: true, Limit: 5, DefaultSep: true},
		},
		{
			"int64 limit", posixio.UTF8, []any{int64(7)},
			posixio.GetlineArgs{Sep: []byte("\n"), HasSep: true, Limit: 7, DefaultSep: true},
		},
		{
			"huge uint64 limit", posixio.UTF8, []any{uint64(math.MaxUint64)},
			posixio.GetlineArgs{Sep: []byte("\n"), HasSep: true, Limit: math.MaxInt, DefaultSep: true},
		},
		{
			"huge uint limit", posixio.UTF8, []any{"x", uint(math.MaxUint)},
			posixio.GetlineArgs{Sep: []byte("x"), HasSep: true, Limit: math.MaxInt},
		},
		{
			"sep and limit", posixio.UTF8, []any{"ab", 3},
			posixio.GetlineArgs{Sep: []byte("ab"), HasSep: true, Limit: 3},
		},
		{
			"sep and nil limit", posixio.UTF8, []any{"x", nil},
			posixio.GetlineArgs{Sep: []byte("x"), HasSep: true, Limit: -1},
		},
		{
			"bytes sep", posixio.UTF8, []any{[]byte("--")},
			posixio.GetlineArgs{Sep: []byte("--"), HasSep: true, Limit: -1},
		},
		{"nil sep", posixio.UTF8, []any{nil}, posixio.GetlineArgs{Limit: -1}},
		{"nil sep with limit", posixio.UTF8, []any{nil, 4}, posixio.GetlineArgs{Limit: 4}},
		{
			"paragraph", posixio.UTF8, []any{""},
			posixio.GetlineArgs{Sep: []byte{}, HasSep: true, Paragraph: true, Limit: -1},
		},
		{
			"chomp option", posixio.UTF8, []any{posixio.GetlineOptions{Chomp: true}},
			posixio.GetlineArgs{Sep: []byte("\n"), HasSep: true, Limit: -1, Chomp: true, DefaultSep: true},
		},
		{
			"non-ascii sep in utf-8", posixio.UTF8, []any{"→"},
			posixio.GetlineArgs{Sep: []byte("→"), HasSep: true, Limit: -1},
		},
		{
			"ascii sep in latin1", latin1, []any{";"},
			posixio.GetlineArgs{Sep: []byte(";"), HasSep: true, Limit: -1},
		},
		{
			"default sep in utf-16le", posixio.UTF16LE, nil,
			posixio.GetlineArgs{Sep: []byte("\n\x00"), HasSep: true, Limit: -1, DefaultSep: true},
		},
		{
			"encoded sep in utf-16le", posixio.UTF16LE,
			[]any{posixio.EncodedString{Bytes: []byte(";\x00"), Enc: posixio.UTF16LE}},
			posixio.GetlineArgs{Sep: []byte(";\x00"), HasSep: true, Limit: -1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := posixio.ParseGetlineArgs(tc.enc, tc.args...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseGetlineArgs_Errors(t *testing.T) {
	latin1 := posixio.MustLookupEncoding("ISO-8859-1")
	cases := []struct {
		name string
		enc  *posixio.Encoding
		args []any
		want error
	}{
		{"too many", posixio.UTF8, []any{"a", 1, 2}, posixio.ErrInvalidArgument},
		{"float sep", posixio.UTF8, []any{3.5}, posixio.ErrInvalidArgument},
		{"string limit", posixio.UTF8, []any{"x", "y"}, posixio.ErrInvalidArgument},
		{"ascii sep for utf-16le", posixio.UTF16LE, []any{"x"}, posixio.ErrEncodingMismatch},
		{"utf-8 sep for latin1", latin1, []any{"é"}, posixio.ErrEncodingMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := posixio.ParseGetlineArgs(tc.enc, tc.args...)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	_, err := posixio.ParseGetlineArgs(posixio.UTF16LE, "x")
	assert.Equal(t, posixio.KindConversion, posixio.KindOf(err))
}

// readLines collects Gets results until io.EOF.
func readLines(t *testing.T, f *posixio.File, args ...any) []string {
	t.Helper()
	var lines []string
	for {
		line, err := f.Gets(context.Background(), args...)
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
}

func TestGets_DefaultSeparator(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/l.txt", "a\nb\r\nc", "r")
	assert.Equal(t, []string{"a\n", "b\r\n", "c"}, readLines(t, f))
	assert.Equal(t, 3, f.Lineno())

	g := writeFile(t, h, fs, "/chomp.txt", "a\nb\r\n\nc", "r")
	assert.Equal(t, []string{"a", "b", "", "c"}, readLines(t, g, posixio.GetlineOptions{Chomp: true}))
}

func TestGets_SmallBuffer(t *testing.T) {
	h, fs := newMemHostConfig(t, &posixio.Config{ReadBufferMin: 3})
	f := writeFile(t, h, fs, "/l.txt", "first line\r\nsecond\n", "r")
	assert.Equal(t, []string{"first line", "second"}, readLines(t, f, posixio.GetlineOptions{Chomp: true}))

	// "\r" and "\n" arrive in different reads.
	g := writeFile(t, h, fs, "/split.txt", "ab\r\ncd\n", "r")
	assert.Equal(t, []string{"ab", "cd"}, readLines(t, g, posixio.GetlineOptions{Chomp: true}))
}

func TestGets_CustomSeparator(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/s.txt", "a--b--c", "r")
	assert.Equal(t, []string{"a--", "b--", "c"}, readLines(t, f, "--"))

	g := writeFile(t, h, fs, "/arrow.txt", "x→y→z", "r")
	assert.Equal(t, []string{"x→", "y→", "z"}, readLines(t, g, "→"))

	c := writeFile(t, h, fs, "/crlf.txt", "a\r\nb", "r")
	assert.Equal(t, []string{"a", "b"}, readLines(t, c, "\n", posixio.GetlineOptions{Chomp: true}))

	// Only a one-byte "\n" separator drops a preceding "\r".
	d := writeFile(t, h, fs, "/semi.txt", "a\r;b", "r")
	assert.Equal(t, []string{"a\r", "b"}, readLines(t, d, ";", posixio.GetlineOptions{Chomp: true}))
}

func TestGets_Limit(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/l.txt", "hello\nworld\n", "r")
	ctx := context.Background()

	line, err := f.Gets(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(line))
	assert.Equal(t, 0, f.Lineno())

	line, err = f.Gets(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "lo\n", string(line))
	assert.Equal(t, 1, f.Lineno())

	line, err = f.Gets(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, line)

	line, err = f.Gets(ctx, "\n", 100)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(line))
}

func TestGets_LimitNeverSplitsCharacter(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/mb.txt", "héllo", "r")
	ctx := context.Background()

	line, err := f.Gets(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "hé", string(line))

	line, err = f.Gets(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "l", string(line))
}

func TestGets_NoSeparator(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/all.txt", "one\ntwo\n", "r")
	ctx := context.Background()

	line, err := f.Gets(ctx, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, "one", string(line))

	line, err = f.Gets(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "\ntwo\n", string(line))

	_, err = f.Gets(ctx, nil)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGets_Paragraph(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/p.txt", "\n\npara one\nline\n\n\n\npara two\n", "r")
	assert.Equal(t, []string{"para one\nline\n\n", "para two\n"}, readLines(t, f, ""))
	assert.Equal(t, 2, f.Lineno())
}

func TestGetline_Args(t *testing.T) {
	h, fs := newMemHost(t)
	f := writeFile(t, h, fs, "/g.txt", "k=v;x=y", "r")
	ctx := context.Background()

	a, err := posixio.ParseGetlineArgs(posixio.UTF8, ";", posixio.GetlineOptions{Chomp: true})
	require.NoError(t, err)
	line, err := f.Getline(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "k=v", string(line))
	line, err = f.Getline(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "x=y", string(line))
	_, err = f.Getline(ctx, a)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGets_UTF16LE(t *testing.T) {
	h, fs := newMemHost(t)
	raw, err := posixio.UTF16LE.EncodeString("ab\nĀc\n")
	require.NoError(t, err)
	f := writeFile(t, h, fs, "/u16.txt", string(raw), "r:UTF-16LE")
	assert.Equal(t, posixio.UTF16LE, f.ExternalEncoding())

	want1, _ := posixio.UTF16LE.EncodeString("ab\n")
	want2, _ := posixio.UTF16LE.EncodeString("Āc\n")
	assert.Equal(t, []string{string(want1), string(want2)}, readLines(t, f))

	g := writeFile(t, h, fs, "/u16b.txt", string(raw), "r:UTF-16LE")
	chomped, _ := posixio.UTF16LE.EncodeString("ab")
	line, err := g.Gets(context.Background(), posixio.GetlineOptions{Chomp: true})
	require.NoError(t, err)
	assert.Equal(t, chomped, line)

	_, err = g.Gets(context.Background(), ";")
	assert.ErrorIs(t, err, posixio.ErrEncodingMismatch)
}

func TestGets_ConvertedToUTF8(t *testing.T) {
	h, fs := newMemHost(t)
	raw, err := posixio.UTF16LE.EncodeString("héllo\nwörld\n")
	require.NoError(t, err)
	f := writeFile(t, h, fs, "/u16.txt", string(raw), "r:UTF-16LE:UTF-8")
	assert.Equal(t, posixio.UTF8, f.InternalEncoding())
	assert.Equal(t, []string{"héllo\n", "wörld\n"}, readLines(t, f))
}
