// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"errors"
	"os"
	"testing"

	"code.hybscloud.com/posixio"
)

func TestParseModeFlags(t *testing.T) {
	cases := []struct {
		in       string
		access   posixio.AccessMode
		create   bool
		truncate bool
		appendf  bool
		binary   bool
		text     bool
		excl     bool
		encSpec  string
		str      string
	}{
		{"r", posixio.ReadOnly, false, false, false, false, false, false, "", "r"},
		{"r+", posixio.ReadWrite, false, false, false, false, false, false, "", "r+"},
		{"rb+", posixio.ReadWrite, false, false, false, true, false, false, "", "rb+"},
		{"r+b", posixio.ReadWrite, false, false, false, true, false, false, "", "rb+"},
		{"w", posixio.WriteOnly, true, true, false, false, false, false, "", "w"},
		{"w+", posixio.ReadWrite, true, true, false, false, false, false, "", "w+"},
		{"wx", posixio.WriteOnly, true, true, false, false, false, true, "", "wx"},
		{"a", posixio.WriteOnly, true, false, true, false, false, false, "", "a"},
		{"a+", posixio.ReadWrite, true, false, true, false, false, false, "", "a+"},
		{"rt", posixio.ReadOnly, false, false, false, false, true, false, "", "rt"},
		{"r:utf-16le:utf-8", posixio.ReadOnly, false, false, false, false, false, false, "utf-16le:utf-8", "r"},
		{"rb:bom|utf-8", posixio.ReadOnly, false, false, false, true, false, false, "bom|utf-8", "rb"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			m, enc, err := posixio.ParseModeFlags(tc.in)
			if err != nil {
				t.Fatalf("ParseModeFlags(%q): %v", tc.in, err)
			}
			if m.Access() != tc.access {
				t.Fatalf("Access()=%v want %v", m.Access(), tc.access)
			}
			if m.IsCreate() != tc.create || m.IsTruncate() != tc.truncate || m.IsAppendable() != tc.appendf {
				t.Fatalf("create/truncate/append = %v/%v/%v", m.IsCreate(), m.IsTruncate(), m.IsAppendable())
			}
			if m.IsBinary() != tc.binary || m.IsText() != tc.text || m.IsExclusive() != tc.excl {
				t.Fatalf("binary/text/excl = %v/%v/%v", m.IsBinary(), m.IsText(), m.IsExclusive())
			}
			if enc != tc.encSpec {
				t.Fatalf("encSpec=%q want %q", enc, tc.encSpec)
			}
			if m.String() != tc.str {
				t.Fatalf("String()=%q want %q", m.String(), tc.str)
			}
		})
	}
}

func TestParseModeFlags_Invalid(t *testing.T) {
	for _, in := range []string{"", "z", "rq", "rbt", "rx", "ax", "wbt+"} {
		if _, _, err := posixio.ParseModeFlags(in); !errors.Is(err, posixio.ErrInvalidMode) {
			t.Fatalf("ParseModeFlags(%q) err=%v want ErrInvalidMode", in, err)
		}
	}
}

func TestModeFlags_SharedAccessBits(t *testing.T) {
	plus, _, _ := posixio.ParseModeFlags("r+")
	binPlus, _, _ := posixio.ParseModeFlags("rb+")
	if plus.Access() != binPlus.Access() {
		t.Fatalf("r+ and rb+ differ in access: %v vs %v", plus.Access(), binPlus.Access())
	}
	if plus.Posix()&^posixio.OBinary != binPlus.Posix()&^posixio.OBinary {
		t.Fatalf("r+ and rb+ differ beyond the binary bit")
	}
	if plus.WithBinary() != binPlus {
		t.Fatalf("r+ WithBinary = %v want %v", plus.WithBinary(), binPlus)
	}
}

func TestModeFlags_PosixRoundTrip(t *testing.T) {
	flags := []int{
		os.O_RDONLY,
		os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
		os.O_RDWR | os.O_APPEND,
		os.O_WRONLY | os.O_CREATE | os.O_EXCL,
		os.O_RDONLY | posixio.OBinary,
		os.O_RDWR | posixio.OText | posixio.OTmpfile | posixio.OShareDelete,
	}
	for _, fl := range flags {
		m, err := posixio.ModeFlagsFromPosix(fl)
		if err != nil {
			t.Fatalf("ModeFlagsFromPosix(%#x): %v", fl, err)
		}
		if got := m.Posix(); got != fl {
			t.Fatalf("round trip %#x -> %v -> %#x", fl, m, got)
		}
		back, err := posixio.ModeFlagsFromPosix(m.Posix())
		if err != nil || back != m {
			t.Fatalf("second round trip %v -> %v (%v)", m, back, err)
		}
	}
	if _, err := posixio.ModeFlagsFromPosix(os.O_RDONLY | posixio.OBinary | posixio.OText); !errors.Is(err, posixio.ErrInvalidMode) {
		t.Fatalf("binary+text accepted: %v", err)
	}
	m, _ := posixio.ModeFlagsFromPosix(os.O_RDWR | posixio.OBinary)
	if m.OSFlags() != os.O_RDWR {
		t.Fatalf("OSFlags()=%#x keeps package bits", m.OSFlags())
	}
}

func TestModeFlags_IsSubsetOf(t *testing.T) {
	r := posixio.NewModeFlags(posixio.ReadOnly)
	w := posixio.NewModeFlags(posixio.WriteOnly)
	rw := posixio.NewModeFlags(posixio.ReadWrite)
	a, _, _ := posixio.ParseModeFlags("a")
	cases := []struct {
		sub, super posixio.ModeFlags
		want       bool
	}{
		{r, rw, true},
		{w, rw, true},
		{rw, r, false},
		{rw, w, false},
		{r, r, true},
		{a, w, false},
		{w, a, true},
		{a, a, true},
	}
	for _, tc := range cases {
		if got := tc.sub.IsSubsetOf(tc.super); got != tc.want {
			t.Fatalf("%v.IsSubsetOf(%v)=%v want %v", tc.sub, tc.super, got, tc.want)
		}
	}
}

func TestFMode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"r", "rb"},
		{"w", "wb"},
		{"r+", "rb+"},
		{"w+", "wb+"},
		{"a", "ab"},
		{"a+", "ab+"},
	}
	for _, tc := range cases {
		f, _, err := posixio.ParseFMode(tc.in)
		if err != nil {
			t.Fatalf("ParseFMode(%q): %v", tc.in, err)
		}
		if f.String() != tc.want {
			t.Fatalf("ParseFMode(%q).String()=%q want %q", tc.in, f.String(), tc.want)
		}
		m, _, _ := posixio.ParseModeFlags(tc.in)
		if f.ModeFlags() != m {
			t.Fatalf("FMode(%q).ModeFlags()=%v want %v", tc.in, f.ModeFlags(), m)
		}
		if posixio.FModeFromOFlags(f.OFlags()) != f {
			t.Fatalf("FModeFromOFlags(%#x)=%#x want %#x", f.OFlags(), posixio.FModeFromOFlags(f.OFlags()), f)
		}
	}

	f, enc, err := posixio.ParseFMode("r:BOM|UTF-8")
	if err != nil || enc != "BOM|UTF-8" || !f.Has(posixio.FSetEncByBOM|posixio.FReadable) {
		t.Fatalf("ParseFMode bom = %#x %q %v", f, enc, err)
	}
}

func TestOFlagsModeString(t *testing.T) {
	cases := []struct {
		flags int
		want  string
	}{
		{os.O_RDONLY, "r"},
		{os.O_WRONLY, "w"},
		{os.O_RDWR, "r+"},
		{os.O_RDWR | os.O_TRUNC, "w+"},
		{os.O_WRONLY | os.O_APPEND, "a"},
		{os.O_RDWR | os.O_APPEND | posixio.OBinary, "ab+"},
		{os.O_RDONLY | posixio.OBinary, "rb"},
	}
	for _, tc := range cases {
		got, err := posixio.OFlagsModeString(tc.flags)
		if err != nil || got != tc.want {
			t.Fatalf("OFlagsModeString(%#x)=%q,%v want %q", tc.flags, got, err, tc.want)
		}
	}
	if _, err := posixio.OFlagsModeString(os.O_RDONLY | os.O_APPEND); !errors.Is(err, posixio.ErrInvalidMode) {
		t.Fatalf("read-only append accepted: %v", err)
	}
}

func TestModeFlagsFromCapabilities(t *testing.T) {
	cases := []struct {
		caps posixio.Capabilities
		want posixio.AccessMode
	}{
		{posixio.Capabilities{Readable: true}, posixio.ReadOnly},
		{posixio.Capabilities{Writable: true}, posixio.WriteOnly},
		{posixio.Capabilities{Readable: true, Writable: true}, posixio.ReadWrite},
		{posixio.Capabilities{}, posixio.ReadOnly},
	}
	for _, tc := range cases {
		if got := posixio.ModeFlagsFromCapabilities(tc.caps).Access(); got != tc.want {
			t.Fatalf("ModeFlagsFromCapabilities(%+v)=%v want %v", tc.caps, got, tc.want)
		}
	}
}
