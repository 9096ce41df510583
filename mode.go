// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"os"
	"strings"
)

// AccessMode is the read/write half of an open mode.
type AccessMode uint8

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

func (a AccessMode) String() string {
	switch a {
	case ReadOnly:
		return "ReadOnly"
	case WriteOnly:
		return "WriteOnly"
	case ReadWrite:
		return "ReadWrite"
	default:
		return "AccessMode(invalid)"
	}
}

// ModeFlags is an immutable open-mode value. Derived modes are new values.
type ModeFlags uint32

const (
	mfAccessMask ModeFlags = 0x3
	mfCreate     ModeFlags = 1 << (iota + 1)
	mfExclusive
	mfTruncate
	mfAppend
	mfBinary
	mfText
	mfTemporary
	mfShareDelete
)

// Open-flag bits without a POSIX spelling. They sit above the bits any
// supported platform assigns so Posix/ModeFlagsFromPosix round-trip.
const (
	OBinary      = 1 << 26
	OText        = 1 << 27
	OTmpfile     = 1 << 28
	OShareDelete = 1 << 29
)

const oAccMode = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

// NewModeFlags builds a ModeFlags from an access mode.
func NewModeFlags(a AccessMode) ModeFlags { return ModeFlags(a) & mfAccessMask }

func (m ModeFlags) Access() AccessMode { return AccessMode(m & mfAccessMask) }
func (m ModeFlags) IsReadable() bool   { return m.Access() != WriteOnly }
func (m ModeFlags) IsWritable() bool   { return m.Access() != ReadOnly }
func (m ModeFlags) IsCreate() bool     { return m&mfCreate != 0 }
func (m ModeFlags) IsExclusive() bool  { return m&mfExclusive != 0 }
func (m ModeFlags) IsTruncate() bool   { return m&mfTruncate != 0 }
func (m ModeFlags) IsAppendable() bool { return m&mfAppend != 0 }
func (m ModeFlags) IsBinary() bool     { return m&mfBinary != 0 }
func (m ModeFlags) IsText() bool       { return m&mfText != 0 }
func (m ModeFlags) IsTemporary() bool  { return m&mfTemporary != 0 }
func (m ModeFlags) IsShareDelete() bool {
	return m&mfShareDelete != 0
}

// WithAccess returns m with its access mode replaced.
func (m ModeFlags) WithAccess(a AccessMode) ModeFlags {
	return m&^mfAccessMask | ModeFlags(a)&mfAccessMask
}

// WithBinary returns m in binary mode, clearing text mode.
func (m ModeFlags) WithBinary() ModeFlags { return m&^mfText | mfBinary }

// ParseModeFlags parses a mode string such as "r", "wb+", "ax" or
// "r:utf-8". The part after the first ':' is returned unparsed as encSpec.
func ParseModeFlags(s string) (m ModeFlags, encSpec string, err error) {
	if s == "" {
		return 0, "", ErrInvalidMode
	}
	switch s[0] {
	case 'r':
		m = NewModeFlags(ReadOnly)
	case 'w':
		m = NewModeFlags(WriteOnly) | mfTruncate | mfCreate
	case 'a':
		m = NewModeFlags(WriteOnly) | mfAppend | mfCreate
	default:
		return 0, "", ErrInvalidMode
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case 'b':
			m |= mfBinary
		case 't':
			m |= mfText
		case '+':
			m = m.WithAccess(ReadWrite)
		case 'x':
			if s[0] != 'w' {
				return 0, "", ErrInvalidMode
			}
			m |= mfExclusive
		case ':':
			encSpec = s[i+1:]
			i = len(s)
		default:
			return 0, "", ErrInvalidMode
		}
	}
	if m.IsBinary() && m.IsText() {
		return 0, "", ErrInvalidMode
	}
	return m, encSpec, nil
}

// ModeFlagsFromPosix converts POSIX open flags (os.O_* plus the O* bits of
// this package) to a ModeFlags.
func ModeFlagsFromPosix(flags int) (ModeFlags, error) {
	var m ModeFlags
	switch flags & oAccMode {
	case os.O_RDONLY:
		m = NewModeFlags(ReadOnly)
	case os.O_WRONLY:
		m = NewModeFlags(WriteOnly)
	case os.O_RDWR:
		m = NewModeFlags(ReadWrite)
	default:
		return 0, ErrInvalidMode
	}
	if flags&os.O_CREATE != 0 {
		m |= mfCreate
	}
	if flags&os.O_EXCL != 0 {
		m |= mfExclusive
	}
	if flags&os.O_TRUNC != 0 {
		m |= mfTruncate
	}
	if flags&os.O_APPEND != 0 {
		m |= mfAppend
	}
	if flags&OBinary != 0 {
		m |= mfBinary
	}
	if flags&OText != 0 {
		m |= mfText
	}
	if flags&OTmpfile != 0 {
		m |= mfTemporary
	}
	if flags&OShareDelete != 0 {
		m |= mfShareDelete
	}
	if m.IsBinary() && m.IsText() {
		return 0, ErrInvalidMode
	}
	return m, nil
}

// Posix returns the POSIX open-flag integer for m.
func (m ModeFlags) Posix() int {
	var flags int
	switch m.Access() {
	case ReadOnly:
		flags = os.O_RDONLY
	case WriteOnly:
		flags = os.O_WRONLY
	case ReadWrite:
		flags = os.O_RDWR
	}
	if m.IsCreate() {
		flags |= os.O_CREATE
	}
	if m.IsExclusive() {
		flags |= os.O_EXCL
	}
	if m.IsTruncate() {
		flags |= os.O_TRUNC
	}
	if m.IsAppendable() {
		flags |= os.O_APPEND
	}
	if m.IsBinary() {
		flags |= OBinary
	}
	if m.IsText() {
		flags |= OText
	}
	if m.IsTemporary() {
		flags |= OTmpfile
	}
	if m.IsShareDelete() {
		flags |= OShareDelete
	}
	return flags
}

// OSFlags is Posix with the package-private bits removed, suitable for
// os.OpenFile and afero.Fs.OpenFile.
func (m ModeFlags) OSFlags() int {
	return m.Posix() &^ (OBinary | OText | OTmpfile | OShareDelete)
}

// IsSubsetOf reports whether m asks for no privilege super lacks.
func (m ModeFlags) IsSubsetOf(super ModeFlags) bool {
	if m.IsReadable() && !super.IsReadable() {
		return false
	}
	if m.IsWritable() && !super.IsWritable() {
		return false
	}
	if m.IsAppendable() && !super.IsAppendable() {
		return false
	}
	return true
}

// String renders the canonical mode string for m.
func (m ModeFlags) String() string {
	var b strings.Builder
	switch {
	case m.IsAppendable():
		b.WriteByte('a')
	case m.Access() == WriteOnly:
		b.WriteByte('w')
	case m.Access() == ReadWrite && m.IsTruncate():
		b.WriteByte('w')
	default:
		b.WriteByte('r')
	}
	if m.IsBinary() {
		b.WriteByte('b')
	} else if m.IsText() {
		b.WriteByte('t')
	}
	if m.Access() == ReadWrite {
		b.WriteByte('+')
	}
	if m.IsExclusive() && b.String()[0] == 'w' {
		b.WriteByte('x')
	}
	return b.String()
}

// ModeFlagsFromCapabilities infers the open mode of an existing handle.
func ModeFlagsFromCapabilities(c Capabilities) ModeFlags {
	switch {
	case c.Readable && c.Writable:
		return NewModeFlags(ReadWrite)
	case c.Writable:
		return NewModeFlags(WriteOnly)
	default:
		return NewModeFlags(ReadOnly)
	}
}

// FMode is the internal file-mode bit set of a File.
type FMode uint32

const (
	FReadable          FMode = 0x00000001
	FWritable          FMode = 0x00000002
	FReadWrite               = FReadable | FWritable
	FBinmode           FMode = 0x00000004
	FSync              FMode = 0x00000008
	FTTY               FMode = 0x00000010
	FDuplex            FMode = 0x00000020
	FAppend            FMode = 0x00000040
	FCreate            FMode = 0x00000080
	FWSplit            FMode = 0x00000200
	FExclusive         FMode = 0x00000400
	FTrunc             FMode = 0x00000800
	FTextmode          FMode = 0x00001000
	FWSplitInitialized FMode = 0x00002000
	FTmpfile           FMode = 0x00004000
	FPrep              FMode = 0x00010000
	FSetEncByBOM       FMode = 0x00100000
)

func (f FMode) Has(bits FMode) bool { return f&bits == bits }
func (f FMode) IsReadable() bool    { return f&FReadable != 0 }
func (f FMode) IsWritable() bool    { return f&FWritable != 0 }

// ParseFMode parses a mode string into fmode bits. A "bom|utf-*" encoding
// part sets FSetEncByBOM.
func ParseFMode(s string) (FMode, string, error) {
	m, encSpec, err := ParseModeFlags(s)
	if err != nil {
		return 0, "", err
	}
	f := m.FMode()
	if hasBOMPrefix(encSpec) {
		f |= FSetEncByBOM
	}
	return f, encSpec, nil
}

func hasBOMPrefix(encSpec string) bool {
	const prefix = "bom|utf-"
	return len(encSpec) >= len(prefix) && strings.EqualFold(encSpec[:len(prefix)], prefix)
}

// FMode converts m to fmode bits.
func (m ModeFlags) FMode() FMode {
	var f FMode
	if m.IsReadable() {
		f |= FReadable
	}
	if m.IsWritable() {
		f |= FWritable
	}
	if m.IsAppendable() {
		f |= FAppend
	}
	if m.IsCreate() {
		f |= FCreate
	}
	if m.IsTruncate() {
		f |= FTrunc
	}
	if m.IsExclusive() {
		f |= FExclusive
	}
	if m.IsBinary() {
		f |= FBinmode
	}
	if m.IsText() {
		f |= FTextmode
	}
	if m.IsTemporary() {
		f |= FTmpfile
	}
	return f
}

// ModeFlags converts fmode bits back to a ModeFlags value.
func (f FMode) ModeFlags() ModeFlags {
	var m ModeFlags
	switch f & FReadWrite {
	case FReadWrite:
		m = NewModeFlags(ReadWrite)
	case FWritable:
		m = NewModeFlags(WriteOnly)
	default:
		m = NewModeFlags(ReadOnly)
	}
	if f&FAppend != 0 {
		m |= mfAppend
	}
	if f&FCreate != 0 {
		m |= mfCreate
	}
	if f&FTrunc != 0 {
		m |= mfTruncate
	}
	if f&FExclusive != 0 {
		m |= mfExclusive
	}
	if f&FBinmode != 0 {
		m |= mfBinary
	} else if f&FTextmode != 0 {
		m |= mfText
	}
	if f&FTmpfile != 0 {
		m |= mfTemporary
	}
	return m
}

// OFlags returns the POSIX open flags for f.
func (f FMode) OFlags() int { return f.ModeFlags().Posix() }

// FModeFromOFlags converts POSIX open flags to fmode bits.
func FModeFromOFlags(oflags int) FMode {
	var f FMode
	switch oflags & oAccMode {
	case os.O_RDONLY:
		f = FReadable
	case os.O_WRONLY:
		f = FWritable
	case os.O_RDWR:
		f = FReadWrite
	}
	if oflags&os.O_APPEND != 0 {
		f |= FAppend
	}
	if oflags&os.O_TRUNC != 0 {
		f |= FTrunc
	}
	if oflags&os.O_CREATE != 0 {
		f |= FCreate
	}
	if oflags&os.O_EXCL != 0 {
		f |= FExclusive
	}
	if oflags&OBinary != 0 {
		f |= FBinmode
	}
	return f
}

// OFlagsModeString renders POSIX open flags as a mode string.
func OFlagsModeString(oflags int) (string, error) {
	bin := ""
	if oflags&OBinary != 0 {
		bin = "b"
	}
	acc := oflags & oAccMode
	if oflags&os.O_APPEND != 0 {
		switch acc {
		case os.O_RDWR:
			return "a" + bin + "+", nil
		case os.O_WRONLY:
			return "a" + bin, nil
		}
		return "", ErrInvalidMode
	}
	switch acc {
	case os.O_RDONLY:
		return "r" + bin, nil
	case os.O_WRONLY:
		return "w" + bin, nil
	case os.O_RDWR:
		if oflags&os.O_TRUNC != 0 {
			return "w" + bin + "+", nil
		}
		return "r" + bin + "+", nil
	}
	return "", ErrInvalidMode
}

// String renders f the way a reopened stream reports its mode.
func (f FMode) String() string {
	if f&FAppend != 0 {
		if f&FReadWrite == FReadWrite {
			return "ab+"
		}
		return "ab"
	}
	switch f & FReadWrite {
	case FReadable:
		return "rb"
	case FWritable:
		return "wb"
	case FReadWrite:
		if f&FCreate != 0 {
			return "wb+"
		}
		return "rb+"
	}
	return "r"
}
