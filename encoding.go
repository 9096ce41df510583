// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

// Encoding describes a character encoding known to the conversion engine.
// Encodings are interned: two lookups of the same name return the same
// pointer, so identity comparison is meaningful.
type Encoding struct {
	name   string
	enc    encoding.Encoding
	binary bool
	compat bool
	minLen int
	maxLen int
	kind   encKind
}

type encKind uint8

const (
	encGeneric encKind = iota
	encUTF8
	encASCII
	encBinary
	encUTF16LE
	encUTF16BE
	encUTF32LE
	encUTF32BE
	encSingleByte
)

var (
	// Binary is ASCII-8BIT: raw bytes, never converted.
	Binary = &Encoding{name: "ASCII-8BIT", binary: true, compat: true, minLen: 1, maxLen: 1, kind: encBinary}
	UTF8   = &Encoding{name: "UTF-8", enc: unicode.UTF8, compat: true, minLen: 1, maxLen: utf8.UTFMax, kind: encUTF8}
	// USASCII rejects every byte above 0x7f.
	USASCII = &Encoding{name: "US-ASCII", enc: asciiEncoding{}, compat: true, minLen: 1, maxLen: 1, kind: encASCII}
	UTF16LE = &Encoding{name: "UTF-16LE", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), minLen: 2, maxLen: 4, kind: encUTF16LE}
	UTF16BE = &Encoding{name: "UTF-16BE", enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), minLen: 2, maxLen: 4, kind: encUTF16BE}
	UTF32LE = &Encoding{name: "UTF-32LE", enc: utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), minLen: 4, maxLen: 4, kind: encUTF32LE}
	UTF32BE = &Encoding{name: "UTF-32BE", enc: utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), minLen: 4, maxLen: 4, kind: encUTF32BE}
)

var encodingTable = struct {
	sync.Mutex
	byName map[string]*Encoding
}{byName: map[string]*Encoding{
	"ASCII-8BIT": Binary,
	"BINARY":     Binary,
	"UTF-8":      UTF8,
	"UTF8":       UTF8,
	"US-ASCII":   USASCII,
	"ASCII":      USASCII,
	"UTF-16LE":   UTF16LE,
	"UTF-16BE":   UTF16BE,
	"UTF-32LE":   UTF32LE,
	"UTF-32BE":   UTF32BE,
}}

// LookupEncoding finds an encoding by name (case-insensitive). Names known
// to IANA or the WHATWG index resolve through golang.org/x/text.
func LookupEncoding(name string) (*Encoding, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("%w: empty encoding name", ErrConversion)
	}
	encodingTable.Lock()
	defer encodingTable.Unlock()
	if e, ok := encodingTable.byName[key]; ok {
		return e, nil
	}
	enc, canonical := resolveEncoding(name)
	if enc == nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrConversion, name)
	}
	if e, ok := encodingTable.byName[strings.ToUpper(canonical)]; ok {
		encodingTable.byName[key] = e
		return e, nil
	}
	e := newEncoding(canonical, enc)
	encodingTable.byName[key] = e
	encodingTable.byName[strings.ToUpper(canonical)] = e
	return e, nil
}

func resolveEncoding(name string) (encoding.Encoding, string) {
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		if canonical, err := ianaindex.IANA.Name(enc); err == nil {
			return enc, canonical
		}
		return enc, strings.ToUpper(name)
	}
	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		if canonical, err := ianaindex.IANA.Name(enc); err == nil {
			return enc, canonical
		}
		return enc, strings.ToUpper(name)
	}
	return nil, ""
}

func newEncoding(name string, enc encoding.Encoding) *Encoding {
	e := &Encoding{name: name, enc: enc, kind: encGeneric, minLen: 1, maxLen: 4}
	if _, ok := enc.(*charmap.Charmap); ok {
		e.kind = encSingleByte
		e.maxLen = 1
	}
	const sample = "\n\r Az09~"
	out, err := enc.NewEncoder().Bytes([]byte(sample))
	e.compat = err == nil && string(out) == sample
	if a, err := enc.NewEncoder().Bytes([]byte("A")); err == nil && len(a) > 0 {
		e.minLen = len(a)
	}
	return e
}

// MustLookupEncoding is LookupEncoding for names known at compile time.
func MustLookupEncoding(name string) *Encoding {
	e, err := LookupEncoding(name)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Encoding) String() string { return e.Name() }

// Name returns the canonical name.
func (e *Encoding) Name() string {
	if e == nil {
		return ""
	}
	return e.name
}

// IsBinary reports whether e is ASCII-8BIT.
func (e *Encoding) IsBinary() bool { return e != nil && e.binary }

// IsASCIICompatible reports whether 7-bit ASCII text has the same bytes in e.
func (e *Encoding) IsASCIICompatible() bool { return e == nil || e.compat }

// MinLen is the byte length of the shortest character.
func (e *Encoding) MinLen() int {
	if e == nil {
		return 1
	}
	return e.minLen
}

// Newline returns "\n" encoded in e.
func (e *Encoding) Newline() []byte {
	if e == nil || e.compat {
		return []byte{'\n'}
	}
	nl, err := e.EncodeString("\n")
	if err != nil {
		return []byte{'\n'}
	}
	return nl
}

// EncodeString encodes UTF-8 text into e.
func (e *Encoding) EncodeString(s string) ([]byte, error) {
	if e == nil || e.binary || e.kind == encUTF8 {
		return []byte(s), nil
	}
	return e.enc.NewEncoder().Bytes([]byte(s))
}

// decodeToUTF8 converts bytes in e to UTF-8.
func (e *Encoding) decodeToUTF8(p []byte) ([]byte, error) {
	if e == nil || e.binary || e.kind == encUTF8 {
		return p, nil
	}
	return e.enc.NewDecoder().Bytes(p)
}

// decoder returns a strict transformer from e into UTF-8: malformed input
// is reported as an invalidSequenceError, never replaced.
func (e *Encoding) decoder() transform.Transformer {
	switch e.kind {
	case encUTF8:
		return &utf8Validator{}
	case encUTF16LE:
		return utfDecoder{width: 2}
	case encUTF16BE:
		return utfDecoder{width: 2, big: true}
	case encUTF32LE:
		return utfDecoder{width: 4}
	case encUTF32BE:
		return utfDecoder{width: 4, big: true}
	case encSingleByte:
		if cm, ok := e.enc.(*charmap.Charmap); ok {
			return charmapDecoder{cm: cm}
		}
	}
	return &strictDecoder{e: e, inner: e.enc.NewDecoder()}
}

func (e *Encoding) encoder(replace bool) transform.Transformer {
	enc := e.enc.NewEncoder()
	if replace {
		return encoding.ReplaceUnsupported(enc)
	}
	return enc
}

// CharLen returns the byte length of the character starting at p[0]:
// n > 0 for a complete character, 0 when more bytes are needed, and -1
// when p does not start a valid character.
func (e *Encoding) CharLen(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	if e == nil {
		return 1
	}
	switch e.kind {
	case encBinary, encASCII, encSingleByte:
		return 1
	case encUTF8:
		if p[0] < utf8.RuneSelf {
			return 1
		}
		if !utf8.FullRune(p) {
			if utf8.RuneStart(p[0]) && p[0] >= 0xc2 && p[0] <= 0xf4 {
				return 0
			}
			return -1
		}
		r, n := utf8.DecodeRune(p)
		if r == utf8.RuneError && n == 1 {
			return -1
		}
		return n
	case encUTF16LE, encUTF16BE:
		if len(p) < 2 {
			return 0
		}
		hi := p[1]
		if e.kind == encUTF16BE {
			hi = p[0]
		}
		if hi >= 0xd8 && hi <= 0xdb {
			if len(p) < 4 {
				return 0
			}
			return 4
		}
		return 2
	case encUTF32LE, encUTF32BE:
		if len(p) < 4 {
			return 0
		}
		return 4
	}
	return e.scanCharLen(p)
}

var replacementChar = []byte(string(utf8.RuneError))

// scanCharLen finds the shortest prefix the decoder accepts as a whole
// character. Stateless multi-byte encodings only.
func (e *Encoding) scanCharLen(p []byte) int {
	var dst [utf8.UTFMax * 2]byte
	for n := 1; n <= e.maxLen && n <= len(p); n++ {
		dec := e.enc.NewDecoder()
		nDst, nSrc, err := dec.Transform(dst[:], p[:n], false)
		if err == nil && nSrc == n && nDst > 0 {
			if bytes.Equal(dst[:nDst], replacementChar) {
				return -1
			}
			return n
		}
	}
	if len(p) < e.maxLen {
		return 0
	}
	return -1
}

// leftAdjustCharHead moves pos back to the start of the character that
// contains it; buf[start:] is known to begin on a character boundary.
func (e *Encoding) leftAdjustCharHead(buf []byte, start, pos int) int {
	if e == nil || pos <= start {
		return pos
	}
	switch e.kind {
	case encUTF8:
		for pos > start && !utf8.RuneStart(buf[pos]) {
			pos--
		}
		return pos
	case encUTF16LE, encUTF16BE, encUTF32LE, encUTF32BE:
		pos -= (pos - start) % e.minLen
		if e.kind == encUTF16LE || e.kind == encUTF16BE {
			if pos-start >= 2 && pos+1 < len(buf) {
				hi := buf[pos+1]
				if e.kind == encUTF16BE {
					hi = buf[pos]
				}
				if hi >= 0xdc && hi <= 0xdf {
					pos -= 2
				}
			}
		}
		return pos
	case encGeneric:
		p := start
		for p < pos {
			n := e.CharLen(buf[p:])
			if n <= 0 {
				n = 1
			}
			if p+n > pos {
				break
			}
			p += n
		}
		return p
	}
	return pos
}

// detectBOM inspects p for a byte-order mark and returns the encoding it
// announces with the mark length. need reports whether more bytes could
// change the answer.
func detectBOM(p []byte) (enc *Encoding, n int, need bool) {
	switch {
	case len(p) >= 3 && p[0] == 0xef && p[1] == 0xbb && p[2] == 0xbf:
		return UTF8, 3, false
	case len(p) >= 4 && p[0] == 0xff && p[1] == 0xfe && p[2] == 0 && p[3] == 0:
		return UTF32LE, 4, false
	case len(p) >= 2 && p[0] == 0xff && p[1] == 0xfe:
		if len(p) < 4 {
			return UTF16LE, 2, true
		}
		return UTF16LE, 2, false
	case len(p) >= 2 && p[0] == 0xfe && p[1] == 0xff:
		return UTF16BE, 2, false
	case len(p) >= 4 && p[0] == 0 && p[1] == 0 && p[2] == 0xfe && p[3] == 0xff:
		return UTF32BE, 4, false
	}
	return nil, 0, len(p) < 4
}

// EncodingSpec is a parsed "ext", "ext:int" or "bom|utf-*" specifier.
type EncodingSpec struct {
	External *Encoding
	Internal *Encoding
	BOM      bool
}

// ParseEncodingSpec parses the part of a mode string after the first ':'.
// An internal name of "-" means no internal encoding.
func ParseEncodingSpec(spec string) (EncodingSpec, error) {
	var es EncodingSpec
	if spec == "" {
		return es, nil
	}
	extName, intName, _ := strings.Cut(spec, ":")
	if hasBOMPrefix(extName) {
		es.BOM = true
		extName = extName[len("bom|"):]
	}
	ext, err := LookupEncoding(extName)
	if err != nil {
		return es, err
	}
	es.External = ext
	if intName != "" && intName != "-" {
		in, err := LookupEncoding(intName)
		if err != nil {
			return es, err
		}
		if in != ext {
			es.Internal = in
		}
	}
	return es, nil
}

// utf8Validator passes UTF-8 through unchanged and fails on invalid or
// truncated sequences.
type utf8Validator struct{ transform.NopResetter }

type invalidSequenceError struct {
	reason ConversionReason
	bytes  []byte
}

func (e *invalidSequenceError) Error() string { return e.reason.String() }

func (v *utf8Validator) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		n := 1
		if c >= utf8.RuneSelf {
			if !utf8.FullRune(src[nSrc:]) {
				if !atEOF && len(src)-nSrc < utf8.UTFMax && utf8.RuneStart(c) && c >= 0xc2 && c <= 0xf4 {
					return nDst, nSrc, transform.ErrShortSrc
				}
				reason := InvalidByteSequence
				if atEOF {
					reason = IncompleteInput
				}
				return nDst, nSrc, &invalidSequenceError{reason: reason, bytes: clipBytes(src[nSrc:], utf8.UTFMax)}
			}
			r, size := utf8.DecodeRune(src[nSrc:])
			if r == utf8.RuneError && size == 1 {
				return nDst, nSrc, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(src[nSrc:], 1)}
			}
			n = size
		}
		if nDst+n > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		copy(dst[nDst:], src[nSrc:nSrc+n])
		nDst += n
		nSrc += n
	}
	return nDst, nSrc, nil
}

// utfDecoder decodes UTF-16 and UTF-32. Unpaired surrogates, code points
// above U+10FFFF and truncated code units are errors.
type utfDecoder struct {
	transform.NopResetter
	width int
	big   bool
}

func (d utfDecoder) unit(p []byte) uint32 {
	switch {
	case d.width == 2 && d.big:
		return uint32(binary.BigEndian.Uint16(p))
	case d.width == 2:
		return uint32(binary.LittleEndian.Uint16(p))
	case d.big:
		return binary.BigEndian.Uint32(p)
	}
	return binary.LittleEndian.Uint32(p)
}

func (d utfDecoder) short(p []byte, atEOF bool) error {
	if !atEOF {
		return transform.ErrShortSrc
	}
	return &invalidSequenceError{reason: IncompleteInput, bytes: clipBytes(p, 4)}
}

// next decodes the character at the start of p.
func (d utfDecoder) next(p []byte, atEOF bool) (rune, int, error) {
	if len(p) < d.width {
		return 0, 0, d.short(p, atEOF)
	}
	u := d.unit(p)
	if d.width == 4 {
		if u > utf8.MaxRune || (u >= 0xd800 && u <= 0xdfff) {
			return 0, 0, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(p, 4)}
		}
		return rune(u), 4, nil
	}
	switch {
	case u >= 0xdc00 && u <= 0xdfff:
		return 0, 0, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(p, 2)}
	case u >= 0xd800 && u <= 0xdbff:
		if len(p) < 4 {
			return 0, 0, d.short(p, atEOF)
		}
		lo := d.unit(p[2:])
		if lo < 0xdc00 || lo > 0xdfff {
			return 0, 0, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(p, 2)}
		}
		return utf16.DecodeRune(rune(u), rune(lo)), 4, nil
	}
	return rune(u), 2, nil
}

func (d utfDecoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, n, err := d.next(src[nSrc:], atEOF)
		if err != nil {
			return nDst, nSrc, err
		}
		if nDst+utf8.RuneLen(r) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += utf8.EncodeRune(dst[nDst:], r)
		nSrc += n
	}
	return nDst, nSrc, nil
}

// charmapDecoder decodes a single-byte charset; bytes the charset leaves
// undefined are errors.
type charmapDecoder struct {
	transform.NopResetter
	cm *charmap.Charmap
}

func (d charmapDecoder) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r := d.cm.DecodeByte(src[nSrc])
		if r == utf8.RuneError {
			return nDst, nSrc, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(src[nSrc:], 1)}
		}
		if nDst+utf8.RuneLen(r) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += utf8.EncodeRune(dst[nDst:], r)
		nSrc++
	}
	return nDst, nSrc, nil
}

// strictDecoder wraps a library decoder that substitutes U+FFFD for bad
// input. When a substitution shows up, the offending character is located
// by decoding character by character; a U+FFFD that the source really
// encodes passes through.
type strictDecoder struct {
	e     *Encoding
	inner transform.Transformer
}

func (d *strictDecoder) Reset() { d.inner.Reset() }

func (d *strictDecoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	nDst, nSrc, err = d.inner.Transform(dst, src, atEOF)
	i := bytes.Index(dst[:nDst], replacementChar)
	if i < 0 {
		return nDst, nSrc, err
	}
	off, n, found := d.e.locateInvalid(src[:nSrc])
	if !found {
		return nDst, nSrc, err
	}
	d.inner.Reset()
	valid, verr := d.e.enc.NewDecoder().Bytes(src[:off])
	if verr != nil || len(valid) > len(dst) {
		return 0, 0, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(src[off:], n)}
	}
	return copy(dst, valid), off, &invalidSequenceError{reason: InvalidByteSequence, bytes: clipBytes(src[off:], n)}
}

// locateInvalid returns the offset and length of the first character of p
// that does not decode, skipping a U+FFFD that p genuinely encodes.
func (e *Encoding) locateInvalid(p []byte) (off, n int, found bool) {
	genuine, _ := e.EncodeString(string(utf8.RuneError))
	for off < len(p) {
		n = e.CharLen(p[off:])
		if n <= 0 {
			if len(genuine) > 0 && bytes.HasPrefix(p[off:], genuine) {
				off += len(genuine)
				continue
			}
			return off, 1, true
		}
		out, err := e.enc.NewDecoder().Bytes(p[off : off+n])
		if err != nil || (bytes.Equal(out, replacementChar) && !bytes.Equal(p[off:off+n], genuine)) {
			return off, n, true
		}
		off += n
	}
	return 0, 0, false
}

// asciiEncoding is strict US-ASCII.
type asciiEncoding struct{}

func (asciiEncoding) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: asciiStrict{}}
}

func (asciiEncoding) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: asciiStrict{}}
}

type asciiStrict struct{ transform.NopResetter }

func (asciiStrict) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if src[nSrc] >= utf8.RuneSelf {
			return nDst, nSrc, &invalidSequenceError{reason: UndefinedConversion, bytes: clipBytes(src[nSrc:], 1)}
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = src[nSrc]
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

func clipBytes(p []byte, n int) []byte {
	if len(p) > n {
		p = p[:n]
	}
	return append([]byte(nil), p...)
}
