// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// EncodedString is a separator in an explicit encoding. Plain string and
// []byte arguments are taken to be UTF-8.
type EncodedString struct {
	Bytes []byte
	Enc   *Encoding
}

// GetlineOptions is the trailing options argument of a getline call.
type GetlineOptions struct {
	Chomp bool
}

// GetlineArgs is the normalized form of a getline call.
type GetlineArgs struct {
	// Sep is the separator in the read encoding. Unused unless HasSep.
	Sep []byte
	// HasSep is false for "no separator": read to the end (or the limit).
	HasSep bool
	// Paragraph means lines end at blank lines and runs of blank lines
	// collapse.
	Paragraph bool
	// Limit caps the bytes read; negative means unbounded.
	Limit int
	Chomp bool
	// DefaultSep is set when Sep is the default newline.
	DefaultSep bool
}

// DefaultGetlineArgs splits on "\n" with no limit.
func DefaultGetlineArgs() GetlineArgs {
	return GetlineArgs{Sep: []byte{'\n'}, HasSep: true, Limit: -1, DefaultSep: true}
}

// ParseGetlineArgs normalizes (sep), (limit), (sep, limit) and an optional
// trailing GetlineOptions into GetlineArgs for a File reading readEnc.
//
// A separator is a string, []byte or EncodedString; nil means no
// separator; an empty one selects paragraph mode. A limit is any integer
// or nil. A separator that is not plain ASCII, or any separator for an
// ASCII-incompatible read encoding, must already be in readEnc: the
// default separator is re-encoded, any other fails with
// ErrEncodingMismatch.
func ParseGetlineArgs(readEnc *Encoding, args ...any) (GetlineArgs, error) {
	a := DefaultGetlineArgs()
	if n := len(args); n > 0 {
		if opts, ok := args[n-1].(GetlineOptions); ok {
			a.Chomp = opts.Chomp
			args = args[:n-1]
		}
	}
	var sepEnc *Encoding
	switch len(args) {
	case 0:
	case 1:
		if limit, ok := asLimit(args[0]); ok {
			a.Limit = limit
			break
		}
		if err := a.setSep(args[0], &sepEnc); err != nil {
			return a, err
		}
	case 2:
		if err := a.setSep(args[0], &sepEnc); err != nil {
			return a, err
		}
		limit, ok := asLimit(args[1])
		if args[1] == nil {
			limit, ok = -1, true
		}
		if !ok {
			return a, fmt.Errorf("%w: limit must be an integer, got %T", ErrInvalidArgument, args[1])
		}
		a.Limit = limit
	default:
		return a, fmt.Errorf("%w: wrong number of arguments (%d for 0..2)", ErrInvalidArgument, len(args))
	}
	if !a.HasSep || sepEnc == nil {
		return a, a.reencodeDefault(readEnc)
	}
	if len(a.Sep) == 0 {
		a.Paragraph = true
		return a, nil
	}
	if sepEnc != readEnc && (!isSevenBit(a.Sep) || !readEnc.IsASCIICompatible()) {
		return a, &OpError{Op: "getline", Fileno: -1, Err: fmt.Errorf("%w: %s IO with %s RS", ErrEncodingMismatch, readEnc, sepEnc)}
	}
	return a, nil
}

func (a *GetlineArgs) setSep(v any, enc **Encoding) error {
	a.DefaultSep = false
	switch s := v.(type) {
	case nil:
		a.HasSep, a.Sep = false, nil
	case string:
		a.Sep, *enc = []byte(s), UTF8
	case []byte:
		a.Sep, *enc = s, UTF8
	case EncodedString:
		a.Sep, *enc = s.Bytes, s.Enc
		if *enc == nil {
			*enc = Binary
		}
	default:
		return fmt.Errorf("%w: separator must be a string, got %T", ErrInvalidArgument, v)
	}
	return nil
}

// reencodeDefault expresses the default separator in an
// ASCII-incompatible read encoding.
func (a *GetlineArgs) reencodeDefault(readEnc *Encoding) error {
	if a.DefaultSep && !readEnc.IsASCIICompatible() {
		a.Sep = readEnc.Newline()
	}
	return nil
}

func asLimit(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n > math.MaxInt {
			return math.MaxInt, true
		}
		if n < math.MinInt {
			return math.MinInt, true
		}
		return int(n), true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return clampUint(uint64(n)), true
	case uint64:
		return clampUint(n), true
	}
	return 0, false
}

// clampUint saturates at math.MaxInt so huge limits read as unbounded.
func clampUint(n uint64) int {
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

func isSevenBit(p []byte) bool {
	for _, b := range p {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
