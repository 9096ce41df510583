// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio_test

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"code.hybscloud.com/posixio"
)

// -----------------------------------------------------------------------------
// Outcome and Classify tests
// -----------------------------------------------------------------------------

func TestSemantics_ClassifyAndPredicates(t *testing.T) {
	sentinelErr := errors.New("sentinelErr")
	cases := []struct {
		name            string
		err             error
		wantWB          bool
		wantNonFailure  bool
		wantOutcome     posixio.Outcome
		wantOutcomeText string
	}{
		{"nil", nil, false, true, posixio.OutcomeOK, "OK"},
		{"wouldblock", posixio.ErrWouldBlock, true, true, posixio.OutcomeWouldBlock, "WouldBlock"},
		{"eagain", syscall.EAGAIN, true, true, posixio.OutcomeWouldBlock, "WouldBlock"},
		{"eof", io.EOF, false, false, posixio.OutcomeEOF, "EOF"},
		{"sentinelErr", sentinelErr, false, false, posixio.OutcomeFailure, "Failure"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := posixio.IsWouldBlock(tc.err); got != tc.wantWB {
				t.Fatalf("IsWouldBlock=%v", got)
			}
			if got := posixio.IsNonFailure(tc.err); got != tc.wantNonFailure {
				t.Fatalf("IsNonFailure=%v", got)
			}
			if got := posixio.Classify(tc.err); got != tc.wantOutcome {
				t.Fatalf("Classify=%v", got)
			}
			if s := posixio.Classify(tc.err).String(); s != tc.wantOutcomeText {
				t.Fatalf("Outcome.String()=%q", s)
			}
		})
	}
}

func TestSemantics_WrappedErrors(t *testing.T) {
	t.Run("WrappedWouldBlock", func(t *testing.T) {
		wb := fmt.Errorf("wrap: %w", posixio.ErrWouldBlock)
		if !posixio.IsWouldBlock(wb) || !posixio.IsNonFailure(wb) {
			t.Fatalf("wrapped would-block not detected properly")
		}
		if posixio.Classify(wb) != posixio.OutcomeWouldBlock {
			t.Fatalf("classify wrapped wouldblock")
		}
	})

	t.Run("OpErrorWithErrno", func(t *testing.T) {
		err := &posixio.OpError{Op: "read", Fileno: 3, Errno: syscall.EAGAIN, Err: syscall.EAGAIN}
		if !errors.Is(err, posixio.ErrWouldBlock) {
			t.Fatalf("EAGAIN OpError does not match ErrWouldBlock")
		}
		if errors.Is(err, posixio.ErrIOFailure) {
			t.Fatalf("EAGAIN OpError matches ErrIOFailure")
		}
		if !err.Timeout() {
			t.Fatalf("Timeout() false for EAGAIN")
		}
	})
}

func TestOutcomeString_DefaultFailureBranch(t *testing.T) {
	if got := posixio.Outcome(255).String(); got != "Failure" {
		t.Fatalf("Outcome.String() default = %q", got)
	}
}

// -----------------------------------------------------------------------------
// Kind taxonomy tests
// -----------------------------------------------------------------------------

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want posixio.Kind
	}{
		{"nil", nil, posixio.KindNone},
		{"eof", io.EOF, posixio.KindNone},
		{"wouldblock", posixio.ErrWouldBlock, posixio.KindWouldBlock},
		{"eagain", syscall.EAGAIN, posixio.KindWouldBlock},
		{"ebadf", syscall.EBADF, posixio.KindBadDescriptor},
		{"espipe", syscall.ESPIPE, posixio.KindNotSeekable},
		{"enolck", syscall.ENOLCK, posixio.KindLockUnsupported},
		{"eio", syscall.EIO, posixio.KindIOFailure},
		{"other", errors.New("x"), posixio.KindIOFailure},
		{"closed stream", posixio.ErrClosedStream, posixio.KindBadDescriptor},
		{"not opened for reading", posixio.ErrNotOpenedForReading, posixio.KindBadDescriptor},
		{"encoding mismatch", posixio.ErrEncodingMismatch, posixio.KindConversion},
		{"unget overflow", posixio.ErrUngetOverflow, posixio.KindIOFailure},
		{"invalid argument", posixio.ErrInvalidArgument, posixio.KindInvalidMode},
		{"conversion error", &posixio.ConversionError{Source: "UTF-8", Target: "UTF-16LE"}, posixio.KindConversion},
		{
			"lock with errno",
			&posixio.OpError{Op: "flock", Fileno: -1, Errno: syscall.EINVAL, Err: posixio.ErrLockUnsupported},
			posixio.KindLockUnsupported,
		},
		{
			"wrapped espipe",
			&posixio.OpError{Op: "seek", Fileno: 4, Errno: syscall.ESPIPE, Err: syscall.ESPIPE},
			posixio.KindNotSeekable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := posixio.KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v)=%v want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestKindSentinels(t *testing.T) {
	if posixio.KindNone.Sentinel() != nil {
		t.Fatalf("KindNone has a sentinel")
	}
	for k := posixio.KindInvalidMode; k <= posixio.KindLockUnsupported; k++ {
		s := k.Sentinel()
		if s == nil {
			t.Fatalf("%v has no sentinel", k)
		}
		if got := posixio.KindOf(fmt.Errorf("wrap: %w", s)); got != k {
			t.Fatalf("KindOf(%v)=%v", s, got)
		}
	}
	if s := posixio.Kind(200).String(); s != "Kind(unknown)" {
		t.Fatalf("Kind(200)=%q", s)
	}
}

func TestOpErrorMessage(t *testing.T) {
	err := &posixio.OpError{Op: "read", Path: "/tmp/x", Fileno: 7, Err: posixio.ErrBadDescriptor}
	want := "read /tmp/x (fd 7): posixio: bad file descriptor"
	if err.Error() != want {
		t.Fatalf("Error()=%q want %q", err.Error(), want)
	}
	if !errors.Is(err, posixio.ErrBadDescriptor) {
		t.Fatalf("OpError does not unwrap")
	}
	anon := &posixio.OpError{Op: "close", Fileno: -1, Err: posixio.ErrClosedStream}
	if anon.Error() != "close: posixio: closed stream" {
		t.Fatalf("Error()=%q", anon.Error())
	}
}

func TestConversionErrorMessage(t *testing.T) {
	err := &posixio.ConversionError{
		Source: "UTF-8",
		Target: "UTF-16LE",
		Reason: posixio.InvalidByteSequence,
		Bytes:  []byte{0xff},
		Offset: 3,
	}
	if !errors.Is(err, posixio.ErrConversion) {
		t.Fatalf("ConversionError does not match ErrConversion")
	}
	want := `posixio: invalid byte sequence "\xff" on UTF-8 at offset 3 (to UTF-16LE)`
	if err.Error() != want {
		t.Fatalf("Error()=%q want %q", err.Error(), want)
	}
	if s := posixio.ConversionReason(9).String(); s != "ConversionReason(unknown)" {
		t.Fatalf("ConversionReason(9)=%q", s)
	}
}
