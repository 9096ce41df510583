// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"errors"
	"fmt"
	"syscall"
)

// posixio reports failures through a small fixed taxonomy. Every error
// returned by this package matches exactly one of the kind sentinels below
// via errors.Is, either directly or through *OpError / *ConversionError.
//
// Mental model:
//   - ErrWouldBlock: retry later (wait for readiness, then try again).
//   - Everything else: a real failure for the immediate caller.

var (
	// ErrInvalidMode means a malformed mode string or flag combination.
	ErrInvalidMode = errors.New("posixio: invalid access mode")

	// ErrBadDescriptor means the handle is closed or the refcount protocol
	// was violated (double close).
	ErrBadDescriptor = errors.New("posixio: bad file descriptor")

	// ErrNotSeekable means seek or tell on a pipe-class handle.
	ErrNotSeekable = errors.New("posixio: illegal seek")

	// ErrWouldBlock means “no further progress without waiting”.
	// Linux analogy: EAGAIN/EWOULDBLOCK.
	// Next step: wait for readiness, then retry.
	ErrWouldBlock = errors.New("posixio: would block")

	// ErrIOFailure is the catch-all for native failures not otherwise classified.
	ErrIOFailure = errors.New("posixio: i/o failure")

	// ErrConversion means the encoding converter rejected its input.
	ErrConversion = errors.New("posixio: conversion error")

	// ErrLockUnsupported means the handle cannot take the requested advisory lock.
	ErrLockUnsupported = errors.New("posixio: lock unsupported")
)

// Narrower sentinels. Each one also matches its taxonomy kind.
var (
	ErrNotOpenedForReading = &kindError{msg: "posixio: not opened for reading", kind: ErrBadDescriptor}
	ErrNotOpenedForWriting = &kindError{msg: "posixio: not opened for writing", kind: ErrBadDescriptor}
	ErrEncodingMismatch    = &kindError{msg: "posixio: encoding mismatch", kind: ErrConversion}
	ErrUngetOverflow       = &kindError{msg: "posixio: ungetbyte failed", kind: ErrIOFailure}
	ErrClosedStream        = &kindError{msg: "posixio: closed stream", kind: ErrBadDescriptor}
	ErrInvalidArgument     = &kindError{msg: "posixio: invalid argument", kind: ErrInvalidMode}
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// OpError records a failed operation together with the native errno, if any.
type OpError struct {
	Op     string
	Path   string
	Fileno int
	Errno  syscall.Errno
	Err    error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	if e.Fileno >= 0 {
		s += fmt.Sprintf(" (fd %d)", e.Fileno)
	}
	return s + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// Is reports the taxonomy kind implied by the errno when Err itself does not
// already carry one.
func (e *OpError) Is(target error) bool {
	if e.Errno == 0 || carriesKind(e.Err) {
		return false
	}
	return errnoKind(e.Errno) == target
}

func carriesKind(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.Sentinel()) {
			return true
		}
	}
	return false
}

// Timeout implements the net.Error style check so callers can treat
// would-block results as temporary.
func (e *OpError) Timeout() bool { return errors.Is(e, ErrWouldBlock) }

func newOpError(op, path string, fileno int, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	e := &OpError{Op: op, Path: path, Fileno: fileno, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

// ConversionReason distinguishes the three ways a converter can fail.
type ConversionReason uint8

const (
	InvalidByteSequence ConversionReason = iota
	IncompleteInput
	UndefinedConversion
)

func (r ConversionReason) String() string {
	switch r {
	case InvalidByteSequence:
		return "invalid byte sequence"
	case IncompleteInput:
		return "incomplete input"
	case UndefinedConversion:
		return "undefined conversion"
	default:
		return "ConversionReason(unknown)"
	}
}

// ConversionError identifies the offending bytes of a failed conversion.
type ConversionError struct {
	Source string
	Target string
	Reason ConversionReason
	Bytes  []byte
	Offset int64
}

func (e *ConversionError) Error() string {
	if len(e.Bytes) > 0 {
		return fmt.Sprintf("posixio: %s %q on %s at offset %d (to %s)", e.Reason, e.Bytes, e.Source, e.Offset, e.Target)
	}
	return fmt.Sprintf("posixio: %s on %s (to %s)", e.Reason, e.Source, e.Target)
}

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }
