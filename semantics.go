// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"errors"
	"io"
	"syscall"
)

// Outcome classifies an operation result for control flow.
//
// OutcomeOK:            success.
// OutcomeWouldBlock:    no progress is possible right now; retry after a readiness wait.
// OutcomeEOF:           end of input.
// OutcomeFailure:       any other error.
type Outcome uint8

const (
	OutcomeFailure Outcome = iota
	OutcomeOK
	OutcomeWouldBlock
	OutcomeEOF
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeWouldBlock:
		return "WouldBlock"
	case OutcomeEOF:
		return "EOF"
	default:
		return "Failure"
	}
}

// IsWouldBlock reports whether err carries the would-block semantic,
// including wrapped forms and a raw EAGAIN errno.
func IsWouldBlock(err error) bool { return errors.Is(err, ErrWouldBlock) || errors.Is(err, syscall.EAGAIN) }

// IsNonFailure reports whether err is nil or a would-block signal.
func IsNonFailure(err error) bool { return err == nil || IsWouldBlock(err) }

// Classify maps err to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsWouldBlock(err):
		return OutcomeWouldBlock
	case errors.Is(err, io.EOF):
		return OutcomeEOF
	default:
		return OutcomeFailure
	}
}

// Kind names one entry of the error taxonomy.
type Kind uint8

const (
	KindNone Kind = iota
	KindInvalidMode
	KindBadDescriptor
	KindNotSeekable
	KindWouldBlock
	KindIOFailure
	KindConversion
	KindLockUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindInvalidMode:
		return "InvalidMode"
	case KindBadDescriptor:
		return "BadDescriptor"
	case KindNotSeekable:
		return "NotSeekable"
	case KindWouldBlock:
		return "WouldBlock"
	case KindIOFailure:
		return "IOFailure"
	case KindConversion:
		return "ConversionError"
	case KindLockUnsupported:
		return "LockUnsupported"
	default:
		return "Kind(unknown)"
	}
}

// Sentinel returns the error value errors.Is matches for k.
func (k Kind) Sentinel() error {
	switch k {
	case KindInvalidMode:
		return ErrInvalidMode
	case KindBadDescriptor:
		return ErrBadDescriptor
	case KindNotSeekable:
		return ErrNotSeekable
	case KindWouldBlock:
		return ErrWouldBlock
	case KindIOFailure:
		return ErrIOFailure
	case KindConversion:
		return ErrConversion
	case KindLockUnsupported:
		return ErrLockUnsupported
	default:
		return nil
	}
}

var kindOrder = [...]Kind{
	KindWouldBlock,
	KindBadDescriptor,
	KindNotSeekable,
	KindInvalidMode,
	KindConversion,
	KindLockUnsupported,
	KindIOFailure,
}

// KindOf classifies err into the taxonomy. Errors that match no kind and are
// not io.EOF classify as KindIOFailure.
func KindOf(err error) Kind {
	if err == nil || errors.Is(err, io.EOF) {
		return KindNone
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if s := errnoKind(errno); s != nil {
			for _, k := range kindOrder {
				if k.Sentinel() == s {
					return k
				}
			}
		}
	}
	return KindIOFailure
}

// errnoKind maps a native errno to a taxonomy sentinel.
func errnoKind(errno syscall.Errno) error {
	switch errno {
	case 0:
		return nil
	case syscall.EAGAIN:
		return ErrWouldBlock
	case syscall.EBADF:
		return ErrBadDescriptor
	case syscall.ESPIPE:
		return ErrNotSeekable
	case syscall.ENOLCK, syscall.EOPNOTSUPP:
		return ErrLockUnsupported
	default:
		return ErrIOFailure
	}
}
