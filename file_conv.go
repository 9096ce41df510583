// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"io"
)

// Encoding state follows one convention: enc is the encoding text is
// delivered in (the internal encoding, or the external one when there is
// no internal), and enc2 is the external encoding when it differs. A nil
// enc means the host default external encoding.

func (f *File) readEncoding() *Encoding {
	if f.enc != nil {
		return f.enc
	}
	return f.host.defaultExternal
}

func (f *File) needsReadConversion() bool {
	return f.enc2 != nil || f.mode&FTextmode != 0
}

func (f *File) needsWriteConversion() bool {
	return (f.enc != nil && !f.enc.IsBinary()) ||
		f.mode&FTextmode != 0 ||
		f.ecflags&convWriteDecorators != 0
}

func (f *File) makeReadConversion() {
	if f.readconv != nil {
		return
	}
	src := f.readEncoding()
	dst := src
	if f.enc2 != nil {
		src = f.enc2
	}
	flags := f.ecflags &^ convWriteDecorators
	if f.mode&FTextmode != 0 {
		flags |= ConvUniversalNewline
	}
	f.readconv = newConverter(src, dst, flags)
	f.cbuf.alloc(f.cfg.ConvBufferMin)
}

func (f *File) clearReadConversion() { f.readconv = nil }

func (f *File) clearCodeConversion() {
	f.readconv = nil
	f.writeconv = nil
	f.writePre = nil
	f.writeconvInitialized = false
	f.writeconvAsciicompat = nil
	f.writeconvPreFlags = 0
}

// makeWriteConversion sets up the write side once. An ASCII-compatible
// target is reached with one streaming conversion from the caller's
// encoding; any other target goes through UTF-8 first and then a second
// streaming converter.
func (f *File) makeWriteConversion() {
	if f.writeconvInitialized {
		return
	}
	f.writeconvInitialized = true
	flags := f.ecflags &^ ConvUniversalNewline
	if f.enc == nil || (f.enc.IsBinary() && f.enc2 == nil) {
		f.writeconvPreFlags = 0
		f.writeconvAsciicompat = nil
		if c := newConverter(nil, nil, flags); !c.isIdentity() {
			f.writeconv = c
		}
		return
	}
	target := f.enc
	if f.enc2 != nil {
		target = f.enc2
	}
	f.writeconvPreFlags = flags
	if target.IsASCIICompatible() {
		f.writeconv = nil
		f.writeconvAsciicompat = nil
		return
	}
	f.writeconvAsciicompat = UTF8
	f.writeconv = newConverter(UTF8, target, flags&(ConvUndefReplace|ConvInvalidReplace))
}

// setEncodings resolves an external/internal pair against the host
// defaults. An internal encoding equal to the external one, or any
// internal encoding with a binary external one, means no transcoding.
func (f *File) setEncodings(ext, intern *Encoding, flags ConvFlags) {
	defaultExt := false
	if ext == nil {
		ext = f.host.defaultExternal
		defaultExt = true
	}
	if ext.IsBinary() {
		intern = nil
	} else if intern == nil {
		intern = f.host.defaultInternal
	}
	if intern == nil || (f.mode&FSetEncByBOM == 0 && intern == ext) {
		if defaultExt && intern != ext {
			f.enc = nil
		} else {
			f.enc = ext
		}
		f.enc2 = nil
	} else {
		f.enc, f.enc2 = intern, ext
	}
	f.ecflags = flags
	if f.mode&FTextmode != 0 {
		f.ecflags |= ConvUniversalNewline
	}
	f.clearCodeConversion()
}

func (f *File) setEncodingSpec(es EncodingSpec, flags ConvFlags) {
	ext := es.External
	if ext == nil && f.mode&FBinmode != 0 {
		ext = Binary
	}
	f.setEncodings(ext, es.Internal, flags)
}

// setEncodingByBOM consumes a byte-order mark and adopts the encoding it
// announces. Without a mark the configured encoding stays.
func (f *File) setEncodingByBOM(ctx context.Context) error {
	defer func() { f.mode &^= FSetEncByBOM }()
	if err := f.fillbuf(ctx); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for {
		enc, n, need := detectBOM(f.rbuf.pending())
		if need && f.rbuf.len < f.rbuf.capa() {
			err := f.fillTail(ctx)
			if err == nil {
				continue
			}
			if err != io.EOF {
				return err
			}
			enc, n, _ = detectBOM(f.rbuf.pending())
		}
		if enc == nil {
			return nil
		}
		f.rbuf.consume(n)
		var intern *Encoding
		if f.enc2 != nil {
			intern = f.enc
		}
		f.setEncodings(enc, intern, f.ecflags)
		debugf(f.log, "[file] fileno=%d bom %s", f.fd.Fileno(), enc)
		return nil
	}
}

// SetEncoding sets the external and internal encodings. Either may be nil
// for the host default.
func (f *File) SetEncoding(ext, intern *Encoding, flags ConvFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	f.setEncodings(ext, intern, flags)
	return nil
}

// SetEncodingSpec parses "ext", "ext:int" or "bom|utf-*" and applies it.
func (f *File) SetEncodingSpec(ctx context.Context, spec string) error {
	es, err := ParseEncodingSpec(spec)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	if es.BOM {
		f.mode |= FSetEncByBOM
	}
	f.setEncodingSpec(es, f.ecflags&^ConvUniversalNewline)
	if es.BOM && f.mode&FReadable != 0 {
		return f.setEncodingByBOM(ctx)
	}
	f.mode &^= FSetEncByBOM
	return nil
}

// ExternalEncoding returns the encoding of the bytes on the handle.
func (f *File) ExternalEncoding() *Encoding {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.enc2 != nil:
		return f.enc2
	case f.enc != nil:
		return f.enc
	case f.mode&FWritable != 0 && f.mode&FReadable == 0:
		return nil
	}
	return f.host.defaultExternal
}

// InternalEncoding returns the encoding text is converted to, or nil.
func (f *File) InternalEncoding() *Encoding {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enc2 == nil {
		return nil
	}
	return f.enc
}

// SetBinmode switches f to raw bytes: conversion stops, text mode is
// cleared and the encoding becomes Binary. Already converted text that has
// not been read is kept as raw input.
func (f *File) SetBinmode() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.cbuf.len > 0 {
		pending := append([]byte(nil), f.cbuf.pending()...)
		f.cbuf.clear()
		if err := f.ungetbyte(pending); err != nil {
			return err
		}
	}
	f.clearCodeConversion()
	f.mode |= FBinmode
	f.mode &^= FTextmode
	f.enc, f.enc2 = Binary, nil
	f.ecflags &^= convDecoratorMask
	return nil
}

func (f *File) IsBinmode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode&FBinmode != 0
}
