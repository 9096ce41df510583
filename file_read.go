// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"bytes"
	"context"
	"io"
)

// extraLimit bounds how far a line limit is stretched to finish a
// multi-byte character.
const extraLimit = 16

func (f *File) readShimNonblock(st *handleState) bool {
	if f.nonblock {
		return true
	}
	if !st.kind.Selectable() {
		return false
	}
	if st.sysfd >= 0 {
		return true
	}
	_, ok := st.h.(NonblockingReader)
	return ok
}

// readRetry issues one shim read into p, waiting out would-block results
// as the policy allows. 0 with nil error is end of input.
func (f *File) readRetry(ctx context.Context, p []byte) (int, error) {
	for {
		st, err := f.state()
		if err != nil {
			return 0, err
		}
		n, err := f.shim.Read(f.fd, p, f.readShimNonblock(st))
		if err == nil {
			return n, nil
		}
		if !IsWouldBlock(err) {
			return 0, err
		}
		if err := f.waitReadable(ctx, OpFill, err); err != nil {
			return 0, err
		}
	}
}

func (f *File) rbufCapa() int {
	if f.needsReadConversion() {
		return f.cfg.ConvBufferMin
	}
	return f.cfg.ReadBufferMin
}

// fillbuf refills the read buffer when it is empty. It returns io.EOF at
// end of input.
func (f *File) fillbuf(ctx context.Context) error {
	f.rbuf.alloc(f.rbufCapa())
	if f.rbuf.len > 0 {
		return nil
	}
	return f.readIntoRbuf(ctx)
}

// fillTail reads more input behind the bytes already buffered, for
// characters split across reads.
func (f *File) fillTail(ctx context.Context) error {
	f.rbuf.alloc(f.rbufCapa())
	f.rbuf.compact()
	if f.rbuf.len == f.rbuf.capa() {
		return nil
	}
	return f.readIntoRbuf(ctx)
}

func (f *File) readIntoRbuf(ctx context.Context) error {
	n, err := f.readRetry(ctx, f.rbuf.ptr[f.rbuf.off+f.rbuf.len:])
	if err != nil {
		return err
	}
	if n == 0 {
		return io.EOF
	}
	f.rbuf.len += n
	return nil
}

// readBufferedData moves buffered bytes into p.
func (f *File) readBufferedData(p []byte) int {
	n := copy(p, f.rbuf.pending())
	f.rbuf.consume(n)
	return n
}

func (f *File) shiftCbuf(n int) []byte {
	out := append([]byte(nil), f.cbuf.ptr[f.cbuf.off:f.cbuf.off+n]...)
	f.cbuf.consume(n)
	return out
}

func (f *File) takeRbuf(n int) []byte {
	out := append([]byte(nil), f.rbuf.ptr[f.rbuf.off:f.rbuf.off+n]...)
	f.rbuf.consume(n)
	return out
}

// drainConv moves converter output into the free tail of cbuf.
func (f *File) drainConv() {
	if f.readconv.pendingOutput() == 0 {
		return
	}
	end := f.cbuf.off + f.cbuf.len
	if end == f.cbuf.capa() {
		f.cbuf.compact()
		end = f.cbuf.len
	}
	f.cbuf.len += f.readconv.drain(f.cbuf.ptr[end:])
}

// fillCbuf runs the read converter until it produces characters or input
// ends. Incomplete source sequences stay in rbuf and are completed by
// reading more behind them.
func (f *File) fillCbuf(ctx context.Context) (int, error) {
	c := f.readconv
	if f.cbuf.len == f.cbuf.capa() {
		return moreCharSuspended, nil
	}
	if f.cbuf.len == 0 {
		f.cbuf.off = 0
	} else if f.cbuf.off+f.cbuf.len == f.cbuf.capa() {
		f.cbuf.compact()
	}
	len0 := f.cbuf.len
	for {
		if f.rbuf.len > 0 && !c.finished {
			n, err := c.feed(f.rbuf.pending(), false)
			f.rbuf.consume(n)
			f.drainConv()
			if err != nil {
				return 0, err
			}
		}
		f.drainConv()
		if f.cbuf.len != len0 {
			return moreCharSuspended, nil
		}
		if c.finished {
			return moreCharFinished, nil
		}
		var err error
		if f.rbuf.len == 0 {
			err = f.fillbuf(ctx)
		} else {
			err = f.fillTail(ctx)
		}
		if err == io.EOF {
			n, ferr := c.feed(f.rbuf.pending(), true)
			f.rbuf.consume(n)
			f.drainConv()
			if ferr != nil {
				return 0, ferr
			}
			if f.cbuf.len != len0 {
				return moreCharSuspended, nil
			}
			return moreCharFinished, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// moreChar converts at least one more character into cbuf, or reports
// moreCharFinished.
func (f *File) moreChar(ctx context.Context) (int, error) {
	return f.fillCbuf(ctx)
}

// Read implements io.Reader. With read conversion active it delivers
// converted text.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return 0, err
	}
	if f.needsReadConversion() {
		f.makeReadConversion()
		for f.cbuf.len == 0 {
			r, err := f.moreChar(ctx)
			if err != nil {
				return 0, err
			}
			if r == moreCharFinished {
				f.clearReadConversion()
				return 0, io.EOF
			}
		}
		n := copy(p, f.cbuf.pending())
		f.cbuf.consume(n)
		return n, nil
	}
	if f.rbuf.len == 0 {
		if len(p) >= f.rbufCapa() {
			n, err := f.readRetry(ctx, p)
			if err != nil {
				return 0, err
			}
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if err := f.fillbuf(ctx); err != nil {
			return 0, err
		}
	}
	return f.readBufferedData(p), nil
}

// ReadFull reads exactly len(p) raw bytes unless input ends first, in
// which case it returns io.ErrUnexpectedEOF (or io.EOF when nothing was
// read).
func (f *File) ReadFull(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkByteReadable(ctx); err != nil {
		return 0, err
	}
	n, err := f.bufread(ctx, p)
	switch {
	case err != nil:
		return n, err
	case n == 0:
		return 0, io.EOF
	case n < len(p):
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// bufread drains the read buffer into p, then reads the rest. With
// nothing buffered it reads straight into p.
func (f *File) bufread(ctx context.Context, p []byte) (int, error) {
	offset := 0
	if f.rbuf.len == 0 {
		for offset < len(p) {
			n, err := f.readRetry(ctx, p[offset:])
			if err != nil {
				return offset, err
			}
			if n == 0 {
				break
			}
			offset += n
		}
		return offset, nil
	}
	for offset < len(p) {
		offset += f.readBufferedData(p[offset:])
		if offset == len(p) {
			break
		}
		if err := f.fillbuf(ctx); err != nil {
			if err == io.EOF {
				break
			}
			return offset, err
		}
	}
	return offset, nil
}

// ReadPartial returns whatever raw bytes are buffered, or waits for one
// read's worth when none are.
func (f *File) ReadPartial(ctx context.Context, p []byte) (int, error) {
	return f.getpartial(ctx, p, false)
}

// ReadNonblock is ReadPartial that never waits: with nothing available it
// fails with an error matching ErrWouldBlock.
func (f *File) ReadNonblock(p []byte) (int, error) {
	return f.getpartial(context.Background(), p, true)
}

func (f *File) getpartial(ctx context.Context, p []byte, nonblock bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkByteReadable(ctx); err != nil {
		return 0, err
	}
	if n := f.readBufferedData(p); n > 0 {
		return n, nil
	}
	var (
		n   int
		err error
	)
	if nonblock {
		n, err = f.shim.Read(f.fd, p, true)
	} else {
		n, err = f.readRetry(ctx, p)
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// GetByte reads one raw byte.
func (f *File) GetByte(ctx context.Context) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkByteReadable(ctx); err != nil {
		return 0, err
	}
	if err := f.fillbuf(ctx); err != nil {
		return 0, err
	}
	b := f.rbuf.ptr[f.rbuf.off]
	f.rbuf.consume(1)
	return b, nil
}

// ReadByte implements io.ByteReader.
func (f *File) ReadByte() (byte, error) {
	return f.GetByte(context.Background())
}

// Getc reads one character in the read encoding. A broken sequence is
// returned one byte at a time.
func (f *File) Getc(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return nil, err
	}
	enc := f.readEncoding()
	if f.needsReadConversion() {
		f.makeReadConversion()
		for {
			if f.cbuf.len > 0 {
				switch n := enc.CharLen(f.cbuf.pending()); {
				case n > 0:
					return f.shiftCbuf(n), nil
				case n < 0, f.cbuf.len == f.cbuf.capa():
					return f.shiftCbuf(1), nil
				}
			}
			r, err := f.moreChar(ctx)
			if err != nil {
				return nil, err
			}
			if r == moreCharFinished {
				f.clearReadConversion()
				if f.cbuf.len == 0 {
					return nil, io.EOF
				}
				return f.shiftCbuf(f.cbuf.len), nil
			}
		}
	}
	if err := f.fillbuf(ctx); err != nil {
		return nil, err
	}
	for {
		switch n := enc.CharLen(f.rbuf.pending()); {
		case n > 0:
			return f.takeRbuf(n), nil
		case n < 0, f.rbuf.len == f.rbuf.capa():
			return f.takeRbuf(1), nil
		}
		if err := f.fillTail(ctx); err != nil {
			if err == io.EOF {
				return f.takeRbuf(f.rbuf.len), nil
			}
			return nil, err
		}
	}
}

// UngetByte pushes p back in front of the buffered input. The read buffer
// grows up to the configured unget limit.
func (f *File) UngetByte(ctx context.Context, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkByteReadable(ctx); err != nil {
		return err
	}
	return f.ungetbyte(p)
}

func (f *File) ungetbyte(p []byte) error {
	n := len(p)
	if n == 0 {
		return nil
	}
	f.rbuf.alloc(f.rbufCapa())
	if n > f.cfg.UngetLimit-f.rbuf.len {
		return &OpError{Op: "ungetbyte", Path: f.path, Fileno: f.fd.Fileno(), Err: ErrUngetOverflow}
	}
	if n > f.rbuf.capa()-f.rbuf.len {
		f.rbuf.grow(f.rbuf.len + n)
	}
	if n > f.rbuf.off {
		end := f.rbuf.capa() - f.rbuf.len
		copy(f.rbuf.ptr[end:], f.rbuf.pending())
		f.rbuf.off = end
	}
	f.rbuf.off -= n
	f.rbuf.len += n
	copy(f.rbuf.ptr[f.rbuf.off:], p)
	return nil
}

// Ungetc pushes a character back. With read conversion active it goes in
// front of the converted text, otherwise in front of the raw bytes.
func (f *File) Ungetc(ctx context.Context, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return err
	}
	if !f.needsReadConversion() {
		return f.ungetbyte(p)
	}
	f.makeReadConversion()
	n := len(p)
	if n > f.cbuf.capa()-f.cbuf.len {
		f.cbuf.grow(f.cbuf.len + n)
	}
	if n > f.cbuf.off {
		end := f.cbuf.capa() - f.cbuf.len
		copy(f.cbuf.ptr[end:], f.cbuf.pending())
		f.cbuf.off = end
	}
	f.cbuf.off -= n
	f.cbuf.len += n
	copy(f.cbuf.ptr[f.cbuf.off:], p)
	return nil
}

// appendLine appends input to *str up to and including delim, or until
// *limit bytes were taken (a negative limit never runs out). It returns
// delim when found, the last byte taken when the limit ran out, and
// eofChar when input ended.
func (f *File) appendLine(ctx context.Context, delim int, str *[]byte, limit *int) (int, error) {
	if f.needsReadConversion() {
		f.makeReadConversion()
		for {
			if searchlen := f.cbuf.len; searchlen > 0 {
				p := f.cbuf.pending()
				if *limit > 0 && *limit < searchlen {
					searchlen = *limit
				}
				e := -1
				if delim >= 0 {
					e = bytes.IndexByte(p[:searchlen], byte(delim))
				}
				if e >= 0 {
					searchlen = e + 1
				}
				*str = append(*str, p[:searchlen]...)
				f.cbuf.consume(searchlen)
				*limit -= searchlen
				if e >= 0 {
					return delim, nil
				}
				if *limit == 0 {
					return int((*str)[len(*str)-1]), nil
				}
			}
			r, err := f.moreChar(ctx)
			if err != nil {
				return 0, err
			}
			if r == moreCharFinished {
				break
			}
		}
		f.clearReadConversion()
		return eofChar, nil
	}

	for {
		if pending := f.rbuf.len; pending > 0 {
			p := f.rbuf.pending()
			if *limit > 0 && pending > *limit {
				pending = *limit
			}
			e := -1
			if delim >= 0 {
				e = bytes.IndexByte(p[:pending], byte(delim))
			}
			if e >= 0 {
				pending = e + 1
			}
			*str = append(*str, p[:pending]...)
			f.rbuf.consume(pending)
			*limit -= pending
			if e >= 0 {
				return delim, nil
			}
			if *limit == 0 {
				return int((*str)[len(*str)-1]), nil
			}
		}
		if err := f.fillbuf(ctx); err != nil {
			if err == io.EOF {
				return eofChar, nil
			}
			return 0, err
		}
	}
}

// Swallow skips consecutive term characters. It reports whether other
// input follows.
func (f *File) Swallow(ctx context.Context, term byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return false, err
	}
	return f.swallow(ctx, term)
}

func (f *File) swallow(ctx context.Context, term byte) (bool, error) {
	if f.needsReadConversion() {
		enc := f.readEncoding()
		seq := []byte{term}
		if enc.MinLen() != 1 {
			var err error
			if seq, err = enc.EncodeString(string(rune(term))); err != nil {
				return false, err
			}
		}
		f.makeReadConversion()
		for {
			for f.cbuf.len > 0 {
				p := f.cbuf.pending()
				i := 0
				for i+len(seq) <= len(p) && bytes.Equal(p[i:i+len(seq)], seq) {
					i += len(seq)
				}
				if i == 0 {
					if len(p) < len(seq) && bytes.HasPrefix(seq, p) {
						break
					}
					return true, nil
				}
				f.cbuf.consume(i)
			}
			r, err := f.moreChar(ctx)
			if err != nil {
				return false, err
			}
			if r == moreCharFinished {
				return f.cbuf.len > 0, nil
			}
		}
	}
	for {
		for f.rbuf.len > 0 {
			p := f.rbuf.pending()
			if p[0] != term {
				return true, nil
			}
			i := 1
			for i < len(p) && p[i] == term {
				i++
			}
			f.rbuf.consume(i)
		}
		if err := f.fillbuf(ctx); err != nil {
			if err == io.EOF {
				return false, nil
			}
			return false, err
		}
	}
}

// Getline reads one line as described by a; see ParseGetlineArgs. It
// returns io.EOF when no input is left.
func (f *File) Getline(ctx context.Context, a GetlineArgs) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return nil, err
	}
	return f.getline(ctx, a)
}

// Gets reads one line; args are those of ParseGetlineArgs, resolved
// against the File's read encoding.
func (f *File) Gets(ctx context.Context, args ...any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return nil, err
	}
	a, err := ParseGetlineArgs(f.readEncoding(), args...)
	if err != nil {
		return nil, err
	}
	return f.getline(ctx, a)
}

func (f *File) getline(ctx context.Context, a GetlineArgs) ([]byte, error) {
	enc := f.readEncoding()
	switch {
	case !a.HasSep && a.Limit < 0:
		str, err := f.readAll(ctx, 0)
		if err != nil {
			return nil, err
		}
		if len(str) == 0 {
			return nil, io.EOF
		}
		f.lineno++
		return str, nil
	case a.Limit == 0:
		return []byte{}, nil
	case a.HasSep && a.DefaultSep && a.Limit < 0 && !f.needsReadConversion() && enc.IsASCIICompatible():
		return f.getlineFast(ctx, a.Chomp)
	}

	var (
		str     []byte
		rs      []byte
		rspara  bool
		nolimit bool
		c       int
		err     error
	)
	newline, chompCR := -1, a.Chomp
	limit, extra := a.Limit, extraLimit
	if a.HasSep {
		rs = a.Sep
		if a.Paragraph {
			rs = []byte("\n\n")
			rspara = true
			if !enc.IsASCIICompatible() {
				if rs, err = enc.EncodeString("\n\n"); err != nil {
					return nil, err
				}
			}
			if _, err := f.swallow(ctx, '\n'); err != nil {
				return nil, err
			}
		}
		newline = int(rs[len(rs)-1])
		chompCR = a.Chomp && len(rs) == 1 && newline == '\n'
	}

	for {
		c, err = f.appendLine(ctx, newline, &str, &limit)
		if err != nil {
			return nil, err
		}
		if c == eofChar {
			break
		}
		if c == newline && len(str) >= len(rs) {
			p := len(str) - len(rs)
			if enc.leftAdjustCharHead(str, 0, p) == p && bytes.Equal(str[p:], rs) {
				if a.Chomp {
					if chompCR && p > 0 && str[p-1] == '\r' {
						p--
					}
					str = str[:p]
				}
				break
			}
		}
		if limit == 0 {
			head := enc.leftAdjustCharHead(str, 0, len(str)-1)
			if extra > 0 && enc.CharLen(str[head:]) == 0 {
				limit = 1
				extra--
				continue
			}
			nolimit = true
			break
		}
	}
	if rspara && c != eofChar {
		if _, err := f.swallow(ctx, '\n'); err != nil {
			return nil, err
		}
	}
	if str == nil {
		return nil, io.EOF
	}
	if !nolimit {
		f.lineno++
	}
	return str, nil
}

// getlineFast splits on "\n" straight out of the read buffer.
func (f *File) getlineFast(ctx context.Context, chomp bool) ([]byte, error) {
	var (
		str []byte
		got bool
	)
	for {
		if pending := f.rbuf.len; pending > 0 {
			p := f.rbuf.pending()
			e := bytes.IndexByte(p, '\n')
			chomplen := 0
			if e >= 0 {
				pending = e + 1
				if chomp {
					chomplen = 1
					if e > 0 && p[e-1] == '\r' {
						chomplen = 2
					}
				}
			}
			str = append(str, p[:pending-chomplen]...)
			got = true
			f.rbuf.consume(pending)
			if e >= 0 {
				if chomp && e == 0 && len(str) > 0 && str[len(str)-1] == '\r' {
					str = str[:len(str)-1]
				}
				break
			}
		}
		if err := f.fillbuf(ctx); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	if !got {
		return nil, io.EOF
	}
	if str == nil {
		str = []byte{}
	}
	f.lineno++
	return str, nil
}

// ReadAll reads until end of input. sizeHint sizes the first allocation;
// zero or less estimates it from the remaining file size. At end of input
// it returns an empty slice and nil.
func (f *File) ReadAll(ctx context.Context, sizeHint int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCharReadable(ctx); err != nil {
		return nil, err
	}
	return f.readAll(ctx, sizeHint)
}

func (f *File) readAll(ctx context.Context, siz int) ([]byte, error) {
	if f.needsReadConversion() {
		f.makeReadConversion()
		str := []byte{}
		for {
			str = append(str, f.cbuf.pending()...)
			f.cbuf.clear()
			r, err := f.moreChar(ctx)
			if err != nil {
				return nil, err
			}
			if r == moreCharFinished {
				f.clearReadConversion()
				return str, nil
			}
		}
	}
	if f.cbuf.len > 0 {
		return nil, &OpError{Op: "read", Path: f.path, Fileno: f.fd.Fileno(), Err: errCharBuffered}
	}
	if siz <= 0 {
		siz = f.remainSize()
	}
	str := make([]byte, siz)
	total := 0
	for {
		n, err := f.bufread(ctx, str[total:])
		if err != nil {
			return nil, err
		}
		total += n
		if total < len(str) {
			break
		}
		str = append(str, make([]byte, f.cfg.Bufsiz)...)
	}
	return str[:total], nil
}
