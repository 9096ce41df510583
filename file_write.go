// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"syscall"
)

func (f *File) writeShimNonblock(st *handleState) bool {
	if f.nonblock {
		return true
	}
	if !st.kind.Selectable() {
		return false
	}
	if st.sysfd >= 0 {
		return true
	}
	_, ok := st.h.(NonblockingWriter)
	return ok
}

func (f *File) wouldBlock(op string) error {
	return &OpError{Op: op, Path: f.path, Fileno: f.fd.Fileno(), Errno: syscall.EAGAIN, Err: ErrWouldBlock}
}

// initWSplit decides once whether unbuffered writes are chunked to
// PipeBuf: only for pipe-class handles in blocking mode, and only when
// configured.
func (f *File) initWSplit() {
	if f.mode&FWSplitInitialized != 0 {
		return
	}
	f.mode |= FWSplitInitialized
	if !f.cfg.WSplit || f.nonblock {
		return
	}
	if st, err := f.state(); err == nil && !st.kind.Seekable() {
		f.mode |= FWSplit
	}
}

func (f *File) writableLength(n int) int {
	if f.mode&FWSplit != 0 && n > f.cfg.PipeBuf {
		return f.cfg.PipeBuf
	}
	return n
}

// writeNative issues one shim write. The write lock, when enabled, is held
// for this call only.
func (f *File) writeNative(p []byte) (int, error) {
	st, err := f.state()
	if err != nil {
		return 0, err
	}
	if f.writeLock != nil {
		f.writeLock.Lock()
		defer f.writeLock.Unlock()
	}
	return f.shim.Write(f.fd, p, f.writeShimNonblock(st))
}

// flushBuffer writes buffered output until it is gone or the handle takes
// less than offered, which is reported as would-block.
func (f *File) flushBuffer() error {
	f.initWSplit()
	for f.wbuf.len > 0 {
		l := f.writableLength(f.wbuf.len)
		n, err := f.writeNative(f.wbuf.ptr[f.wbuf.off : f.wbuf.off+l])
		if n > 0 {
			f.wbuf.consume(n)
		}
		if err != nil {
			return err
		}
		if n < l {
			return f.wouldBlock("flush")
		}
	}
	return nil
}

// flush writes all buffered output, waiting for writability as the policy
// allows.
func (f *File) flush(ctx context.Context) error {
	for f.wbuf.len > 0 {
		err := f.flushBuffer()
		if err == nil {
			return nil
		}
		if !IsWouldBlock(err) {
			return err
		}
		if err := f.waitWritable(ctx, OpFlush, err); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered output to the handle.
func (f *File) Flush(ctx context.Context) error {
	f.mu.Lock()
	if w := f.tied; w != nil {
		f.mu.Unlock()
		return w.Flush(ctx)
	}
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.mode&FWritable == 0 {
		return nil
	}
	return f.flush(ctx)
}

// appendWbuf copies p behind the buffered output, growing the buffer when
// p does not fit.
func (f *File) appendWbuf(p []byte) {
	f.wbuf.alloc(f.cfg.WriteBufferMin)
	if f.wbuf.off+f.wbuf.len+len(p) > f.wbuf.capa() {
		if f.wbuf.len+len(p) > f.wbuf.capa() {
			f.wbuf.grow(f.wbuf.len + len(p))
		}
		f.wbuf.compact()
	}
	copy(f.wbuf.ptr[f.wbuf.off+f.wbuf.len:], p)
	f.wbuf.len += len(p)
}

// binwrite buffers p, or writes it through when the File is synchronous
// or p does not fit. Pending output always goes out before p does. When p
// was buffered but the following flush failed, the full length is
// reported with the error.
func (f *File) binwrite(ctx context.Context, p []byte, nosync bool) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	f.initWSplit()
	sync := !nosync && f.mode&(FSync|FTTY) != 0
	if f.wbuf.ptr == nil && !(!nosync && f.mode&FSync != 0) {
		f.wbuf.alloc(f.cfg.WriteBufferMin)
	}
	if !sync && !(f.wbuf.ptr != nil && f.wbuf.capa() <= f.wbuf.len+n) {
		f.appendWbuf(p)
		return n, nil
	}

	rest := p
	if f.wbuf.len > 0 && f.wbuf.len+n <= f.wbuf.capa() {
		f.appendWbuf(p)
		rest = nil
	}
	if err := f.flush(ctx); err != nil {
		if rest == nil {
			return n, err
		}
		return 0, err
	}
	if rest == nil {
		return n, nil
	}
	written := 0
	for written < n {
		if err := f.checkClosed(); err != nil {
			return written, err
		}
		l := f.writableLength(n - written)
		r, err := f.writeNative(p[written : written+l])
		written += r
		if err == nil && r == l {
			continue
		}
		if err == nil {
			err = f.wouldBlock("write")
		}
		if !IsWouldBlock(err) {
			return written, err
		}
		if err := f.waitWritable(ctx, OpWrite, err); err != nil {
			return written, err
		}
	}
	return n, nil
}

// Write implements io.Writer. p is taken to be in the File's internal
// encoding (its read encoding) and converted when write conversion is
// active. A converted write reports either len(p) or 0 with the error.
func (f *File) Write(p []byte) (int, error) {
	return f.write(context.Background(), p, nil, false)
}

func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	return f.write(ctx, p, nil, false)
}

// WriteString writes UTF-8 text.
func (f *File) WriteString(s string) (int, error) {
	return f.write(context.Background(), []byte(s), UTF8, false)
}

// WriteByte implements io.ByteWriter.
func (f *File) WriteByte(c byte) error {
	_, err := f.write(context.Background(), []byte{c}, nil, false)
	return err
}

// WriteEncoded writes p, which is in encoding src.
func (f *File) WriteEncoded(ctx context.Context, p []byte, src *Encoding) (int, error) {
	if src == nil {
		src = Binary
	}
	return f.write(ctx, p, src, false)
}

func (f *File) write(ctx context.Context, p []byte, src *Encoding, nosync bool) (int, error) {
	f.mu.Lock()
	if w := f.tied; w != nil {
		f.mu.Unlock()
		return w.write(ctx, p, src, nosync)
	}
	defer f.mu.Unlock()
	if err := f.checkWritable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if src == nil {
		src = f.readEncoding()
	}
	conv, err := f.doWriteconv(p, src)
	if err != nil {
		return 0, err
	}
	n, err := f.binwrite(ctx, conv, nosync)
	if len(conv) == len(p) && (len(conv) == 0 || &conv[0] == &p[0]) {
		return n, err
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteNonblock flushes what it can and writes p with one non-blocking
// call. Nothing is buffered; when the handle takes nothing, the error
// matches ErrWouldBlock.
func (f *File) WriteNonblock(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkWritable(); err != nil {
		return 0, err
	}
	if err := f.flushBuffer(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.writeLock != nil {
		f.writeLock.Lock()
		defer f.writeLock.Unlock()
	}
	return f.shim.Write(f.fd, p, true)
}

// doWriteconv converts p from src for output. Without a target encoding
// it returns p unchanged. Both conversion steps stream: an incomplete
// trailing character waits for the next write.
func (f *File) doWriteconv(p []byte, src *Encoding) ([]byte, error) {
	if !f.needsWriteConversion() {
		return p, nil
	}
	f.makeWriteConversion()
	var common *Encoding
	if f.writeconv != nil {
		if f.writeconvAsciicompat != nil {
			common = f.writeconvAsciicompat
		} else if f.mode&FTextmode != 0 && !src.IsASCIICompatible() {
			return nil, &OpError{Op: "write", Path: f.path, Fileno: f.fd.Fileno(), Err: ErrEncodingMismatch}
		}
	} else if f.enc2 != nil {
		common = f.enc2
	} else if f.enc != nil && !f.enc.IsBinary() {
		common = f.enc
	}
	if common != nil {
		var err error
		if p, err = f.preconvert(p, src, common); err != nil {
			return nil, err
		}
	}
	if f.writeconv != nil {
		if err := f.writeconv.push(p); err != nil {
			f.writeconv.out = f.writeconv.out[:0]
			return nil, err
		}
		return takeOutput(f.writeconv), nil
	}
	return p, nil
}

// preconvert brings p from src into common through f.writePre, which is
// rebuilt (after flushing its state) when the source encoding changes.
func (f *File) preconvert(p []byte, src, common *Encoding) ([]byte, error) {
	var prefix []byte
	c := f.writePre
	if c == nil || c.src != src || c.dst != common {
		if c != nil {
			f.writePre = nil
			if err := c.finish(); err != nil {
				return nil, err
			}
			prefix = takeOutput(c)
		}
		c = newConverter(src, common, f.writeconvPreFlags)
		f.writePre = c
	}
	if c.isIdentity() && len(prefix) == 0 {
		return p, nil
	}
	if err := c.push(p); err != nil {
		c.out = c.out[:0]
		return nil, err
	}
	return append(prefix, takeOutput(c)...), nil
}

func takeOutput(c *converter) []byte {
	out := append([]byte(nil), c.out...)
	c.out = c.out[:0]
	return out
}

// finishWriteconv flushes the state of both write converters into the
// write buffer.
func (f *File) finishWriteconv(_ context.Context, _ bool) error {
	var tail []byte
	var first error
	if c := f.writePre; c != nil {
		first = c.finish()
		tail = takeOutput(c)
	}
	if c := f.writeconv; c != nil {
		if len(tail) > 0 {
			if err := c.push(tail); err != nil && first == nil {
				first = err
			}
		}
		if err := c.finish(); err != nil && first == nil {
			first = err
		}
		tail = takeOutput(c)
	}
	if len(tail) > 0 {
		f.appendWbuf(tail)
	}
	return first
}
