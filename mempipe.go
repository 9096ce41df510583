// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"io"
	"sync"
	"syscall"
)

// DefaultMemPipeCapacity matches a common kernel pipe buffer.
const DefaultMemPipeCapacity = 64 * 1024

// MemPipe creates an in-memory pipe with a bounded buffer. Unlike io.Pipe
// its ends support non-blocking reads and writes and report readiness, so
// they behave like OS pipe ends without an OS descriptor.
func MemPipe(capacity int) (*MemPipeReader, *MemPipeWriter) {
	if capacity <= 0 {
		capacity = DefaultMemPipeCapacity
	}
	p := &memPipe{capacity: capacity, changed: make(chan struct{})}
	return &MemPipeReader{p: p}, &MemPipeWriter{p: p}
}

type memPipe struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
	rclosed  bool
	wclosed  bool
	changed  chan struct{}
}

// notify wakes every waiter. The caller holds p.mu.
func (p *memPipe) notify() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *memPipe) readable() bool { return len(p.buf) > 0 || p.wclosed || p.rclosed }

func (p *memPipe) writable() bool { return len(p.buf) < p.capacity || p.rclosed || p.wclosed }

// wait blocks until cond holds under p.mu. It returns with p.mu held.
func (p *memPipe) wait(ctx context.Context, cond func() bool) error {
	for !cond() {
		ch := p.changed
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			p.mu.Lock()
			return ctx.Err()
		}
		p.mu.Lock()
	}
	return nil
}

func (p *memPipe) read(b []byte) (int, error) {
	if p.rclosed {
		return 0, ErrClosedStream
	}
	if len(p.buf) == 0 {
		if p.wclosed {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(b, p.buf)
	p.buf = p.buf[:copy(p.buf, p.buf[n:])]
	p.notify()
	return n, nil
}

func (p *memPipe) write(b []byte) (int, error) {
	if p.wclosed {
		return 0, ErrClosedStream
	}
	if p.rclosed {
		return 0, syscall.EPIPE
	}
	space := p.capacity - len(p.buf)
	if space == 0 {
		return 0, ErrWouldBlock
	}
	if len(b) > space {
		b = b[:space]
	}
	p.buf = append(p.buf, b...)
	p.notify()
	return len(b), nil
}

// MemPipeReader is the read end of a MemPipe.
type MemPipeReader struct{ p *memPipe }

// Read blocks until data is available or the write end is closed.
func (r *MemPipeReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	_ = r.p.wait(context.Background(), r.p.readable)
	return r.p.read(b)
}

// ReadNonblock reads what is buffered or returns ErrWouldBlock.
func (r *MemPipeReader) ReadNonblock(b []byte) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.read(b)
}

func (r *MemPipeReader) Ready(i Interest) bool {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return i&InterestRead != 0 && r.p.readable()
}

func (r *MemPipeReader) WaitReady(ctx context.Context, i Interest) error {
	if i&InterestRead == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.wait(ctx, r.p.readable)
}

// Buffered returns the number of bytes waiting to be read.
func (r *MemPipeReader) Buffered() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return len(r.p.buf)
}

func (r *MemPipeReader) Name() string { return "mempipe:r" }

func (r *MemPipeReader) Close() error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if r.p.rclosed {
		return ErrClosedStream
	}
	r.p.rclosed = true
	r.p.buf = nil
	r.p.notify()
	return nil
}

// MemPipeWriter is the write end of a MemPipe.
type MemPipeWriter struct{ p *memPipe }

// Write blocks until all of b is buffered or the read end is closed.
func (w *MemPipeWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	written := 0
	for written < len(b) {
		_ = w.p.wait(context.Background(), w.p.writable)
		n, err := w.p.write(b[written:])
		written += n
		if err != nil && !IsWouldBlock(err) {
			return written, err
		}
	}
	return written, nil
}

// WriteNonblock buffers what fits or returns ErrWouldBlock.
func (w *MemPipeWriter) WriteNonblock(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.write(b)
}

func (w *MemPipeWriter) Ready(i Interest) bool {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return i&InterestWrite != 0 && w.p.writable()
}

func (w *MemPipeWriter) WaitReady(ctx context.Context, i Interest) error {
	if i&InterestWrite == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.wait(ctx, w.p.writable)
}

func (w *MemPipeWriter) Name() string { return "mempipe:w" }

func (w *MemPipeWriter) Close() error {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.wclosed {
		return ErrClosedStream
	}
	w.p.wclosed = true
	w.p.notify()
	return nil
}
