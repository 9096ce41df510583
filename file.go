// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// eofChar is what appendLine returns when input ended before any byte.
const eofChar = -1

// buffer is the window [off, off+len) over ptr. Capacity is len(ptr).
type buffer struct {
	ptr []byte
	off int
	len int
}

func (b *buffer) capa() int { return len(b.ptr) }

func (b *buffer) pending() []byte { return b.ptr[b.off : b.off+b.len] }

func (b *buffer) consume(n int) {
	b.off += n
	b.len -= n
	if b.len == 0 {
		b.off = 0
	}
}

func (b *buffer) clear() { b.off, b.len = 0, 0 }

func (b *buffer) release() { *b = buffer{} }

// compact moves live bytes to offset 0.
func (b *buffer) compact() {
	if b.off == 0 {
		return
	}
	copy(b.ptr, b.ptr[b.off:b.off+b.len])
	b.off = 0
}

func (b *buffer) alloc(capa int) {
	if b.ptr == nil {
		b.ptr = make([]byte, capa)
		b.off, b.len = 0, 0
	}
}

// grow enlarges the buffer to at least capa, keeping live bytes at the
// same distance from the end.
func (b *buffer) grow(capa int) {
	if capa <= len(b.ptr) {
		return
	}
	np := make([]byte, capa)
	off := capa - b.len
	copy(np[off:], b.pending())
	b.ptr, b.off = np, off
}

// File is a buffered stream over one Descriptor. It keeps independent read,
// write and character buffers, drives encoding conversion in both
// directions, and retries would-block results through readiness waits
// according to its SemanticPolicy.
//
// A File is safe for concurrent use; operations serialize on an internal
// mutex that is released while waiting for readiness.
type File struct {
	mu   sync.Mutex
	host *Host
	cfg  *Config
	log  logrus.FieldLogger

	fd        *Descriptor
	shim      Shim
	mode      FMode
	nonblock  bool
	policy    SemanticPolicy
	backoff   Backoff
	lineno    int
	path      string
	autoclose bool
	done      chan struct{}
	doneOnce  sync.Once

	rbuf, wbuf, cbuf buffer

	enc, enc2 *Encoding
	ecflags   ConvFlags
	readconv  *converter

	writeconv            *converter
	writePre             *converter
	writeconvInitialized bool
	writeconvAsciicompat *Encoding
	writeconvPreFlags    ConvFlags

	writeLock sync.Locker
	tied      *File
	finalizer func(f *File, noraise bool) error
	cleanup   runtime.Cleanup
}

func (h *Host) newFile(d *Descriptor, fmode FMode, path string) *File {
	f := &File{
		host:      h,
		cfg:       h.cfg,
		log:       h.log,
		fd:        d,
		mode:      fmode,
		path:      path,
		autoclose: true,
		done:      make(chan struct{}),
	}
	if path == "" {
		f.path = d.Path()
	}
	f.prepareHandle(d.state())
	f.cleanup = runtime.AddCleanup(f, func(d *Descriptor) { _ = d.Close() }, d)
	return f
}

// prepareHandle switches native pollable descriptors to non-blocking mode;
// blocking semantics are provided by readiness waits so that every wait
// stays cancellable.
func (f *File) prepareHandle(st *handleState) {
	if st.sysfd < 0 || !st.kind.Selectable() {
		return
	}
	if err := setNonblock(st.sysfd, true); err != nil {
		debugf(f.log, "[file] set nonblock fd=%d: %v", st.sysfd, err)
	}
}

func (f *File) closedError(op string) error {
	return &OpError{Op: op, Path: f.path, Fileno: -1, Err: ErrClosedStream}
}

// checkClosed fails when the File has been closed. The caller holds f.mu.
func (f *File) checkClosed() error {
	if f.fd == nil {
		return f.closedError("checkClosed")
	}
	return nil
}

func (f *File) state() (*handleState, error) {
	if f.fd == nil {
		return nil, f.closedError("checkClosed")
	}
	return f.fd.openState()
}

// Fileno returns the fileno of the underlying Descriptor, or -1 once closed.
func (f *File) Fileno() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == nil {
		return -1
	}
	return f.fd.Fileno()
}

// Descriptor returns the underlying Descriptor, or nil once closed.
func (f *File) Descriptor() *Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Mode returns the current fmode bits.
func (f *File) Mode() FMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *File) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd == nil
}

func (f *File) Lineno() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lineno
}

func (f *File) SetLineno(n int) {
	f.mu.Lock()
	f.lineno = n
	f.mu.Unlock()
}

// SetSync toggles synchronous writes: every Write goes straight to the
// handle after flushing pending output.
func (f *File) SetSync(sync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	if sync {
		f.mode |= FSync
	} else {
		f.mode &^= FSync
	}
	return nil
}

func (f *File) IsSync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode&FSync != 0
}

// SetBlocking selects blocking or non-blocking semantics. In non-blocking
// mode would-block results are returned to the caller instead of waited
// out.
func (f *File) SetBlocking(blocking bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	f.nonblock = !blocking
	debugf(f.log, "[file] fileno=%d blocking=%t", f.fd.Fileno(), blocking)
	return nil
}

func (f *File) IsBlocking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.nonblock
}

// SetPolicy overrides how would-block results are handled. A nil policy
// restores the default derived from the blocking mode.
func (f *File) SetPolicy(p SemanticPolicy) {
	f.mu.Lock()
	f.policy = p
	f.mu.Unlock()
}

func (f *File) semanticPolicy() SemanticPolicy {
	switch {
	case f.policy != nil:
		return f.policy
	case f.nonblock:
		return ReturnPolicy{}
	default:
		return BlockingPolicy{Backoff: &f.backoff}
	}
}

// EnableWriteLock makes the native write of every flush run under l. Files
// sharing one handle can pass the same lock to keep their writes from
// interleaving. A nil l allocates a private lock.
func (f *File) EnableWriteLock(l sync.Locker) {
	if l == nil {
		l = &sync.Mutex{}
	}
	f.mu.Lock()
	f.writeLock = l
	f.mu.Unlock()
}

// TieWriter makes w the write side of f: reads on f first flush w, and
// writes on f go to w.
func (f *File) TieWriter(w *File) error {
	if w == f {
		return &OpError{Op: "tie", Path: f.path, Fileno: -1, Err: ErrInvalidMode}
	}
	f.mu.Lock()
	f.tied = w
	f.mu.Unlock()
	return nil
}

// SetAutoclose controls whether closing f closes its Descriptor.
func (f *File) SetAutoclose(autoclose bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoclose = autoclose
	if !autoclose {
		f.cleanup.Stop()
	}
}

// SetFinalizer installs a hook run after the File is closed, with the same
// noraise flag the close used.
func (f *File) SetFinalizer(fn func(f *File, noraise bool) error) {
	f.mu.Lock()
	f.finalizer = fn
	f.mu.Unlock()
}

// waitIO reacts to a would-block result cause. Depending on the policy it
// returns cause, or waits for readiness (pollable handles) or yields
// (everything else). f.mu is released for the duration of the wait.
func (f *File) waitIO(ctx context.Context, op Op, interest Interest, cause error) error {
	p := f.semanticPolicy()
	if p.OnWouldBlock(op) != PolicyRetry {
		return cause
	}
	st, err := f.state()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := f.done
	go func() {
		select {
		case <-done:
			cancel()
		case <-wctx.Done():
		}
	}()

	f.mu.Unlock()
	if st.kind.Selectable() {
		_, err = f.host.waitHandle(wctx, st, interest, Forever)
	} else {
		err = p.Yield(wctx, op)
	}
	f.mu.Lock()

	if cerr := f.checkClosed(); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	return nil
}

func (f *File) waitReadable(ctx context.Context, op Op, cause error) error {
	return f.waitIO(ctx, op, InterestRead, cause)
}

func (f *File) waitWritable(ctx context.Context, op Op, cause error) error {
	return f.waitIO(ctx, op, InterestWrite, cause)
}

// Wait blocks until f is ready for interest or timeout passes. Buffered
// read data counts as readable. timeout < 0 waits forever.
func (f *File) Wait(ctx context.Context, interest Interest, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	st, err := f.state()
	if err != nil {
		f.mu.Unlock()
		return false, err
	}
	if interest&InterestRead != 0 && (f.rbuf.len > 0 || f.cbuf.len > 0) {
		f.mu.Unlock()
		return true, nil
	}
	f.mu.Unlock()
	return f.host.waitHandle(ctx, st, interest, timeout)
}

// ReadPending reports 1 when converted characters are buffered, otherwise
// the number of buffered raw bytes.
func (f *File) ReadPending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cbuf.len > 0 {
		return 1
	}
	return f.rbuf.len
}

// WritePending returns the number of buffered bytes not yet flushed.
func (f *File) WritePending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wbuf.len
}

// Seek flushes pending output, gives back read-ahead, then repositions the
// handle. It implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	return f.SeekContext(context.Background(), offset, whence)
}

func (f *File) SeekContext(ctx context.Context, offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.flushBeforeSeek(ctx); err != nil {
		return -1, err
	}
	return f.shim.Seek(f.fd, offset, whence)
}

// Tell returns the logical position: the handle offset less any read-ahead.
func (f *File) Tell(ctx context.Context) (int64, error) {
	return f.SeekContext(ctx, 0, io.SeekCurrent)
}

// Rewind seeks to the start and resets the line counter.
func (f *File) Rewind(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.flushBeforeSeek(ctx); err != nil {
		return err
	}
	if _, err := f.shim.Seek(f.fd, 0, io.SeekStart); err != nil {
		return err
	}
	f.lineno = 0
	return nil
}

func (f *File) flushBeforeSeek(ctx context.Context) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if err := f.flush(ctx); err != nil {
		return err
	}
	return f.unread()
}

// Truncate flushes and changes the size of the underlying file.
func (f *File) Truncate(ctx context.Context, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	if err := f.flush(ctx); err != nil {
		return err
	}
	return f.shim.Truncate(f.fd, size)
}

// Fsync flushes and commits written data to stable storage.
func (f *File) Fsync(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkWritable(); err != nil {
		return err
	}
	if err := f.flush(ctx); err != nil {
		return err
	}
	return f.shim.Sync(f.fd)
}

// Flock applies an advisory lock. Pending output is flushed first. The
// File's mutex is not held while a blocking request waits.
func (f *File) Flock(ctx context.Context, op FlockOp) error {
	f.mu.Lock()
	if err := f.checkClosed(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.mode&FWritable != 0 {
		if err := f.flush(ctx); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	d := f.fd
	f.mu.Unlock()

	// A blocking lock waits without f.mu, so it runs on its own Shim and
	// the outcome is recorded in f.shim afterwards.
	var s Shim
	err := s.Flock(ctx, d, op)
	f.mu.Lock()
	f.shim.err = s.err
	f.mu.Unlock()
	debugf(f.log, "[file] flock fileno=%d op=%d err=%v", d.Fileno(), op, err)
	return err
}

// LastError returns the error of the File's last native call, or nil
// when it succeeded.
func (f *File) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shim.Err()
}

// Close flushes pending output and closes the File. Closing twice fails
// with ErrBadDescriptor.
func (f *File) Close() error {
	_, err := f.Finalize(context.Background(), false)
	return err
}

// Finalize tears the File down. Pending converted output and buffered bytes
// are written, the Descriptor is released and the finalizer hook runs.
// With noraise set, a failure only shows up in hadErr (and the log), so
// batch teardown can carry on; otherwise the first error is returned.
func (f *File) Finalize(ctx context.Context, noraise bool) (hadErr bool, err error) {
	f.mu.Lock()
	if f.fd == nil {
		f.mu.Unlock()
		if noraise {
			return false, nil
		}
		return false, f.closedError("close")
	}
	var first error
	record := func(e error) {
		if e != nil && first == nil {
			first = e
		}
	}
	if f.writeconv != nil || f.writePre != nil {
		record(f.finishWriteconv(ctx, noraise))
	}
	if f.wbuf.len > 0 {
		if noraise {
			record(f.flushBuffer())
		} else {
			record(f.flush(ctx))
		}
	}
	if f.fd == nil {
		// Torn down by another caller while the flush waited.
		f.mu.Unlock()
		if noraise {
			return first != nil, nil
		}
		if first == nil {
			first = f.closedError("close")
		}
		return true, first
	}
	d := f.fd
	f.fd = nil
	f.mode &^= FReadWrite
	f.readconv = nil
	f.writeconv = nil
	f.writePre = nil
	f.writeconvInitialized = false
	f.rbuf.release()
	f.wbuf.release()
	f.cbuf.release()
	f.doneOnce.Do(func() { close(f.done) })
	f.cleanup.Stop()
	if f.autoclose {
		record(f.shim.Close(d))
	}
	fin := f.finalizer
	fileno := d.Fileno()
	f.mu.Unlock()

	if fin != nil {
		record(fin(f, noraise))
	}
	if first == nil {
		debugf(f.log, "[file] close fileno=%d", fileno)
		return false, nil
	}
	if noraise {
		f.log.WithFields(logrus.Fields{"fileno": fileno, "path": f.path}).Warnf("[file] finalize: %v", first)
		return true, nil
	}
	return true, first
}

// CloseAll closes every file even when some fail, and returns the first
// error.
func CloseAll(ctx context.Context, files ...*File) error {
	var first error
	for _, f := range files {
		if f == nil {
			continue
		}
		if _, err := f.Finalize(ctx, false); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reopen points f at a freshly opened path, keeping its fileno. An empty
// mode reuses the current one.
func (f *File) Reopen(ctx context.Context, path, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	var (
		fmode   FMode
		encSpec string
		err     error
	)
	if mode == "" {
		fmode = f.mode &^ (FTrunc | FExclusive | FWSplit | FWSplitInitialized | FPrep)
	} else if fmode, encSpec, err = ParseFMode(mode); err != nil {
		return err
	}
	if err := f.discardForReopen(ctx); err != nil {
		return err
	}
	st, err := f.host.openHandle(path, fmode.ModeFlags(), 0o666)
	if err != nil {
		return err
	}
	if err := f.fd.reopen(st); err != nil {
		return err
	}
	f.prepareHandle(st)
	f.path = path
	f.mode = fmode | f.mode&FPrep
	if mode != "" {
		es, err := ParseEncodingSpec(encSpec)
		if err != nil {
			return err
		}
		f.setEncodingSpec(es, 0)
	}
	if f.mode&FSetEncByBOM != 0 {
		return f.setEncodingByBOM(ctx)
	}
	return nil
}

// ReopenFrom makes f share other's handle, as dup2 would, and adopts its
// mode, encodings and line counter.
func (f *File) ReopenFrom(ctx context.Context, other *File) error {
	if other == f {
		return nil
	}
	other.mu.Lock()
	if err := other.checkClosed(); err != nil {
		other.mu.Unlock()
		return err
	}
	if err := other.flushBeforeSeek(ctx); err != nil && KindOf(err) != KindNotSeekable {
		other.mu.Unlock()
		return err
	}
	od := other.fd
	omode, opath, olineno := other.mode, other.path, other.lineno
	oenc, oenc2, oflags := other.enc, other.enc2, other.ecflags
	other.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return err
	}
	if err := f.discardForReopen(ctx); err != nil {
		return err
	}
	if err := od.Dup2Into(f.fd); err != nil {
		return err
	}
	f.mode = omode&^FPrep | f.mode&FPrep
	f.path = opath
	f.lineno = olineno
	f.enc, f.enc2, f.ecflags = oenc, oenc2, oflags
	return nil
}

// discardForReopen flushes output, returns read-ahead where possible and
// resets buffers and conversion state.
func (f *File) discardForReopen(ctx context.Context) error {
	if f.mode&FWritable != 0 {
		if err := f.flush(ctx); err != nil {
			return err
		}
	}
	if err := f.unread(); err != nil && KindOf(err) != KindNotSeekable {
		return err
	}
	f.rbuf.release()
	f.wbuf.release()
	f.cbuf.release()
	f.clearCodeConversion()
	return nil
}

// checkCharReadable is the common precondition of character reads: pending
// output (ours and the tied writer's) is flushed first.
func (f *File) checkCharReadable(ctx context.Context) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.mode&FReadable == 0 {
		return &OpError{Op: "read", Path: f.path, Fileno: f.fd.Fileno(), Err: ErrNotOpenedForReading}
	}
	if f.wbuf.len > 0 {
		if err := f.flush(ctx); err != nil {
			return err
		}
	}
	if f.tied != nil {
		if err := f.tied.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

var errCharBuffered = &kindError{msg: "posixio: byte oriented read for character buffered IO", kind: ErrIOFailure}

func (f *File) checkByteReadable(ctx context.Context) error {
	if err := f.checkCharReadable(ctx); err != nil {
		return err
	}
	if f.cbuf.len > 0 {
		return &OpError{Op: "read", Path: f.path, Fileno: f.fd.Fileno(), Err: errCharBuffered}
	}
	return nil
}

func (f *File) checkWritable() error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.mode&FWritable == 0 {
		return &OpError{Op: "write", Path: f.path, Fileno: f.fd.Fileno(), Errno: syscall.EBADF, Err: ErrNotOpenedForWriting}
	}
	if f.rbuf.len > 0 || f.cbuf.len > 0 {
		return f.unread()
	}
	return nil
}

// unread gives back read-ahead by seeking the handle backwards. With read
// conversion active the converted text still held is mapped back to its
// source length, dropped carriage returns included. Handles that cannot
// seek are marked duplex instead.
func (f *File) unread() error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.mode&FDuplex != 0 {
		return nil
	}
	back := int64(f.rbuf.len)
	if f.readconv != nil {
		pending := append(append([]byte(nil), f.cbuf.pending()...), f.readconv.out...)
		raw, err := f.readconv.rawLength(pending)
		if err != nil {
			return err
		}
		back += raw
	}
	if back == 0 {
		return nil
	}
	if _, err := f.shim.Seek(f.fd, -back, io.SeekCurrent); err != nil {
		if errors.Is(err, syscall.ESPIPE) {
			f.mode |= FDuplex
			debugf(f.log, "[file] unread fileno=%d: not seekable, duplex", f.fd.Fileno())
			return nil
		}
		return err
	}
	f.rbuf.clear()
	f.cbuf.clear()
	if f.readconv != nil {
		f.readconv.reset()
	}
	return nil
}

// RemainSize estimates how many bytes are left to read: buffered bytes
// plus the distance to the end of a seekable handle, or one Bufsiz.
func (f *File) RemainSize() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkClosed(); err != nil {
		return 0, err
	}
	return f.remainSize(), nil
}

func (f *File) remainSize() int {
	siz := f.rbuf.len
	size, err := f.shim.Size(f.fd)
	if err == nil {
		pos, err := f.shim.Seek(f.fd, 0, io.SeekCurrent)
		if err == nil && pos >= 0 && size >= pos {
			return siz + int(size-pos)
		}
	}
	return siz + f.cfg.Bufsiz
}
