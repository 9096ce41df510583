// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// handleState is shared by every peer Descriptor of one open handle. The
// handle is closed exactly once, when refs drops to zero.
type handleState struct {
	mu     sync.Mutex
	refs   int
	closed bool

	h        Handle
	caps     Capabilities
	kind     HandleKind
	mode     ModeFlags
	sysfd    int
	osAppend bool
	path     string

	// Advisory lock state. The token names this open file description in
	// the cooperative lock table.
	lockToken uuid.UUID
	lockMode  LockMode
	locks     *LockTable
}

func newHandleState(h Handle, m ModeFlags, path string, locks *LockTable) *handleState {
	caps, sysfd := detectCapabilities(h, m)
	if path == "" {
		path = handleName(h)
	}
	return &handleState{
		refs:      1,
		h:         h,
		caps:      caps,
		kind:      kindOf(caps),
		mode:      m,
		sysfd:     sysfd,
		osAppend:  sysfd >= 0 && isOSAppend(sysfd),
		path:      path,
		lockToken: uuid.New(),
		locks:     locks,
	}
}

func (s *handleState) retain() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.refs <= 0 {
		return 0, ErrBadDescriptor
	}
	s.refs++
	return s.refs, nil
}

// release drops one reference and closes the handle on the last one.
func (s *handleState) release() (refs int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.refs <= 0 {
		return 0, ErrBadDescriptor
	}
	s.refs--
	if s.refs > 0 {
		return s.refs, nil
	}
	s.closed = true
	if s.lockMode != LockNone && s.locks != nil {
		s.locks.releaseAll(s.lockKey(), s.lockToken)
		s.lockMode = LockNone
	}
	return 0, s.h.Close()
}

// lockKey names the resource in the cooperative lock table. Handles
// without a path only ever conflict with their own peers.
func (s *handleState) lockKey() string {
	if s.path != "" {
		return s.path
	}
	return s.lockToken.String()
}

func (s *handleState) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.refs > 0
}

// Descriptor gives one fileno identity to a shared handle. Peers created
// by Dup, Dup2 and Dup2Into share the handle and its close lifecycle.
type Descriptor struct {
	mu     sync.Mutex
	fileno int
	st     *handleState
	closed bool

	reg *Registry
	log logrus.FieldLogger
}

func newDescriptor(st *handleState, fileno int, reg *Registry, log logrus.FieldLogger) *Descriptor {
	d := &Descriptor{fileno: fileno, st: st, reg: reg, log: log}
	reg.register(d)
	return d
}

func (d *Descriptor) state() *handleState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st
}

// openState returns the shared state, or ErrBadDescriptor once this
// instance or its family has been closed.
func (d *Descriptor) openState() (*handleState, error) {
	d.mu.Lock()
	st, closed := d.st, d.closed
	d.mu.Unlock()
	if closed || !st.isOpen() {
		return nil, d.badDescriptor("checkOpen")
	}
	return st, nil
}

func (d *Descriptor) badDescriptor(op string) error {
	return &OpError{Op: op, Path: d.state().path, Fileno: d.Fileno(), Err: ErrBadDescriptor}
}

// Fileno returns this instance's fileno.
func (d *Descriptor) Fileno() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileno
}

// Path returns the path the handle was opened with, if known.
func (d *Descriptor) Path() string { return d.state().path }

// Capabilities returns the capability flags computed at open.
func (d *Descriptor) Capabilities() Capabilities { return d.state().caps }

// Kind returns the capability variant of the handle.
func (d *Descriptor) Kind() HandleKind { return d.state().kind }

// ModeFlags returns the mode the handle was opened with.
func (d *Descriptor) ModeFlags() ModeFlags { return d.state().mode }

// Handle returns the underlying handle.
func (d *Descriptor) Handle() Handle { return d.state().h }

// RefCount returns the number of live peers sharing the handle.
func (d *Descriptor) RefCount() int {
	st := d.state()
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.refs
}

// IsOpen reports whether this instance and its handle are open.
func (d *Descriptor) IsOpen() bool {
	_, err := d.openState()
	return err == nil
}

// CheckOpen fails with ErrBadDescriptor when the handle is closed.
func (d *Descriptor) CheckOpen() error {
	_, err := d.openState()
	return err
}

// CheckNewModes fails with ErrInvalidMode when m asks for more than the
// handle was opened with.
func (d *Descriptor) CheckNewModes(m ModeFlags) error {
	if !m.IsSubsetOf(d.ModeFlags()) {
		return &OpError{Op: "checkNewModes", Path: d.Path(), Fileno: d.Fileno(), Err: ErrInvalidMode}
	}
	return nil
}

// Dup returns a new peer with a fresh fileno.
func (d *Descriptor) Dup() (*Descriptor, error) {
	st, err := d.openState()
	if err != nil {
		return nil, err
	}
	refs, err := st.retain()
	if err != nil {
		return nil, d.badDescriptor("dup")
	}
	nd := newDescriptor(st, d.reg.nextFileno(), d.reg, d.log)
	debugf(d.log, "[descriptor] dup fileno=%d -> %d refs=%d", d.Fileno(), nd.fileno, refs)
	return nd, nil
}

// Dup2 returns a new peer registered under fileno. A different Descriptor
// registered there is replaced and closed; as with dup2(2), an error from
// that close is not reported.
func (d *Descriptor) Dup2(fileno int) (*Descriptor, error) {
	st, err := d.openState()
	if err != nil {
		return nil, err
	}
	if fileno == d.Fileno() {
		return d, nil
	}
	refs, err := st.retain()
	if err != nil {
		return nil, d.badDescriptor("dup2")
	}
	nd := &Descriptor{fileno: fileno, st: st, reg: d.reg, log: d.log}
	if old := d.reg.swap(fileno, nd); old != nil {
		if err := old.Close(); err != nil && KindOf(err) != KindBadDescriptor {
			debugf(d.log, "[descriptor] dup2 fileno=%d close replaced: %v", fileno, err)
		}
	}
	debugf(d.log, "[descriptor] dup2 fileno=%d -> %d refs=%d", d.Fileno(), fileno, refs)
	return nd, nil
}

// Dup2Into makes other a peer of d. other keeps its fileno; whatever it
// referenced before is closed first.
func (d *Descriptor) Dup2Into(other *Descriptor) error {
	if other == d {
		return nil
	}
	st, err := d.openState()
	if err != nil {
		return err
	}
	refs, err := st.retain()
	if err != nil {
		return d.badDescriptor("dup2")
	}
	if err := other.Close(); err != nil {
		_, _ = st.release()
		return err
	}
	other.mu.Lock()
	other.st = st
	other.closed = false
	fileno := other.fileno
	other.mu.Unlock()
	d.reg.register(other)
	debugf(d.log, "[descriptor] dup2into fileno=%d -> %d refs=%d", d.Fileno(), fileno, refs)
	return nil
}

// Close releases this instance. The handle is closed when the last peer
// closes; closing twice fails with ErrBadDescriptor.
func (d *Descriptor) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.badDescriptor("close")
	}
	d.closed = true
	st, fileno := d.st, d.fileno
	d.mu.Unlock()

	d.reg.unregister(fileno, d)
	refs, err := st.release()
	if KindOf(err) == KindBadDescriptor {
		return &OpError{Op: "close", Path: st.path, Fileno: fileno, Err: ErrBadDescriptor}
	}
	debugf(d.log, "[descriptor] close fileno=%d refs=%d", fileno, refs)
	return newOpError("close", st.path, fileno, err)
}

// Reopen points d at hd, opened with mode m, as a new peer family. d keeps
// its fileno; its previous handle loses one reference.
func (d *Descriptor) Reopen(hd Handle, m ModeFlags) error {
	if hd == nil {
		return &OpError{Op: "reopen", Fileno: d.Fileno(), Err: ErrBadDescriptor}
	}
	return d.reopen(newHandleState(hd, m, "", d.state().locks))
}

// reopen points d at a new handle, releasing the old one. d keeps its fileno.
func (d *Descriptor) reopen(st *handleState) error {
	d.mu.Lock()
	old, wasClosed := d.st, d.closed
	d.st = st
	d.closed = false
	fileno := d.fileno
	d.mu.Unlock()
	d.reg.register(d)
	debugf(d.log, "[descriptor] reopen fileno=%d path=%s", fileno, st.path)
	if wasClosed {
		return nil
	}
	_, err := old.release()
	if KindOf(err) == KindBadDescriptor {
		return nil
	}
	return newOpError("close", old.path, fileno, err)
}
