// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// Host is the runtime context Files live in: configuration, the fileno
// registry, the cooperative lock table and the default encodings.
type Host struct {
	cfg   *Config
	reg   *Registry
	locks *LockTable
	log   logrus.FieldLogger

	defaultExternal *Encoding
	defaultInternal *Encoding
}

// NewHost creates a Host. A nil cfg uses DefaultConfig.
func NewHost(cfg *Config) (*Host, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.withDefaults()
	ext, err := LookupEncoding(c.DefaultExternal)
	if err != nil {
		return nil, err
	}
	var in *Encoding
	if c.DefaultInternal != "" {
		if in, err = LookupEncoding(c.DefaultInternal); err != nil {
			return nil, err
		}
	}
	h := &Host{
		cfg:             &c,
		reg:             NewRegistry(c.FirstFakeFD, c.Logger),
		locks:           NewLockTable(c.Logger),
		log:             c.Logger,
		defaultExternal: ext,
		defaultInternal: in,
	}
	debugf(h.log, "[host] new external=%s native=%t", ext, c.IsNative() && nativeAvailable)
	return h, nil
}

// Config returns the Host's effective configuration.
func (h *Host) Config() *Config { return h.cfg }

// Registry returns the fileno registry.
func (h *Host) Registry() *Registry { return h.reg }

// Locks returns the cooperative lock table.
func (h *Host) Locks() *LockTable { return h.locks }

func (h *Host) DefaultExternal() *Encoding { return h.defaultExternal }

func (h *Host) DefaultInternal() *Encoding { return h.defaultInternal }

// Close closes every Descriptor still registered.
func (h *Host) Close() error { return h.reg.CloseAll() }

func (h *Host) openHandle(path string, m ModeFlags, perm os.FileMode) (*handleState, error) {
	hd, err := h.cfg.FS.OpenFile(path, m.OSFlags(), perm)
	if err != nil {
		return nil, newOpError("open", path, -1, err)
	}
	return newHandleState(hd, m, path, h.locks), nil
}

func (h *Host) register(st *handleState) *Descriptor {
	return newDescriptor(st, h.reg.claim(st.sysfd), h.reg, h.log)
}

// Open opens path on the Host's filesystem and returns its Descriptor.
func (h *Host) Open(path string, m ModeFlags, perm os.FileMode) (*Descriptor, error) {
	st, err := h.openHandle(path, m, perm)
	if err != nil {
		return nil, err
	}
	return h.register(st), nil
}

// NewDescriptor wraps an already open handle opened with mode m.
func (h *Host) NewDescriptor(hd Handle, m ModeFlags) (*Descriptor, error) {
	if hd == nil {
		return nil, &OpError{Op: "open", Fileno: -1, Err: ErrBadDescriptor}
	}
	return h.register(newHandleState(hd, m, "", h.locks)), nil
}

// Wrap wraps an already open handle, inferring its mode from what it can
// do.
func (h *Host) Wrap(hd Handle) (*Descriptor, error) {
	if hd == nil {
		return nil, &OpError{Op: "open", Fileno: -1, Err: ErrBadDescriptor}
	}
	caps, _ := detectCapabilities(hd, NewModeFlags(ReadWrite))
	return h.NewDescriptor(hd, ModeFlagsFromCapabilities(caps))
}

// OpenOptions configures OpenFileOptions. Mode takes precedence over
// Flags.
type OpenOptions struct {
	// Mode is a mode string such as "r", "w+b" or "r:utf-16le:utf-8".
	Mode string
	// Flags are POSIX open flags, used when Mode is empty.
	Flags int
	Perm  os.FileMode

	External string
	Internal string
	Binmode  bool
	Textmode bool
	Conv     ConvFlags
	Sync     bool
	Nonblock bool
}

// OpenFile opens path with a mode string.
func (h *Host) OpenFile(path, mode string, perm os.FileMode) (*File, error) {
	return h.OpenFileOptions(context.Background(), path, OpenOptions{Mode: mode, Perm: perm})
}

// OpenFileOptions opens path as described by o.
func (h *Host) OpenFileOptions(ctx context.Context, path string, o OpenOptions) (*File, error) {
	var (
		fmode   FMode
		mflags  ModeFlags
		encSpec string
		err     error
	)
	if o.Mode != "" {
		if fmode, encSpec, err = ParseFMode(o.Mode); err != nil {
			return nil, err
		}
		mflags = fmode.ModeFlags()
	} else {
		if mflags, err = ModeFlagsFromPosix(o.Flags); err != nil {
			return nil, err
		}
		fmode = mflags.FMode()
	}
	if o.Binmode {
		if fmode&FTextmode != 0 {
			return nil, ErrInvalidMode
		}
		fmode |= FBinmode
		mflags = mflags.WithBinary()
	}
	if o.Textmode {
		if fmode&FBinmode != 0 {
			return nil, ErrInvalidMode
		}
		fmode |= FTextmode
	}
	if o.Sync {
		fmode |= FSync
	}
	if o.External != "" {
		if encSpec != "" {
			return nil, ErrInvalidMode
		}
		encSpec = o.External
		if o.Internal != "" {
			encSpec += ":" + o.Internal
		}
		if hasBOMPrefix(o.External) {
			fmode |= FSetEncByBOM
		}
	}
	es, err := ParseEncodingSpec(encSpec)
	if err != nil {
		return nil, err
	}
	perm := o.Perm
	if perm == 0 {
		perm = 0o666
	}
	d, err := h.Open(path, mflags, perm)
	if err != nil {
		return nil, err
	}
	f := h.newFile(d, fmode, path)
	f.nonblock = o.Nonblock
	f.setEncodingSpec(es, o.Conv)
	if fmode&FSetEncByBOM != 0 {
		if fmode&FReadable == 0 {
			f.mode &^= FSetEncByBOM
		} else if err := f.setEncodingByBOM(ctx); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	debugf(h.log, "[host] open path=%s fileno=%d mode=%s", path, d.Fileno(), mflags)
	return f, nil
}

// NewFile builds a File over d. fmode must not ask for more than d was
// opened with.
func (h *Host) NewFile(d *Descriptor, fmode FMode, path string) (*File, error) {
	st, err := d.openState()
	if err != nil {
		return nil, err
	}
	if fmode&FReadWrite == 0 {
		return nil, &OpError{Op: "open", Path: path, Fileno: d.Fileno(), Err: ErrInvalidMode}
	}
	if fmode&FReadable != 0 && !st.caps.Readable || fmode&FWritable != 0 && !st.caps.Writable {
		return nil, &OpError{Op: "open", Path: path, Fileno: d.Fileno(), Err: ErrInvalidMode}
	}
	if err := d.CheckNewModes(fmode.ModeFlags()); err != nil {
		return nil, err
	}
	f := h.newFile(d, fmode, path)
	f.setEncodingSpec(EncodingSpec{}, 0)
	return f, nil
}

// Pipe creates a connected pair: an OS pipe when native descriptors are
// enabled, otherwise a MemPipe. The write end is synchronous.
func (h *Host) Pipe() (r, w *File, err error) {
	var rh, wh Handle
	if h.cfg.IsNative() && nativeAvailable {
		rf, wf, err := os.Pipe()
		if err != nil {
			return nil, nil, newOpError("pipe", "", -1, err)
		}
		rh, wh = rf, wf
	} else {
		rh, wh = MemPipe(0)
	}
	rd := h.register(newHandleState(rh, NewModeFlags(ReadOnly), "", h.locks))
	wd := h.register(newHandleState(wh, NewModeFlags(WriteOnly), "", h.locks))
	r = h.newFile(rd, FReadable, "")
	r.setEncodingSpec(EncodingSpec{}, 0)
	w = h.newFile(wd, FWritable|FSync, "")
	w.setEncodingSpec(EncodingSpec{}, 0)
	debugf(h.log, "[host] pipe r=%d w=%d", rd.Fileno(), wd.Fileno())
	return r, w, nil
}
