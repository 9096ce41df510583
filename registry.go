// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Registry maps filenos to live Descriptors. A Host owns one; it is the
// only process-wide mutable table in the package.
type Registry struct {
	mu       sync.RWMutex
	byFileno map[int]*Descriptor
	next     atomic.Int64
	log      logrus.FieldLogger
}

// NewRegistry creates a registry whose synthetic filenos start at firstFake.
func NewRegistry(firstFake int, log logrus.FieldLogger) *Registry {
	r := &Registry{byFileno: make(map[int]*Descriptor), log: log}
	r.next.Store(int64(firstFake))
	return r
}

// nextFileno allocates a synthetic fileno.
func (r *Registry) nextFileno() int {
	for {
		n := int(r.next.Add(1) - 1)
		r.mu.RLock()
		_, taken := r.byFileno[n]
		r.mu.RUnlock()
		if !taken {
			return n
		}
	}
}

// claim returns native if it is a real descriptor not yet registered,
// otherwise a synthetic fileno.
func (r *Registry) claim(native int) int {
	if native >= 0 {
		r.mu.RLock()
		_, taken := r.byFileno[native]
		r.mu.RUnlock()
		if !taken {
			return native
		}
	}
	return r.nextFileno()
}

func (r *Registry) register(d *Descriptor) {
	if prev := r.swap(d.fileno, d); prev != nil && prev != d {
		_ = prev.Close()
	}
}

// swap installs d under fileno and returns the Descriptor it displaced, in
// one step, so concurrent claims on a fileno cannot lose a registrant. The
// caller owns prev and must close it.
func (r *Registry) swap(fileno int, d *Descriptor) (prev *Descriptor) {
	r.mu.Lock()
	prev = r.byFileno[fileno]
	r.byFileno[fileno] = d
	n := len(r.byFileno)
	r.mu.Unlock()
	debugf(r.log, "[registry] register fileno=%d live=%d", fileno, n)
	return prev
}

// unregister removes fileno only while it still maps to d.
func (r *Registry) unregister(fileno int, d *Descriptor) {
	r.mu.Lock()
	if cur, ok := r.byFileno[fileno]; ok && cur == d {
		delete(r.byFileno, fileno)
	}
	n := len(r.byFileno)
	r.mu.Unlock()
	debugf(r.log, "[registry] unregister fileno=%d live=%d", fileno, n)
}

// Lookup returns the Descriptor registered under fileno.
func (r *Registry) Lookup(fileno int) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byFileno[fileno]
	return d, ok
}

// Len returns the number of registered filenos.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byFileno)
}

// CloseAll closes every registered Descriptor and returns the joined errors.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	all := make([]*Descriptor, 0, len(r.byFileno))
	for _, d := range r.byFileno {
		all = append(all, d)
	}
	r.mu.RUnlock()
	var errs []error
	for _, d := range all {
		if err := d.Close(); err != nil && !errors.Is(err, ErrBadDescriptor) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
