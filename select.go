// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Forever is the timeout of a wait that never gives up.
const Forever time.Duration = -1

// SelectResult lists the Files found ready, in argument order.
type SelectResult struct {
	Read  []*File
	Write []*File
	Error []*File
}

// Empty reports whether nothing is ready.
func (r *SelectResult) Empty() bool {
	return r == nil || len(r.Read)+len(r.Write)+len(r.Error) == 0
}

type selEntry struct {
	f        *File
	st       *handleState
	interest Interest
	ready    bool
}

// Select waits until a File in reads has input, one in writes accepts
// output, or one in errs has an exceptional condition. Buffered input
// counts as readable, and handles that cannot be polled are always ready
// for reading and writing. A negative timeout waits forever; on timeout
// the result is nil.
//
// OS descriptors are polled natively. Emulated handles wait through
// ReadinessNotifier; when both kinds are present the emulated waiters wake
// the poller through a self-pipe.
func (h *Host) Select(ctx context.Context, reads, writes, errs []*File, timeout time.Duration) (*SelectResult, error) {
	var (
		entries   []*selEntry
		classes   []Interest
		immediate bool
	)
	add := func(set []*File, interest Interest) error {
		for _, f := range set {
			f.mu.Lock()
			st, err := f.state()
			pending := f.rbuf.len > 0 || f.cbuf.len > 0
			f.mu.Unlock()
			if err != nil {
				return err
			}
			e := &selEntry{f: f, st: st, interest: interest}
			switch {
			case interest == InterestRead && pending:
				e.ready = true
			case !st.kind.Selectable():
				if interest == InterestError {
					continue
				}
				e.ready = true
			}
			immediate = immediate || e.ready
			entries = append(entries, e)
			classes = append(classes, interest)
		}
		return nil
	}
	if err := add(reads, InterestRead); err != nil {
		return nil, err
	}
	if err := add(writes, InterestWrite); err != nil {
		return nil, err
	}
	if err := add(errs, InterestError); err != nil {
		return nil, err
	}
	if immediate {
		timeout = 0
	}
	n, err := h.wait(ctx, entries, timeout)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		debugf(h.log, "[select] timeout after %v", timeout)
		return nil, nil
	}
	res := &SelectResult{}
	for i, e := range entries {
		if !e.ready {
			continue
		}
		switch classes[i] {
		case InterestRead:
			res.Read = append(res.Read, e.f)
		case InterestWrite:
			res.Write = append(res.Write, e.f)
		default:
			res.Error = append(res.Error, e.f)
		}
	}
	return res, nil
}

// waitHandle waits for one handle. Handles that cannot be polled are
// always ready for reading and writing.
func (h *Host) waitHandle(ctx context.Context, st *handleState, interest Interest, timeout time.Duration) (bool, error) {
	if !st.kind.Selectable() {
		return interest&(InterestRead|InterestWrite) != 0, nil
	}
	n, err := h.wait(ctx, []*selEntry{{st: st, interest: interest}}, timeout)
	return n > 0, err
}

// wait loops over pollReady and blocks until something is ready, timeout passes
// or ctx is done. Wakeups that find nothing ready go round again with the
// time left.
func (h *Host) wait(ctx context.Context, entries []*selEntry, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		n, err := pollReady(entries)
		if err != nil || n > 0 {
			return n, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		left := timeout
		switch {
		case timeout == 0:
			return 0, nil
		case timeout > 0:
			if left = time.Until(deadline); left <= 0 {
				return 0, nil
			}
		}
		if err := h.block(ctx, entries, left); err != nil {
			return 0, err
		}
	}
}

// pollReady marks the entries ready right now without waiting.
func pollReady(entries []*selEntry) (int, error) {
	var (
		natives []pollEntry
		index   []int
	)
	n := 0
	for i, e := range entries {
		switch {
		case e.ready:
			n++
		case e.st.sysfd >= 0:
			natives = append(natives, pollEntry{fd: e.st.sysfd, events: e.interest})
			index = append(index, i)
		default:
			if rn, ok := e.st.h.(ReadinessNotifier); ok && rn.Ready(e.interest) {
				e.ready = true
				n++
			}
		}
	}
	if len(natives) == 0 {
		return n, nil
	}
	if _, err := pollOnce(natives, 0); err != nil {
		return 0, err
	}
	for j, pe := range natives {
		if pe.revents&pe.events != 0 {
			entries[index[j]].ready = true
			n++
		}
	}
	return n, nil
}

// block sleeps until some entry may have become ready.
func (h *Host) block(ctx context.Context, entries []*selEntry, timeout time.Duration) error {
	var natives []pollEntry
	type notifier struct {
		rn       ReadinessNotifier
		interest Interest
	}
	var notifiers []notifier
	for _, e := range entries {
		if e.st.sysfd >= 0 {
			natives = append(natives, pollEntry{fd: e.st.sysfd, events: e.interest})
		} else if rn, ok := e.st.h.(ReadinessNotifier); ok {
			notifiers = append(notifiers, notifier{rn: rn, interest: e.interest})
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(wctx)

	if len(natives) == 0 {
		fired := make(chan struct{}, 1)
		for _, nt := range notifiers {
			g.Go(func() error {
				if nt.rn.WaitReady(gctx, nt.interest) == nil {
					select {
					case fired <- struct{}{}:
					default:
					}
				}
				return nil
			})
		}
		var expired <-chan time.Time
		if timeout >= 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			expired = t.C
		}
		select {
		case <-fired:
		case <-expired:
		case <-ctx.Done():
		}
		cancel()
		_ = g.Wait()
		return ctx.Err()
	}

	w, err := newWakeup()
	if err != nil {
		return err
	}
	defer w.close()
	for _, nt := range notifiers {
		g.Go(func() error {
			if nt.rn.WaitReady(gctx, nt.interest) == nil {
				w.signal()
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		w.signal()
		return nil
	})
	natives = append(natives, pollEntry{fd: w.r, events: InterestRead})
	_, err = pollOnce(natives, timeout)
	cancel()
	_ = g.Wait()
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	debugf(h.log, "[select] woke natives=%d notifiers=%d err=%v", len(natives)-1, len(notifiers), err)
	return err
}
