// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FlockOp is a flock(2) operation: one of LockSH, LockEX or LockUN,
// optionally or'ed with LockNB.
type FlockOp int

const (
	LockSH FlockOp = 1
	LockEX FlockOp = 2
	LockNB FlockOp = 4
	LockUN FlockOp = 8
)

// LockMode is the lock an open file description currently holds.
type LockMode uint8

const (
	LockNone LockMode = iota
	LockShared
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "none"
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return "LockMode(unknown)"
	}
}

func (op FlockOp) mode() (LockMode, bool) {
	switch op &^ LockNB {
	case LockSH:
		return LockShared, true
	case LockEX:
		return LockExclusive, true
	case LockUN:
		return LockNone, true
	default:
		return LockNone, false
	}
}

func (op FlockOp) nonblocking() bool { return op&LockNB != 0 }

// LockTable is the cooperative advisory-lock fallback for handles without
// native flock. Holders are lock tokens; resources are file paths.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	log     logrus.FieldLogger
}

type lockEntry struct {
	exclusive uuid.UUID
	shared    map[uuid.UUID]struct{}
	changed   chan struct{}
}

// NewLockTable returns an empty lock table.
func NewLockTable(log logrus.FieldLogger) *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry), log: log}
}

func (t *LockTable) entry(key string) *lockEntry {
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{shared: make(map[uuid.UUID]struct{}), changed: make(chan struct{})}
		t.entries[key] = e
	}
	return e
}

func (e *lockEntry) grantable(token uuid.UUID, mode LockMode) bool {
	if e.exclusive != uuid.Nil && e.exclusive != token {
		return false
	}
	if mode == LockShared {
		return true
	}
	for holder := range e.shared {
		if holder != token {
			return false
		}
	}
	return true
}

// drop removes token's hold and wakes waiters. The caller holds t.mu.
func (t *LockTable) drop(key string, e *lockEntry, token uuid.UUID) {
	held := e.exclusive == token
	if held {
		e.exclusive = uuid.Nil
	}
	if _, ok := e.shared[token]; ok {
		delete(e.shared, token)
		held = true
	}
	if !held {
		return
	}
	close(e.changed)
	e.changed = make(chan struct{})
	if e.exclusive == uuid.Nil && len(e.shared) == 0 {
		delete(t.entries, key)
	}
}

// acquire takes mode on key for token. A conversion first gives up the
// current hold, as flock(2) does; dropped reports that, so a failed
// conversion leaves token holding nothing. Blocking requests wait until
// granted or ctx is done.
func (t *LockTable) acquire(ctx context.Context, key string, token uuid.UUID, mode LockMode, nonblock bool) (dropped bool, err error) {
	t.mu.Lock()
	e := t.entry(key)
	if e.exclusive == token && mode == LockShared || e.hasShared(token) && mode == LockExclusive {
		t.drop(key, e, token)
		e = t.entry(key)
		dropped = true
	}
	for !e.grantable(token, mode) {
		if nonblock {
			t.dropIfIdle(key, e)
			t.mu.Unlock()
			return dropped, ErrWouldBlock
		}
		ch := e.changed
		t.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			t.mu.Lock()
			if e, ok := t.entries[key]; ok {
				t.dropIfIdle(key, e)
			}
			t.mu.Unlock()
			return dropped, ctx.Err()
		}
		t.mu.Lock()
		e = t.entry(key)
	}
	if mode == LockExclusive {
		e.exclusive = token
	} else {
		e.shared[token] = struct{}{}
	}
	t.mu.Unlock()
	debugf(t.log, "[lock] acquire key=%s token=%s mode=%s", key, token, mode)
	return dropped, nil
}

// dropIfIdle forgets an entry nobody holds. The caller holds t.mu.
func (t *LockTable) dropIfIdle(key string, e *lockEntry) {
	if e.exclusive == uuid.Nil && len(e.shared) == 0 && t.entries[key] == e {
		delete(t.entries, key)
	}
}

func (e *lockEntry) hasShared(token uuid.UUID) bool {
	_, ok := e.shared[token]
	return ok
}

// releaseAll drops every hold token has on key.
func (t *LockTable) releaseAll(key string, token uuid.UUID) {
	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		t.drop(key, e, token)
	}
	t.mu.Unlock()
	debugf(t.log, "[lock] release key=%s token=%s", key, token)
}

// Holders reports the current holders of key.
func (t *LockTable) Holders(key string) (exclusive uuid.UUID, shared int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.exclusive, len(e.shared)
	}
	return uuid.Nil, 0
}
