// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"runtime"
)

// Op identifies which retry loop observed a would-block result.
type Op uint8

const (
	OpFill Op = iota
	OpFlush
	OpWrite
	OpLock
	OpCopyRead
	OpCopyWrite
)

func (op Op) String() string {
	switch op {
	case OpFill:
		return "Fill"
	case OpFlush:
		return "Flush"
	case OpWrite:
		return "Write"
	case OpLock:
		return "Lock"
	case OpCopyRead:
		return "CopyRead"
	case OpCopyWrite:
		return "CopyWrite"
	default:
		return "Op(unknown)"
	}
}

func (op Op) isWrite() bool { return op == OpFlush || op == OpWrite || op == OpCopyWrite }

// PolicyAction tells a retry loop whether to return to the caller or wait
// and try again.
type PolicyAction uint8

const (
	// PolicyReturn means: return ErrWouldBlock to the caller.
	PolicyReturn PolicyAction = iota

	// PolicyRetry means: wait for readiness, then retry.
	PolicyRetry
)

// SemanticPolicy decides how a File reacts to ErrWouldBlock.
//
// Contract expectations:
//   - OnWouldBlock is only called for would-block results.
//   - On PolicyRetry the File waits for readiness when the handle can be
//     polled, and calls Yield otherwise, before retrying.
//   - Yield must honor ctx; a non-nil error aborts the operation.
type SemanticPolicy interface {
	Yield(ctx context.Context, op Op) error
	OnWouldBlock(op Op) PolicyAction
}

// PolicyFunc adapts functions to a SemanticPolicy.
//
// Default behaviors when fields are nil:
//   - YieldFunc: runtime.Gosched(), then ctx.Err()
//   - WouldBlockFunc: PolicyReturn
type PolicyFunc struct {
	YieldFunc      func(ctx context.Context, op Op) error
	WouldBlockFunc func(op Op) PolicyAction
}

func (p PolicyFunc) Yield(ctx context.Context, op Op) error {
	if p.YieldFunc != nil {
		return p.YieldFunc(ctx, op)
	}
	runtime.Gosched()
	return ctx.Err()
}

func (p PolicyFunc) OnWouldBlock(op Op) PolicyAction {
	if p.WouldBlockFunc != nil {
		return p.WouldBlockFunc(op)
	}
	return PolicyReturn
}

// ReturnPolicy never waits. It is the policy of a File in non-blocking mode.
type ReturnPolicy struct{}

func (ReturnPolicy) Yield(ctx context.Context, _ Op) error { return ctx.Err() }

func (ReturnPolicy) OnWouldBlock(Op) PolicyAction { return PolicyReturn }

// BlockingPolicy retries every would-block result. Without a readiness
// source it sleeps on a Backoff between attempts.
type BlockingPolicy struct {
	Backoff *Backoff
}

func (p BlockingPolicy) Yield(ctx context.Context, _ Op) error {
	if p.Backoff == nil {
		runtime.Gosched()
		return ctx.Err()
	}
	return p.Backoff.Wait(ctx)
}

func (BlockingPolicy) OnWouldBlock(Op) PolicyAction { return PolicyRetry }

// YieldOnWriteWouldBlockPolicy retries only write-side would-block results.
// Reads return ErrWouldBlock to the caller.
//
// Useful when reads are driven by an event loop but buffered output should
// drain before returning.
type YieldOnWriteWouldBlockPolicy struct {
	Backoff *Backoff
}

func (p YieldOnWriteWouldBlockPolicy) Yield(ctx context.Context, op Op) error {
	return BlockingPolicy(p).Yield(ctx, op)
}

func (YieldOnWriteWouldBlockPolicy) OnWouldBlock(op Op) PolicyAction {
	if op.isWrite() {
		return PolicyRetry
	}
	return PolicyReturn
}
