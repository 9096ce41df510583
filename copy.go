// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"context"
	"io"
)

// copyBuf is the stack buffer CopyStream stages through.
type copyBuf [32 * 1024]byte

// CopyStream copies raw bytes from src to dst until src ends or n bytes
// were copied; n < 0 copies everything. It returns the number of bytes
// written to dst.
//
// Pollable ends are driven without blocking and policy decides what a
// would-block result means:
//   - PolicyRetry: wait for readiness of that end, then continue.
//   - PolicyReturn: return the would-block error with the count so far.
//
// A nil policy is BlockingPolicy. When the copy stops in the middle of a
// chunk, the bytes read but not written are pushed back into src, so a
// later call resumes without data loss.
func CopyStream(ctx context.Context, dst, src *File, n int64, policy SemanticPolicy) (written int64, err error) {
	if n == 0 {
		return 0, nil
	}
	if policy == nil {
		policy = BlockingPolicy{}
	}
	srcPoll, err := src.pollable()
	if err != nil {
		return 0, err
	}
	dstPoll, err := dst.pollable()
	if err != nil {
		return 0, err
	}

	var local copyBuf
	for n < 0 || written < n {
		chunk := local[:]
		if n >= 0 && int64(len(chunk)) > n-written {
			chunk = chunk[:n-written]
		}
		var (
			nr int
			er error
		)
		if srcPoll {
			nr, er = src.ReadNonblock(chunk)
		} else {
			nr, er = src.ReadPartial(ctx, chunk)
		}
		if er != nil {
			if er == io.EOF {
				break
			}
			if IsWouldBlock(er) && policy.OnWouldBlock(OpCopyRead) == PolicyRetry {
				if _, err := src.Wait(ctx, InterestRead, Forever); err != nil {
					return written, err
				}
				continue
			}
			return written, er
		}

		off := 0
		for off < nr {
			var (
				nw int
				ew error
			)
			if dstPoll {
				nw, ew = dst.WriteNonblock(chunk[off:nr])
			} else {
				nw, ew = dst.write(ctx, chunk[off:nr], Binary, false)
			}
			off += nw
			written += int64(nw)
			if ew == nil {
				continue
			}
			if IsWouldBlock(ew) && policy.OnWouldBlock(OpCopyWrite) == PolicyRetry {
				_, werr := dst.Wait(ctx, InterestWrite, Forever)
				if werr == nil {
					continue
				}
				ew = werr
			}
			if off < nr {
				if err := src.UngetByte(ctx, chunk[off:nr]); err != nil {
					return written, err
				}
			}
			return written, ew
		}
	}
	return written, dst.Flush(ctx)
}

func (f *File) pollable() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.state()
	if err != nil {
		return false, err
	}
	return st.kind.Selectable(), nil
}
