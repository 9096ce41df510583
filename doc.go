// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package posixio is a buffered, POSIX-flavoured file core: a File
// multiplexes a reference-counted Descriptor over an OS descriptor or an
// emulated handle (afero files, in-memory pipes), keeps separate read,
// write and character buffers, and converts between character encodings
// on the way in and out.
//
// Result semantics
//   - ErrWouldBlock: the handle cannot make progress now. Files in
//     blocking mode wait for readiness and retry; nonblocking Files return
//     it. A SemanticPolicy overrides the choice per operation.
//   - io.EOF: end of input, only ever reported when nothing was read.
//   - Every other failure classifies into one Kind (KindOf), and native
//     errno values map onto the same kinds.
//
// Line reading: ParseGetlineArgs normalizes the
// separator/limit/chomp arguments and File.Getline splits on them,
// including paragraph mode and limits that never cut a character in half.
//
// Host.Select waits on a mix of OS descriptors and emulated handles; the
// emulated ones report readiness through ReadinessNotifier.
package posixio
