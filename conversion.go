// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"bytes"
	"errors"
	"slices"

	"golang.org/x/text/transform"
)

// ConvFlags are the decorator and error-handling options of a converter.
type ConvFlags uint16

const (
	// ConvUniversalNewline turns "\r\n" and lone "\r" into "\n" on read.
	ConvUniversalNewline ConvFlags = 1 << iota
	// ConvCRLFNewline turns "\n" into "\r\n" on write.
	ConvCRLFNewline
	// ConvCRNewline turns "\n" into "\r" on write.
	ConvCRNewline
	// ConvInvalidReplace substitutes U+FFFD for invalid input instead of failing.
	ConvInvalidReplace
	// ConvUndefReplace substitutes the target's replacement for unmappable characters.
	ConvUndefReplace
)

const (
	convDecoratorMask   = ConvUniversalNewline | ConvCRLFNewline | ConvCRNewline
	convWriteDecorators = ConvCRLFNewline | ConvCRNewline
)

// Results of moreChar.
const (
	moreCharSuspended = 0
	moreCharFinished  = 1
)

// converter is a streaming transcoder: an optional decode stage into UTF-8,
// an optional newline decorator, and an optional encode stage out of UTF-8.
// It keeps partial sequences between calls, so one instance must serve a
// whole read or write session.
type converter struct {
	src, dst *Encoding

	stages  []transform.Transformer
	kinds   []stageKind
	carry   [][]byte
	newline *universalNewline

	out      []byte // converted, not yet delivered
	head     []byte // incomplete source tail held by push
	consumed int64  // source bytes accepted
	finished bool

	// window is how much delivered output the caller may still hold
	// unconsumed; dropped "\r" marks older than that are forgotten.
	window int64
}

const maxDroppedMarks = 1024

type stageKind uint8

const (
	stageDecode stageKind = iota
	stageNewline
	stageEncode
)

// newConverter builds the pipeline converting src to dst. Either may be nil
// (or Binary) when only decoration is wanted; the bytes are then treated as
// ASCII-compatible as long as the other side is.
func newConverter(src, dst *Encoding, flags ConvFlags) *converter {
	c := &converter{src: src, dst: dst}
	transcode := src != nil && dst != nil && !src.IsBinary() && !dst.IsBinary() && src != dst
	decorate := flags&convDecoratorMask != 0
	// Decorators work on ASCII-compatible bytes; route non-compatible text
	// through UTF-8 even when no transcoding is asked for.
	viaUTF8 := transcode || (decorate && (!src.IsASCIICompatible() || !dst.IsASCIICompatible()))
	if viaUTF8 && src != nil && !src.IsBinary() {
		switch {
		case src.kind != encUTF8:
			c.add(stageDecode, src.decoder())
		case transcode:
			c.add(stageDecode, &utf8Validator{})
		}
	}
	if decorate {
		switch {
		case flags&ConvUniversalNewline != 0:
			c.newline = &universalNewline{}
			c.add(stageNewline, c.newline)
		case flags&ConvCRLFNewline != 0:
			c.add(stageNewline, &newlineEncoder{seq: []byte("\r\n")})
		case flags&ConvCRNewline != 0:
			c.add(stageNewline, &newlineEncoder{seq: []byte("\r")})
		}
	}
	if viaUTF8 && dst != nil && !dst.IsBinary() && dst.kind != encUTF8 {
		c.add(stageEncode, dst.encoder(flags&ConvUndefReplace != 0))
	}
	if flags&ConvInvalidReplace != 0 {
		for i, t := range c.stages {
			if c.kinds[i] == stageDecode {
				c.stages[i] = &replacingDecoder{t: t, unit: src.MinLen()}
			}
		}
	}
	return c
}

func (c *converter) add(k stageKind, t transform.Transformer) {
	c.stages = append(c.stages, t)
	c.kinds = append(c.kinds, k)
	c.carry = append(c.carry, nil)
}

// isIdentity reports whether the pipeline would copy bytes through untouched.
func (c *converter) isIdentity() bool { return len(c.stages) == 0 }

// feed pushes src through the pipeline. Bytes of an incomplete trailing
// sequence are left unconsumed unless atEOF. The return value counts bytes
// of src the converter has taken ownership of.
func (c *converter) feed(src []byte, atEOF bool) (int, error) {
	if len(c.stages) == 0 {
		c.out = append(c.out, src...)
		c.consumed += int64(len(src))
		return len(src), nil
	}
	data := src
	taken := 0
	for i, t := range c.stages {
		in := data
		if i > 0 && len(c.carry[i]) > 0 {
			in = append(c.carry[i], data...)
			c.carry[i] = nil
		}
		out, n, err := transformAll(t, in, atEOF)
		if i == 0 {
			taken = n
			c.consumed += int64(n)
		} else if n < len(in) {
			c.carry[i] = append([]byte(nil), in[n:]...)
		}
		if err != nil {
			return taken, c.conversionError(err, i, in[n:])
		}
		data = out
	}
	c.out = append(c.out, data...)
	if atEOF {
		c.finished = true
	}
	if c.newline != nil && len(c.newline.dropped) > maxDroppedMarks {
		c.newline.droppedSince(c.newline.outPos - int64(len(c.out)) - c.window)
	}
	return taken, nil
}

// push feeds src like feed, but keeps an incomplete trailing sequence
// for the next call instead of handing it back. Writers use it; readers
// keep unconsumed bytes in their own buffer.
func (c *converter) push(src []byte) error {
	in := src
	if len(c.head) > 0 {
		in = append(c.head, src...)
		c.head = nil
	}
	n, err := c.feed(in, false)
	if err == nil && n < len(in) {
		c.head = append([]byte(nil), in[n:]...)
	}
	return err
}

// finish flushes stage state, and any tail held by push, at end of input.
func (c *converter) finish() error {
	if c.finished {
		return nil
	}
	head := c.head
	c.head = nil
	_, err := c.feed(head, true)
	return err
}

// drain moves up to len(dst) converted bytes into dst.
func (c *converter) drain(dst []byte) int {
	n := copy(dst, c.out)
	c.out = c.out[:copy(c.out, c.out[n:])]
	return n
}

func (c *converter) pendingOutput() int { return len(c.out) }

// convertAll is a one-shot conversion of a complete string.
func convertAll(src, dst *Encoding, flags ConvFlags, p []byte) ([]byte, error) {
	c := newConverter(src, dst, flags)
	if c.isIdentity() {
		return p, nil
	}
	if _, err := c.feed(p, true); err != nil {
		return nil, err
	}
	return c.out, nil
}

// rawLength estimates how many source bytes produced pending, where
// pending is converter output not yet handed to the caller followed by
// this converter's internal backlog. It re-encodes UTF-8 text back into
// the source encoding and adds one source newline unit for every "\r"
// the universal newline stage dropped inside that region.
func (c *converter) rawLength(pending []byte) (int64, error) {
	utf := pending
	if c.hasStage(stageEncode) {
		var err error
		if utf, err = c.dst.decodeToUTF8(pending); err != nil {
			return 0, err
		}
	}
	var backlog []byte
	for i, k := range c.kinds {
		if k != stageDecode {
			backlog = append(backlog, c.carry[i]...)
		}
	}
	total := append(append([]byte(nil), utf...), backlog...)
	var dropped int
	if c.newline != nil {
		// Positions are in newline-stage output coordinates; the backlog of
		// the newline stage itself precedes its output window.
		nlBacklog := 0
		for i, k := range c.kinds {
			if k == stageNewline {
				nlBacklog = len(c.carry[i])
			}
		}
		dropped = c.newline.droppedSince(c.newline.outPos - int64(len(total)-nlBacklog))
	}
	raw := int64(len(total))
	cr := int64(1)
	if c.hasStage(stageDecode) {
		enc, err := c.src.EncodeString(string(total))
		if err != nil {
			return 0, err
		}
		raw = int64(len(enc))
		if b, err := c.src.EncodeString("\r"); err == nil {
			cr = int64(len(b))
		}
	}
	return raw + int64(dropped)*cr, nil
}

func (c *converter) hasStage(k stageKind) bool {
	return slices.Contains(c.kinds, k)
}

// reset drops all buffered state after the caller has repositioned the
// source.
func (c *converter) reset() {
	for i, t := range c.stages {
		t.Reset()
		c.carry[i] = nil
	}
	c.out = c.out[:0]
	c.head = nil
	c.finished = false
	if c.newline != nil {
		c.newline.dropped = c.newline.dropped[:0]
	}
}

func (c *converter) conversionError(err error, stage int, rest []byte) error {
	ce := &ConversionError{Source: c.src.Name(), Target: c.dst.Name(), Offset: c.consumed}
	if ce.Source == "" {
		ce.Source = Binary.Name()
	}
	if ce.Target == "" {
		ce.Target = ce.Source
	}
	var ise *invalidSequenceError
	switch {
	case errors.As(err, &ise):
		ce.Reason = ise.reason
		ce.Bytes = ise.bytes
	case errors.Is(err, errIncompleteInput):
		ce.Reason = IncompleteInput
		ce.Bytes = clipBytes(rest, 4)
	case c.kinds[stage] == stageEncode:
		ce.Reason = UndefinedConversion
		ce.Bytes = clipBytes(rest, 4)
	default:
		ce.Reason = InvalidByteSequence
		ce.Bytes = clipBytes(rest, 4)
	}
	return ce
}

var errIncompleteInput = errors.New("incomplete input")

// transformAll runs t over src growing the output as needed.
func transformAll(t transform.Transformer, src []byte, atEOF bool) ([]byte, int, error) {
	out := make([]byte, 0, len(src)+len(src)/2+16)
	n := 0
	for {
		nDst, nSrc, err := t.Transform(out[len(out):cap(out)], src[n:], atEOF)
		out = out[:len(out)+nDst]
		n += nSrc
		switch {
		case err == nil:
			return out, n, nil
		case errors.Is(err, transform.ErrShortDst):
			out = slices.Grow(out, cap(out)+16)
		case errors.Is(err, transform.ErrShortSrc):
			if atEOF {
				return out, n, errIncompleteInput
			}
			return out, n, nil
		default:
			return out, n, err
		}
	}
}

// universalNewline rewrites "\r\n" and "\r" to "\n", remembering where in
// its output a "\r" was dropped so unread can restore the source length.
type universalNewline struct {
	outPos  int64
	dropped []int64
}

func (u *universalNewline) Reset() {}

func (u *universalNewline) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	defer func() { u.outPos += int64(nDst) }()
	for nSrc < len(src) {
		b := src[nSrc]
		if b != '\r' {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = b
			nDst++
			nSrc++
			continue
		}
		if nSrc+1 == len(src) && !atEOF {
			return nDst, nSrc, transform.ErrShortSrc
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = '\n'
		if nSrc+1 < len(src) && src[nSrc+1] == '\n' {
			u.dropped = append(u.dropped, u.outPos+int64(nDst))
			nSrc += 2
		} else {
			nSrc++
		}
		nDst++
	}
	return nDst, nSrc, nil
}

// droppedSince counts dropped carriage returns at or after output offset
// pos and forgets older ones.
func (u *universalNewline) droppedSince(pos int64) int {
	i, _ := slices.BinarySearch(u.dropped, pos)
	u.dropped = u.dropped[:copy(u.dropped, u.dropped[i:])]
	return len(u.dropped)
}

// newlineEncoder replaces "\n" with seq.
type newlineEncoder struct {
	transform.NopResetter
	seq []byte
}

func (e *newlineEncoder) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		i := bytes.IndexByte(src[nSrc:], '\n')
		run := src[nSrc:]
		if i >= 0 {
			run = run[:i]
		}
		if nDst+len(run) > len(dst) {
			k := copy(dst[nDst:], run)
			return nDst + k, nSrc + k, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], run)
		nSrc += len(run)
		if i < 0 {
			break
		}
		if nDst+len(e.seq) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], e.seq)
		nSrc++
	}
	return nDst, nSrc, nil
}

// replacingDecoder substitutes U+FFFD for what a strict decode stage
// rejects, skipping one code unit of bad input at a time.
type replacingDecoder struct {
	t    transform.Transformer
	unit int
}

func (r *replacingDecoder) Reset() { r.t.Reset() }

func (r *replacingDecoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for {
		d, s, err := r.t.Transform(dst[nDst:], src[nSrc:], atEOF)
		nDst += d
		nSrc += s
		var ise *invalidSequenceError
		if !errors.As(err, &ise) {
			return nDst, nSrc, err
		}
		if nDst+len(replacementChar) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], replacementChar)
		skip := min(max(r.unit, 1), len(src)-nSrc)
		if ise.reason == IncompleteInput {
			skip = len(src) - nSrc
		}
		nSrc += skip
	}
}
