/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

// Buffer is an owned byte region [base, base+cap) with a payload sub-range
// [data, data+len). pullHead/pushHead move the left edge of the payload
// without copying, to make room for (or strip) framing and AEAD headers.
type Buffer struct {
	base []byte
	data int
	len  int
}

// NewBuffer allocates a buffer with len bytes of payload, headSpace bytes of
// slack before it and tailSpace bytes of slack after it.
func NewBuffer(payloadLen, headSpace, tailSpace int) *Buffer {
	if payloadLen < 0 || headSpace < 0 || tailSpace < 0 {
		bug("negative buffer size")
	}
	return &Buffer{
		base: make([]byte, headSpace+payloadLen+tailSpace),
		data: headSpace,
		len:  payloadLen,
	}
}

// NewBufferFromBytes copies b into a freshly allocated buffer with the given
// head/tail slack.
func NewBufferFromBytes(b []byte, headSpace, tailSpace int) *Buffer {
	buf := NewBuffer(len(b), headSpace, tailSpace)
	copy(buf.Bytes(), b)
	return buf
}

// Cap returns the total capacity of the underlying region.
func (b *Buffer) Cap() int { return len(b.base) }

// Len returns the current payload length.
func (b *Buffer) Len() int { return b.len }

// HeadRoom returns the number of bytes available before data.
func (b *Buffer) HeadRoom() int { return b.data }

// TailRoom returns the number of bytes available after data+len.
func (b *Buffer) TailRoom() int { return len(b.base) - b.data - b.len }

// Bytes returns the current payload slice. The returned slice aliases the
// buffer's backing array and is invalidated by the next pull/push call.
func (b *Buffer) Bytes() []byte {
	return b.base[b.data : b.data+b.len]
}

func (b *Buffer) checkInvariant() {
	if b.data < 0 || b.data+b.len > len(b.base) || b.len < 0 {
		bug("buffer invariant violated")
	}
}

// PullHead widens data leftward by n bytes, exposing previously-slack bytes
// as payload. Aborts on underflow (not enough head room).
func (b *Buffer) PullHead(n int) {
	if n < 0 {
		bug("negative pull_head")
	}
	if b.data < n {
		bug("buffer_pull_head: underflow")
	}
	b.data -= n
	b.len += n
	b.checkInvariant()
}

// PullHeadFrom is PullHead followed by copying src into the newly exposed
// region. len(src) must equal n.
func (b *Buffer) PullHeadFrom(src []byte) {
	n := len(src)
	b.PullHead(n)
	copy(b.base[b.data:b.data+n], src)
}

// PushHead narrows data rightward by n bytes, stripping n bytes of payload
// from the front. Aborts on overflow (n exceeds current length).
func (b *Buffer) PushHead(n int) {
	if n < 0 {
		bug("negative push_head")
	}
	if b.len < n {
		bug("buffer_push_head: overflow")
	}
	b.data += n
	b.len -= n
	b.checkInvariant()
}

// PushHeadTo is PushHead that copies the stripped n bytes into dst before
// discarding them. len(dst) must equal n.
func (b *Buffer) PushHeadTo(dst []byte) {
	n := len(dst)
	copy(dst, b.base[b.data:b.data+n])
	b.PushHead(n)
}

// GrowTail widens the payload rightward into tail slack by n bytes, for
// methods that append a trailing AEAD tag in place (spec §4.6: "any MAC tag
// is placed in tail_space"). Aborts if tail room is insufficient.
func (b *Buffer) GrowTail(n int) {
	if n < 0 {
		bug("negative grow_tail")
	}
	if b.TailRoom() < n {
		bug("buffer_grow_tail: overflow")
	}
	b.len += n
	b.checkInvariant()
}

// ShrinkTail narrows the payload by n bytes from the end, returning the
// trailing bytes to tail slack.
func (b *Buffer) ShrinkTail(n int) {
	if n < 0 {
		bug("negative shrink_tail")
	}
	if b.len < n {
		bug("buffer_shrink_tail: underflow")
	}
	b.len -= n
	b.checkInvariant()
}
