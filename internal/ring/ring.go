/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package ring implements the fixed-capacity circular byte buffer each
// per-peer receive loop uses to accumulate bytes between frame boundaries.
// A Buffer is single-producer/single-consumer: the enclosing receive loop
// serializes access, so no internal locking is performed.
package ring

import (
	"encoding/binary"
	"errors"

	"gitlab.com/xerra/common/go-netframe/wire"
)

// ErrShortBuffer is returned by Peek/Read/PeekHeader when fewer than the
// requested bytes are available past skip.
var ErrShortBuffer = errors.New("ring: not enough buffered bytes")

// Buffer is a power-of-two capacity ring of bytes.
type Buffer struct {
	data  []byte
	mask  int
	head  int // next byte to be read
	count int // bytes currently buffered
}

// New returns a Buffer whose capacity is the next power of two >= capHint,
// with a floor of 128 bytes.
func New(capHint int) *Buffer {
	cap := 128
	for cap < capHint {
		cap <<= 1
	}
	return &Buffer{data: make([]byte, cap), mask: cap - 1}
}

// Cap returns the actual (power-of-two) capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.count }

// Free returns how many more bytes can be written before the buffer
// saturates.
func (b *Buffer) Free() int { return len(b.data) - b.count }

// Write copies up to len(src) bytes into the ring, never exceeding the
// available free space; the caller must retry any undelivered remainder
// once the peer has drained more bytes. It returns the number of bytes
// actually written.
func (b *Buffer) Write(src []byte) int {
	n := len(src)
	if free := b.Free(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	tail := (b.head + b.count) & b.mask
	first := len(b.data) - tail
	if first > n {
		first = n
	}
	copy(b.data[tail:tail+first], src[:first])
	if rem := n - first; rem > 0 {
		copy(b.data[0:rem], src[first:n])
	}
	b.count += n
	return n
}

// Peek copies n bytes starting skip bytes past the head into dst, without
// advancing the head. It fails if fewer than skip+n bytes are buffered.
func (b *Buffer) Peek(dst []byte, n, skip int) error {
	if b.count < skip+n {
		return ErrShortBuffer
	}
	start := (b.head + skip) & b.mask
	first := len(b.data) - start
	if first > n {
		first = n
	}
	copy(dst[:first], b.data[start:start+first])
	if rem := n - first; rem > 0 {
		copy(dst[first:n], b.data[0:rem])
	}
	return nil
}

// PeekByte returns the single byte skip bytes past the head.
func (b *Buffer) PeekByte(skip int) (byte, error) {
	if b.count < skip+1 {
		return 0, ErrShortBuffer
	}
	return b.data[(b.head+skip)&b.mask], nil
}

// Read is Peek followed by advancing the head past skip+n bytes.
func (b *Buffer) Read(dst []byte, n, skip int) error {
	if err := b.Peek(dst, n, skip); err != nil {
		return err
	}
	b.head = (b.head + skip + n) & b.mask
	b.count -= skip + n
	return nil
}

// Skip advances the head by n bytes without copying anything out. It is
// the caller's responsibility to ensure n <= Len().
func (b *Buffer) Skip(n int) {
	b.head = (b.head + n) & b.mask
	b.count -= n
}

// PeekHeader does a structured peek of the fixed 7-byte TCP header at
// offset skip, little-endian.
func (b *Buffer) PeekHeader(skip int) (wire.Header, error) {
	var raw [wire.HeaderSizeTCP]byte
	if err := b.Peek(raw[:], wire.HeaderSizeTCP, skip); err != nil {
		return wire.Header{}, err
	}
	return wire.Header{
		HeaderByte:    wire.HeaderByte(raw[0]),
		CommandID:     binary.LittleEndian.Uint16(raw[1:3]),
		PayloadLength: binary.LittleEndian.Uint16(raw[3:5]),
		Checksum:      binary.LittleEndian.Uint16(raw[5:7]),
	}, nil
}

// SkipUntil advances the head to the byte immediately after the next
// occurrence of sentinel at or after skip bytes past the head. It reports
// whether the sentinel was found; if not, the head is left unchanged.
func (b *Buffer) SkipUntil(skip int, sentinel byte) bool {
	for i := skip; i < b.count; i++ {
		v, err := b.PeekByte(i)
		if err != nil {
			return false
		}
		if v == sentinel {
			b.Skip(i + 1)
			return true
		}
	}
	return false
}
