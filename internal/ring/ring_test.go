/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package ring

import (
	"encoding/binary"
	"testing"

	"gotest.tools/v3/assert"

	"gitlab.com/xerra/common/go-netframe/wire"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	b := New(100)
	assert.Equal(t, b.Cap(), 128)

	b = New(200)
	assert.Equal(t, b.Cap(), 256)
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(16)
	n := b.Write([]byte("hello"))
	assert.Equal(t, n, 5)
	assert.Equal(t, b.Len(), 5)

	dst := make([]byte, 5)
	err := b.Read(dst, 5, 0)
	assert.NilError(t, err)
	assert.Equal(t, string(dst), "hello")
	assert.Equal(t, b.Len(), 0)
}

func TestWriteWraparound(t *testing.T) {
	b := New(8) // rounds up to the 128-byte floor
	// Park the head two bytes short of the end so the next write wraps.
	b.Write(make([]byte, 126))
	b.Skip(126)
	b.Write([]byte("123456"))
	dst := make([]byte, 4)
	assert.NilError(t, b.Read(dst, 4, 0))
	assert.Equal(t, string(dst), "1234")

	n := b.Write([]byte("abcd"))
	assert.Equal(t, n, 4)
	assert.Equal(t, b.Len(), 6)

	rest := make([]byte, 6)
	assert.NilError(t, b.Read(rest, 6, 0))
	assert.Equal(t, string(rest), "56abcd")
}

func TestWriteTruncatesAtFreeSpace(t *testing.T) {
	b := New(8) // rounds up to the 128-byte floor
	n := b.Write(make([]byte, 130))
	assert.Equal(t, n, 128)
	assert.Equal(t, b.Free(), 0)
}

func TestPeekDoesNotAdvance(t *testing.T) {
	b := New(16)
	b.Write([]byte("abc"))
	dst := make([]byte, 3)
	assert.NilError(t, b.Peek(dst, 3, 0))
	assert.Equal(t, b.Len(), 3)
}

func TestPeekShortBuffer(t *testing.T) {
	b := New(16)
	b.Write([]byte("ab"))
	err := b.Peek(make([]byte, 3), 3, 0)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestSkipUntilFindsSentinel(t *testing.T) {
	b := New(16)
	b.Write([]byte{1, 2, 3, 0, 9})
	ok := b.SkipUntil(0, 0)
	assert.Assert(t, ok)
	assert.Equal(t, b.Len(), 1)
	v, err := b.PeekByte(0)
	assert.NilError(t, err)
	assert.Equal(t, v, byte(9))
}

func TestSkipUntilNoSentinelLeavesHeadUnchanged(t *testing.T) {
	b := New(16)
	b.Write([]byte{1, 2, 3})
	ok := b.SkipUntil(0, 0)
	assert.Assert(t, !ok)
	assert.Equal(t, b.Len(), 3)
}

func TestPeekHeaderParsesLittleEndianFields(t *testing.T) {
	b := New(16)
	raw := make([]byte, wire.HeaderSizeTCP)
	raw[0] = 0x42
	binary.LittleEndian.PutUint16(raw[1:3], 7)
	binary.LittleEndian.PutUint16(raw[3:5], 99)
	binary.LittleEndian.PutUint16(raw[5:7], 1234)
	b.Write(raw)

	hdr, err := b.PeekHeader(0)
	assert.NilError(t, err)
	assert.Equal(t, hdr.HeaderByte, wire.HeaderByte(0x42))
	assert.Equal(t, hdr.CommandID, uint16(7))
	assert.Equal(t, hdr.PayloadLength, uint16(99))
	assert.Equal(t, hdr.Checksum, uint16(1234))
}
