/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package framer

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/internal/codec"
	"gitlab.com/xerra/common/go-netframe/wire"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	return log
}

func mustEncode(t *testing.T, pool *bufpool.Pool, commandID uint16, payload []byte) []byte {
	t.Helper()
	frame, err := codec.Encode(pool, commandID, 0, nil, payload, wire.CompressionNone, true, wire.TCPPayloadSizeMaxDefault)
	assert.NilError(t, err)
	return frame
}

func TestFramerExtractsSingleFrame(t *testing.T) {
	pool := bufpool.New()
	f := New(pool, 256, wire.TCPPayloadSizeMaxDefault, discardLogger())

	frame := mustEncode(t, pool, 1, []byte("hello"))
	f.Feed(frame)

	decoded, ok := f.Next()
	assert.Assert(t, ok)
	assert.Equal(t, decoded.CommandID, uint16(1))
	assert.Equal(t, string(decoded.Payload), "hello")
}

func TestFramerWaitsForMoreData(t *testing.T) {
	pool := bufpool.New()
	f := New(pool, 256, wire.TCPPayloadSizeMaxDefault, discardLogger())

	frame := mustEncode(t, pool, 1, []byte("hello"))
	f.Feed(frame[:len(frame)-1])

	_, ok := f.Next()
	assert.Assert(t, !ok)

	f.Feed(frame[len(frame)-1:])
	_, ok = f.Next()
	assert.Assert(t, ok)
}

func TestFramerExtractsMultipleFrames(t *testing.T) {
	pool := bufpool.New()
	f := New(pool, 256, wire.TCPPayloadSizeMaxDefault, discardLogger())

	f.Feed(mustEncode(t, pool, 1, []byte("one")))
	f.Feed(mustEncode(t, pool, 2, []byte("two")))

	first, ok := f.Next()
	assert.Assert(t, ok)
	assert.Equal(t, string(first.Payload), "one")

	second, ok := f.Next()
	assert.Assert(t, ok)
	assert.Equal(t, string(second.Payload), "two")

	_, ok = f.Next()
	assert.Assert(t, !ok)
}

func TestFramerResyncsPastGarbage(t *testing.T) {
	pool := bufpool.New()
	f := New(pool, 256, wire.TCPPayloadSizeMaxDefault, discardLogger())

	garbage := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}
	good := mustEncode(t, pool, 5, []byte("recovered"))

	f.Feed(garbage)
	f.Feed(good)

	decoded, ok := f.Next()
	assert.Assert(t, ok)
	assert.Equal(t, decoded.CommandID, uint16(5))
	assert.Equal(t, string(decoded.Payload), "recovered")
	assert.Assert(t, f.Resyncs() >= 1)
}

func TestFramerResyncsOnCorruptedPayloadLength(t *testing.T) {
	pool := bufpool.New()
	f := New(pool, 256, wire.TCPPayloadSizeMaxDefault, discardLogger())

	frame := mustEncode(t, pool, 1, []byte("hello"))
	frame[3] = 0xFF
	frame[4] = 0xFF // payload_length now absurd, frame can never complete

	good := mustEncode(t, pool, 6, []byte("after"))

	f.Feed(frame)
	f.Feed(good)

	decoded, ok := f.Next()
	assert.Assert(t, ok)
	assert.Equal(t, decoded.CommandID, uint16(6))
}

func TestFramerDiscardsFrameWithBadChecksum(t *testing.T) {
	pool := bufpool.New()
	f := New(pool, 256, wire.TCPPayloadSizeMaxDefault, discardLogger())

	bad := mustEncode(t, pool, 1, []byte("bad"))
	bad[5] ^= 0xFF // corrupt checksum, sentinel position is unaffected

	good := mustEncode(t, pool, 2, []byte("good"))

	f.Feed(bad)
	f.Feed(good)

	decoded, ok := f.Next()
	assert.Assert(t, ok)
	assert.Equal(t, decoded.CommandID, uint16(2))
}
