/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package framer extracts complete frames from a single peer's TCP byte
// stream, resynchronizing after corruption. One Framer serves exactly one
// peer and is not safe for concurrent use; the receive loop that owns the
// peer's socket is expected to serialize Feed/Next calls the same way it
// serializes access to the underlying ring.Buffer.
package framer

import (
	"github.com/sirupsen/logrus"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/internal/codec"
	"gitlab.com/xerra/common/go-netframe/internal/ring"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Framer turns bytes appended via Feed into decoded frames returned by
// Next, resyncing on the ring's sentinel byte whenever a header fails to
// validate.
type Framer struct {
	ring       *ring.Buffer
	pool       *bufpool.Pool
	maxPayload int
	log        logrus.FieldLogger

	resyncs int64
}

// New returns a Framer with a ring buffer of at least capHint bytes.
func New(pool *bufpool.Pool, capHint, maxPayload int, log logrus.FieldLogger) *Framer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Framer{
		ring:       ring.New(capHint),
		pool:       pool,
		maxPayload: maxPayload,
		log:        log,
	}
}

// Feed appends data to the internal ring buffer, returning the number of
// bytes actually accepted (fewer than len(data) if the ring saturates; the
// caller is responsible for retrying the remainder once Next has drained
// enough completed frames).
func (f *Framer) Feed(data []byte) int {
	return f.ring.Write(data)
}

// Resyncs reports how many times this framer has discarded bytes looking
// for the next sentinel, for metrics.
func (f *Framer) Resyncs() int64 { return f.resyncs }

// Next extracts the next complete, checksum-valid frame from the ring.
// It returns ok=false when more bytes are needed; it never returns a
// FramingError or DecodeError to the caller — both are logged and the
// framer resynchronizes internally, per the engine's silent local
// recovery policy.
func (f *Framer) Next() (*codec.Decoded, bool) {
	for {
		if f.ring.Len() < wire.HeaderSizeTCP {
			return nil, false
		}
		hdr, err := f.ring.PeekHeader(0)
		if err != nil {
			return nil, false
		}
		extra := codec.HeaderExtraSize(hdr.HeaderByte)
		frameLen := wire.HeaderSizeTCP + extra + int(hdr.PayloadLength)

		if frameLen+1 > f.ring.Cap() {
			f.log.WithField("payload_length", hdr.PayloadLength).Debug("netframe: frame exceeds ring capacity, resyncing")
			if !f.resync() {
				return nil, false
			}
			continue
		}
		if f.ring.Len() < frameLen+1 {
			return nil, false
		}

		sentinel, err := f.ring.PeekByte(frameLen)
		if err != nil || sentinel != wire.Sentinel {
			f.log.Debug("netframe: missing frame sentinel, resyncing")
			if !f.resync() {
				return nil, false
			}
			continue
		}

		raw := f.pool.Rent(frameLen)
		if err := f.ring.Read(raw, frameLen, 0); err != nil {
			f.pool.Return(raw)
			return nil, false
		}
		f.ring.Skip(1) // sentinel

		decoded, err := codec.Decode(f.pool, raw, f.maxPayload)
		f.pool.Return(raw)
		if err != nil {
			f.log.WithError(err).Debug("netframe: frame decode failed, discarding")
			continue
		}
		return decoded, true
	}
}

// resync advances past the current (malformed) header looking for the next
// sentinel. It returns false if no sentinel was found in the buffered
// bytes, in which case the caller should wait for more data.
func (f *Framer) resync() bool {
	f.resyncs++
	return f.ring.SkipUntil(wire.HeaderSizeTCP, wire.Sentinel)
}
