/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package reassembly merges multi-chunk payloads keyed by (peer, packet
// id) back into a single buffer, the way the server and client engines'
// per-peer receive loops expect when a frame's chunked bit is set.
package reassembly

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Key identifies one in-flight reassembly.
type Key struct {
	Peer     string
	PacketID uint32
}

type pending struct {
	buf       []byte
	remaining int64
	timer     *time.Timer
}

// Table reassembles chunks under a short critical section; the byte copy
// into the target buffer happens outside the lock because each chunk
// targets a disjoint region by contract (the producer never resends a
// chunk_offset).
type Table struct {
	pool    *bufpool.Pool
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Collector

	mu      sync.Mutex
	entries map[Key]*pending
}

// New returns a Table. ttl of zero disables the expiry timer (the caller
// is then responsible for eventually discarding stranded entries, e.g. on
// peer disconnect via DropPeer).
func New(pool *bufpool.Pool, ttl time.Duration, log logrus.FieldLogger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{
		pool:    pool,
		ttl:     ttl,
		log:     log,
		entries: make(map[Key]*pending),
	}
}

// SetMetrics attaches a collector that drop/expire report to. A nil
// collector (the default) disables reporting.
func (t *Table) SetMetrics(m *metrics.Collector) {
	t.metrics = m
}

// Len reports the number of in-flight reassemblies, for metrics/tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Feed merges one chunk into its reassembly buffer. It returns the
// completed buffer and true once the last chunk for (peer, chunk.PacketID)
// arrives; the table no longer holds an entry for that key afterward.
func (t *Table) Feed(peer string, chunk *wire.ChunkHeader, payload []byte) ([]byte, bool) {
	key := Key{Peer: peer, PacketID: chunk.PacketID}

	t.mu.Lock()
	p, ok := t.entries[key]
	if !ok {
		p = &pending{
			buf:       t.pool.Rent(int(chunk.TotalLength)),
			remaining: int64(chunk.TotalLength),
		}
		t.entries[key] = p
		if t.ttl > 0 {
			p.timer = time.AfterFunc(t.ttl, func() { t.expire(key) })
		}
	} else if t.ttl > 0 && p.timer != nil {
		p.timer.Reset(t.ttl)
	}
	t.mu.Unlock()

	end := int(chunk.ChunkOffset) + len(payload)
	if chunk.ChunkOffset > chunk.TotalLength || end > len(p.buf) {
		t.log.WithFields(logrus.Fields{
			"peer":      peer,
			"packet_id": chunk.PacketID,
		}).Warn("netframe: chunk out of bounds, dropping reassembly")
		t.drop(key, p)
		return nil, false
	}
	copy(p.buf[chunk.ChunkOffset:end], payload)

	if atomic.AddInt64(&p.remaining, -int64(len(payload))) > 0 {
		return nil, false
	}

	t.mu.Lock()
	if cur, ok := t.entries[key]; ok && cur == p {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	return p.buf, true
}

// DropPeer discards every in-flight reassembly belonging to peer, e.g. on
// disconnect. Buffers are returned to the pool.
func (t *Table) DropPeer(peer string) {
	t.mu.Lock()
	var dropped []*pending
	for key, p := range t.entries {
		if key.Peer == peer {
			delete(t.entries, key)
			dropped = append(dropped, p)
		}
	}
	t.mu.Unlock()
	for _, p := range dropped {
		if p.timer != nil {
			p.timer.Stop()
		}
		t.pool.Return(p.buf)
	}
}

func (t *Table) drop(key Key, p *pending) {
	t.mu.Lock()
	if cur, ok := t.entries[key]; ok && cur == p {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	t.pool.Return(p.buf)
	if t.metrics != nil {
		t.metrics.ReassemblyDrop("out_of_bounds")
	}
}

func (t *Table) expire(key Key) {
	t.mu.Lock()
	p, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.pool.Return(p.buf)
	t.log.WithError(wire.ErrReassemblyExpired).WithFields(logrus.Fields{
		"peer":      key.Peer,
		"packet_id": key.PacketID,
	}).Warn("netframe: reassembly expired")
	if t.metrics != nil {
		t.metrics.ReassemblyDrop("ttl")
	}
}
