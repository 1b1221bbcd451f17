/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package reassembly

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
	"gitlab.com/xerra/common/go-netframe/wire"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	return log
}

func TestFeedReassemblesTwoChunks(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 0, discardLogger())

	_, complete := table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 0, TotalLength: 10}, []byte("hello"))
	assert.Assert(t, !complete)
	assert.Equal(t, table.Len(), 1)

	buf, complete := table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 5, TotalLength: 10}, []byte("world"))
	assert.Assert(t, complete)
	assert.Equal(t, string(buf), "helloworld")
	assert.Equal(t, table.Len(), 0)
}

func TestFeedIsolatesDifferentPeers(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 0, discardLogger())

	table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 0, TotalLength: 4}, []byte("ab"))
	table.Feed("peer2", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 0, TotalLength: 4}, []byte("xy"))
	assert.Equal(t, table.Len(), 2)
}

func TestFeedOutOfBoundsChunkDrops(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 0, discardLogger())

	_, complete := table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 8, TotalLength: 10}, []byte("toolongforthis"))
	assert.Assert(t, !complete)
	assert.Equal(t, table.Len(), 0)
}

func TestDropPeerDiscardsInFlightEntries(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 0, discardLogger())

	table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 0, TotalLength: 10}, []byte("partial"))
	assert.Equal(t, table.Len(), 1)

	table.DropPeer("peer1")
	assert.Equal(t, table.Len(), 0)
}

func TestTTLExpiresStrandedEntry(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 10*time.Millisecond, discardLogger())

	table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 0, TotalLength: 10}, []byte("partial"))
	assert.Equal(t, table.Len(), 1)

	assert.Assert(t, pollUntil(func() bool { return table.Len() == 0 }, 500*time.Millisecond))
}

func TestOutOfBoundsChunkReportsReassemblyDrop(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 0, discardLogger())
	collector := metrics.New("test_oob")
	table.SetMetrics(collector)

	table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 8, TotalLength: 10}, []byte("toolongforthis"))
	assert.Equal(t, testutil.CollectAndCount(collector, "test_oob_reassembly_drops_total"), 1)
}

func TestTTLExpiryReportsReassemblyDrop(t *testing.T) {
	pool := bufpool.New()
	table := New(pool, 10*time.Millisecond, discardLogger())
	collector := metrics.New("test_ttl")
	table.SetMetrics(collector)

	table.Feed("peer1", &wire.ChunkHeader{PacketID: 1, ChunkOffset: 0, TotalLength: 10}, []byte("partial"))
	assert.Assert(t, pollUntil(func() bool {
		return testutil.CollectAndCount(collector, "test_ttl_reassembly_drops_total") == 1
	}, 500*time.Millisecond))
}

func pollUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
