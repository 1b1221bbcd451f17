/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package respwait

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/wire"
)

func TestRegisterThenCompleteDeliversPayload(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)

	id, ch := table.Register(time.Second)
	assert.Assert(t, id != 0)

	payload := pool.Rent(4)
	copy(payload, "ping")
	table.Complete(id, payload)

	result := <-ch
	assert.NilError(t, result.Err)
	assert.Equal(t, string(result.Payload), "ping")
}

func TestCompleteWithUnknownIDReturnsBufferToPool(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)

	payload := pool.Rent(4)
	table.Complete(12345, payload) // never registered: must not panic
}

func TestCancelDeliversCancellationError(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)

	id, ch := table.Register(time.Second)
	table.Cancel(id)

	result := <-ch
	assert.ErrorIs(t, result.Err, wire.ErrRequestCancelled)
}

func TestTimeoutDeliversTimeoutError(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)

	_, ch := table.Register(10 * time.Millisecond)
	result := <-ch
	assert.ErrorIs(t, result.Err, wire.ErrRequestTimeout)
}

func TestResolveIsExactlyOnce(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)

	id, ch := table.Register(20 * time.Millisecond)
	table.Complete(id, pool.Rent(0))
	table.Cancel(id) // already resolved: must be a no-op, not a second send

	result := <-ch
	assert.NilError(t, result.Err)

	select {
	case <-ch:
		t.Fatal("waiter channel received a second result")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAllocateLockedSkipsZeroOnWraparound(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)
	table.nextID = 0xFFFFFFFF

	id := table.allocateLocked()
	assert.Equal(t, id, uint32(0xFFFFFFFF))

	next := table.allocateLocked()
	assert.Equal(t, next, uint32(1))
}

func TestAllocateLockedSkipsCollisions(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)
	table.pending[1] = &waiter{ch: make(chan Result, 1)}
	table.nextID = 1

	id := table.allocateLocked()
	assert.Equal(t, id, uint32(2))
}

func TestCloseAllResolvesEveryWaiterWithGivenError(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)

	id1, ch1 := table.Register(time.Second)
	id2, ch2 := table.Register(time.Second)

	table.CloseAll(wire.ErrDisconnected)

	assert.ErrorIs(t, (<-ch1).Err, wire.ErrDisconnected)
	assert.ErrorIs(t, (<-ch2).Err, wire.ErrDisconnected)
	assert.Equal(t, table.Len(), 0)

	// Resolving again (e.g. a late Cancel/Complete racing the close) must
	// be a no-op, not a panic or a second send.
	table.Cancel(id1)
	table.Complete(id2, pool.Rent(0))
}

func TestLenTracksOutstandingRequests(t *testing.T) {
	pool := bufpool.New()
	table := New(pool)
	assert.Equal(t, table.Len(), 0)

	id, _ := table.Register(time.Second)
	assert.Equal(t, table.Len(), 1)

	table.Cancel(id)
	assert.Equal(t, table.Len(), 0)
}
