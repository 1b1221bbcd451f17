/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package respwait is the client-local response table (C7): it hands out
// response ids for send_r, and resolves them exactly once via Complete,
// Cancel, or timeout.
package respwait

import (
	"sync"
	"time"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Result is delivered to the awaiter exactly once.
type Result struct {
	Payload []byte
	Err     error
}

type waiter struct {
	ch    chan Result
	timer *time.Timer
	once  sync.Once
}

// Table allocates response ids and tracks one outstanding request per id.
type Table struct {
	pool *bufpool.Pool

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*waiter
}

// New returns a Table backed by pool, used to return late-arriving
// response buffers that nobody is waiting for anymore.
func New(pool *bufpool.Pool) *Table {
	return &Table{pool: pool, nextID: 1, pending: make(map[uint32]*waiter)}
}

// Len reports the number of outstanding requests, for tests/metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Register allocates a fresh response id, arms a timeout, and returns the
// id plus a channel that receives exactly one Result.
func (t *Table) Register(timeout time.Duration) (uint32, <-chan Result) {
	t.mu.Lock()
	id := t.allocateLocked()
	w := &waiter{ch: make(chan Result, 1)}
	t.pending[id] = w
	t.mu.Unlock()

	w.timer = time.AfterFunc(timeout, func() { t.resolve(id, Result{Err: wire.ErrRequestTimeout}) })
	return id, w.ch
}

// allocateLocked must be called with mu held. response_id wraps around
// skipping zero, since zero means "not a response to a prior request".
func (t *Table) allocateLocked() uint32 {
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = 1
		}
		if _, exists := t.pending[id]; !exists && id != 0 {
			return id
		}
	}
}

// Complete fulfills id with payload. If id is no longer outstanding
// (already cancelled or timed out), payload is returned to the pool
// instead.
func (t *Table) Complete(id uint32, payload []byte) {
	if !t.resolve(id, Result{Payload: payload}) {
		t.pool.Return(payload)
	}
}

// Cancel resolves id with a cancellation.
func (t *Table) Cancel(id uint32) {
	t.resolve(id, Result{Err: wire.ErrRequestCancelled})
}

// CloseAll resolves every outstanding request with err, for a connection
// that has gone away with requests still in flight.
func (t *Table) CloseAll(err error) {
	t.mu.Lock()
	waiters := make([]*waiter, 0, len(t.pending))
	for id, w := range t.pending {
		waiters = append(waiters, w)
		delete(t.pending, id)
	}
	t.mu.Unlock()
	for _, w := range waiters {
		w.timer.Stop()
		w.once.Do(func() { w.ch <- Result{Err: err} })
	}
}

// resolve delivers result to id's waiter exactly once, returning whether a
// waiter was actually found.
func (t *Table) resolve(id uint32, result Result) bool {
	t.mu.Lock()
	w, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	w.timer.Stop()
	w.once.Do(func() { w.ch <- result })
	return true
}
