/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package bufpool rents and returns byte buffers in power-of-two size
// classes, so the framer and reassembler never allocate on the hot path.
package bufpool

import (
	"sync"

	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
)

const (
	minClass = 64
	maxClass = 128 * 1024
)

// Pool is a size-classed buffer allocator. The zero value is not usable;
// construct one with New.
type Pool struct {
	classes map[int]*sync.Pool
	mu      sync.Mutex // guards classes during lazy class creation only
	metrics *metrics.Collector
}

// New returns a ready-to-use Pool.
func New() *Pool {
	return &Pool{classes: make(map[int]*sync.Pool)}
}

// SetMetrics attaches a collector that Rent reports pool pressure to. A nil
// collector (the default) disables reporting.
func (p *Pool) SetMetrics(m *metrics.Collector) {
	p.metrics = m
}

// Rent returns a buffer of length n, backed by a slice whose capacity is
// the next power of two class (minimum 64, maximum 128 KiB). Requests
// larger than the maximum class bypass the pool entirely.
func (p *Pool) Rent(n int) []byte {
	class := classFor(n)
	if class > maxClass {
		return make([]byte, n)
	}
	if p.metrics != nil {
		p.metrics.PoolRental()
	}
	pool := p.poolFor(class)
	buf := pool.Get().([]byte)
	return buf[:n]
}

// Return places buf back on the free list for its class. Oversize buffers
// (those that bypassed Rent's pool) are simply dropped for the GC.
func (p *Pool) Return(buf []byte) {
	class := cap(buf)
	if class < minClass || class > maxClass || class&(class-1) != 0 {
		return
	}
	pool := p.poolFor(class)
	pool.Put(buf[:0:class]) //nolint:staticcheck // restore full capacity, zero length
}

func (p *Pool) poolFor(class int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.classes[class]
	if !ok {
		size := class
		pool = &sync.Pool{
			New: func() any { return make([]byte, size) },
		}
		p.classes[class] = pool
	}
	return pool
}

// classFor rounds n up to the next power of two class, clamped to minClass.
func classFor(n int) int {
	if n <= minClass {
		return minClass
	}
	class := minClass
	for class < n {
		class <<= 1
	}
	return class
}
