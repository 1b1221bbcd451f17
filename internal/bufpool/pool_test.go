/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package bufpool

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"

	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
)

func TestClassFor(t *testing.T) {
	cases := []struct {
		n     int
		class int
	}{
		{0, minClass},
		{1, minClass},
		{minClass, minClass},
		{minClass + 1, minClass * 2},
		{4096, 4096},
		{4097, 8192},
	}
	for _, tc := range cases {
		got := classFor(tc.n)
		assert.Equal(t, got, tc.class)
	}
}

func TestRentReturnsRequestedLength(t *testing.T) {
	p := New()
	buf := p.Rent(100)
	assert.Equal(t, len(buf), 100)
	assert.Equal(t, cap(buf), 128)
}

func TestRentOversizeBypassesPool(t *testing.T) {
	p := New()
	buf := p.Rent(maxClass + 1)
	assert.Equal(t, len(buf), maxClass+1)
}

func TestReturnThenRentReusesBuffer(t *testing.T) {
	p := New()
	buf := p.Rent(200)
	buf[0] = 0xAB
	p.Return(buf)

	again := p.Rent(200)
	assert.Equal(t, cap(again), cap(buf))
}

func TestReturnDropsNonClassBuffer(t *testing.T) {
	p := New()
	// Not a power of two class: must be silently dropped, not panic.
	p.Return(make([]byte, 100))
}

func TestRentReportsPoolRentalWhenMetricsAttached(t *testing.T) {
	p := New()
	collector := metrics.New("test_rent")
	p.SetMetrics(collector)

	p.Rent(64)

	assert.NilError(t, testutil.CollectAndCompare(collector, strings.NewReader(`
# HELP test_rent_pool_rentals_total Buffers rented from the byte pool across all size classes.
# TYPE test_rent_pool_rentals_total counter
test_rent_pool_rentals_total 1
`), "test_rent_pool_rentals_total"))
}

func TestReturnResetsLength(t *testing.T) {
	p := New()
	buf := p.Rent(64)
	p.Return(buf)
	pool := p.poolFor(64)
	got := pool.Get().([]byte)
	assert.Equal(t, len(got), 0)
	assert.Equal(t, cap(got), 64)
}
