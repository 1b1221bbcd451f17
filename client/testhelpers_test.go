/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package client

import (
	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/internal/framer"
	"gitlab.com/xerra/common/go-netframe/wire"
)

func newTestPool() *bufpool.Pool {
	return bufpool.New()
}

func newTestFramer(pool *bufpool.Pool) *framer.Framer {
	return framer.New(pool, 256, wire.TCPPayloadSizeMaxDefault, nil)
}
