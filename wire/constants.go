/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package wire defines the on-wire contract shared by the framer, codec,
// server and client engines: frame layout, reserved command ids, and the
// small enums callers observe (send results, disconnect reasons).
package wire

import "time"

const (
	// HeaderSizeTCP is the fixed portion of a TCP frame header, before the
	// optional chunk and response fields.
	HeaderSizeTCP = 7

	// Sentinel terminates every TCP frame so the framer can resynchronize
	// after corruption.
	Sentinel = 0x00

	// UserCommandLimit is the highest command id an application may
	// register. Ids above this value are reserved for control commands.
	UserCommandLimit = 0xFFEF

	// TCPPayloadSizeMaxDefault and UDPPayloadSizeMaxDefault are the default
	// per-frame payload ceilings; both are configurable per engine.
	TCPPayloadSizeMaxDefault = 65535
	UDPPayloadSizeMaxDefault = 65507

	// CloseTimeout is how long Dispose waits, after closing the listeners,
	// for in-flight connections to drain.
	CloseTimeout = 10 * time.Second

	// ReassemblyTTL is how long a partially reassembled buffer is kept
	// before being discarded.
	ReassemblyTTL = 1500 * time.Millisecond

	// DefaultRequestTimeout is send_r's default response wait.
	DefaultRequestTimeout = 60 * time.Second
)

// Reserved command ids, all above UserCommandLimit.
const (
	CmdUDPConnect uint16 = 0xFFFC
	CmdConnect    uint16 = 0xFFFB
	CmdDisconnect uint16 = 0xFFFA
	CmdPing       uint16 = 0xFFFD
	CmdClientInfo uint16 = 0xFFFE
)

// IsReserved reports whether id names a control command rather than a
// user-registered one.
func IsReserved(id uint16) bool {
	return id > UserCommandLimit
}
