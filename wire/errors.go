/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package wire

import "errors"

// Local, silent recovery errors. The framer discards the current frame and
// resynchronizes on any of these without propagating them. The one
// exception on the send side is ErrPayloadTooLarge, which codec.Encode
// returns to the sender (Send maps it to SendPacketTooLarge; SendRequest
// returns it wrapped).
var (
	ErrChecksumMismatch   = errors.New("netframe: checksum mismatch")
	ErrUnknownCompression = errors.New("netframe: unknown compression mode")
	ErrDecompressFailure  = errors.New("netframe: decompress failure")
	ErrPayloadTooLarge    = errors.New("netframe: payload exceeds max_payload_size")
	ErrReassemblyExpired  = errors.New("netframe: reassembly ttl expired")
)

// ProtocolMisuse errors are returned to the caller, not swallowed.
var (
	ErrReservedCommand     = errors.New("netframe: command id is reserved")
	ErrUnregisteredCommand = errors.New("netframe: command id has no deserializer")
)

// Delivered to the awaiter of send_r.
var (
	ErrRequestTimeout   = errors.New("netframe: request timed out")
	ErrRequestCancelled = errors.New("netframe: request cancelled")
)

// TransportError / lifecycle.
var (
	ErrDisconnected = errors.New("netframe: peer is disconnected")
)
