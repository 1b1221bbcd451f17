/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package codec encodes and decodes the payload envelope carried inside a
// frame: the length-prefixed, checksummed, optionally LZ4-compressed body
// that sits between a frame's fixed header and its terminating sentinel.
//
// Compression uses github.com/pierrec/lz4/v4's block API, the same
// CompressBlock/UncompressBlock pairing syncthing's wire protocol uses to
// keep a message's uncompressed length alongside the compressed bytes.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Decoded is the result of a successful Decode: a fully verified,
// decompressed frame ready for dispatch.
type Decoded struct {
	CommandID  uint16
	ResponseID uint32
	Chunk      *wire.ChunkHeader
	Payload    []byte // rented from the pool; caller returns it when done
}

// Encode builds the on-wire bytes for one frame: header, optional chunk
// fields, optional response id, body, and (for tcp) the terminating
// sentinel. The returned slice is rented from pool and must be returned by
// the caller once written.
func Encode(pool *bufpool.Pool, commandID uint16, responseID uint32, chunk *wire.ChunkHeader, payload []byte, compression wire.CompressionMode, tcp bool, maxPayload int) ([]byte, error) {
	body := payload
	mode := wire.CompressionNone

	if compression == wire.CompressionLZ4 && len(payload) > 0 {
		bound := lz4.CompressBlockBound(len(payload))
		scratch := pool.Rent(4 + bound)
		binary.LittleEndian.PutUint32(scratch[0:4], uint32(len(payload)))
		n, err := lz4.CompressBlock(payload, scratch[4:], nil)
		if err == nil && n > 0 && 4+n < len(payload) {
			body = scratch[:4+n]
			mode = wire.CompressionLZ4
			defer pool.Return(scratch)
		} else {
			pool.Return(scratch)
		}
	}

	if len(body) > maxPayload {
		return nil, fmt.Errorf("encode command %d: %w", commandID, wire.ErrPayloadTooLarge)
	}

	hasResponse := responseID != 0
	chunked := chunk != nil
	headerByte := wire.PackHeaderByte(mode, wire.EncryptionNone, hasResponse, chunked)

	size := wire.HeaderSizeTCP
	if chunked {
		size += 12
	}
	if hasResponse {
		size += 4
	}
	size += len(body)
	if tcp {
		size++
	}

	frame := pool.Rent(size)
	frame[0] = byte(headerByte)
	binary.LittleEndian.PutUint16(frame[1:3], commandID)
	binary.LittleEndian.PutUint16(frame[3:5], uint16(len(body)))

	off := wire.HeaderSizeTCP
	if chunked {
		binary.LittleEndian.PutUint32(frame[off:off+4], chunk.PacketID)
		binary.LittleEndian.PutUint32(frame[off+4:off+8], chunk.ChunkOffset)
		binary.LittleEndian.PutUint32(frame[off+8:off+12], chunk.TotalLength)
		off += 12
	}
	if hasResponse {
		binary.LittleEndian.PutUint32(frame[off:off+4], responseID)
		off += 4
	}
	copy(frame[off:off+len(body)], body)
	bodyEnd := off + len(body)

	binary.LittleEndian.PutUint16(frame[5:7], checksumOf(frame[0:5], frame[7:bodyEnd]))

	if tcp {
		frame[bodyEnd] = wire.Sentinel
		bodyEnd++
	}
	return frame[:bodyEnd], nil
}

// Decode parses one complete frame (header through body, sentinel already
// stripped by the framer) and returns the decoded payload. On any
// validation failure the caller should discard the frame and resync; this
// function never panics on malformed input.
func Decode(pool *bufpool.Pool, frame []byte, maxPayload int) (*Decoded, error) {
	if len(frame) < wire.HeaderSizeTCP {
		return nil, fmt.Errorf("decode: short frame (%d bytes)", len(frame))
	}
	hb := wire.HeaderByte(frame[0])
	commandID := binary.LittleEndian.Uint16(frame[1:3])
	payloadLen := int(binary.LittleEndian.Uint16(frame[3:5]))
	wantChecksum := binary.LittleEndian.Uint16(frame[5:7])

	off := wire.HeaderSizeTCP
	var chunk *wire.ChunkHeader
	if hb.Chunked() {
		if len(frame) < off+12 {
			return nil, fmt.Errorf("decode command %d: short chunk header", commandID)
		}
		chunk = &wire.ChunkHeader{
			PacketID:    binary.LittleEndian.Uint32(frame[off : off+4]),
			ChunkOffset: binary.LittleEndian.Uint32(frame[off+4 : off+8]),
			TotalLength: binary.LittleEndian.Uint32(frame[off+8 : off+12]),
		}
		off += 12
	}
	var responseID uint32
	if hb.HasResponse() {
		if len(frame) < off+4 {
			return nil, fmt.Errorf("decode command %d: short response id", commandID)
		}
		responseID = binary.LittleEndian.Uint32(frame[off : off+4])
		off += 4
	}
	if len(frame) < off+payloadLen {
		return nil, fmt.Errorf("decode command %d: short body", commandID)
	}
	body := frame[off : off+payloadLen]

	if got := checksumOf(frame[0:5], frame[7:off+payloadLen]); got != wantChecksum {
		return nil, fmt.Errorf("decode command %d: %w", commandID, wire.ErrChecksumMismatch)
	}
	if hb.Encryption() != wire.EncryptionNone {
		return nil, fmt.Errorf("decode command %d: encryption is not supported", commandID)
	}

	var payload []byte
	switch hb.Compression() {
	case wire.CompressionNone:
		payload = pool.Rent(len(body))
		copy(payload, body)
	case wire.CompressionLZ4:
		if len(body) < 4 {
			return nil, fmt.Errorf("decode command %d: %w", commandID, wire.ErrDecompressFailure)
		}
		origLen := int(binary.LittleEndian.Uint32(body[0:4]))
		if origLen > maxPayload {
			return nil, fmt.Errorf("decode command %d: %w", commandID, wire.ErrPayloadTooLarge)
		}
		payload = pool.Rent(origLen)
		n, err := lz4.UncompressBlock(body[4:], payload)
		if err != nil || n != origLen {
			pool.Return(payload)
			return nil, fmt.Errorf("decode command %d: %w", commandID, wire.ErrDecompressFailure)
		}
	default:
		return nil, fmt.Errorf("decode command %d: %w", commandID, wire.ErrUnknownCompression)
	}

	if len(payload) > maxPayload {
		pool.Return(payload)
		return nil, fmt.Errorf("decode command %d: %w", commandID, wire.ErrPayloadTooLarge)
	}

	return &Decoded{
		CommandID:  commandID,
		ResponseID: responseID,
		Chunk:      chunk,
		Payload:    payload,
	}, nil
}

// HeaderExtraSize returns how many bytes of optional chunk and response
// fields follow the fixed HeaderSizeTCP header, given the header byte's
// chunked/response bits. It excludes the fixed header, the body and the
// tcp sentinel.
func HeaderExtraSize(hb wire.HeaderByte) int {
	extra := 0
	if hb.Chunked() {
		extra += 12
	}
	if hb.HasResponse() {
		extra += 4
	}
	return extra
}

// checksumOf is a 16-bit sum-of-bytes fold over the concatenation of parts,
// equivalent to the Internet checksum's carry-fold step.
func checksumOf(parts ...[]byte) uint16 {
	var sum uint32
	for _, p := range parts {
		for _, b := range p {
			sum += uint32(b)
		}
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}
