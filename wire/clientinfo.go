/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeClientInfo packs CLIENT_INFO's fixed payload layout: an 8-byte
// little-endian client_id followed by the raw name bytes.
func EncodeClientInfo(clientID int64, name string) []byte {
	buf := make([]byte, 8+len(name))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(clientID))
	copy(buf[8:], name)
	return buf
}

// DecodeClientInfo unpacks a payload produced by EncodeClientInfo.
func DecodeClientInfo(payload []byte) (clientID int64, name string, err error) {
	if len(payload) < 8 {
		return 0, "", fmt.Errorf("netframe: client_info payload too short (%d bytes)", len(payload))
	}
	clientID = int64(binary.LittleEndian.Uint64(payload[0:8]))
	name = string(payload[8:])
	return clientID, name, nil
}
