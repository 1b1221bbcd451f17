/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package wire

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestEncodeDecodeClientInfoRoundTrip(t *testing.T) {
	payload := EncodeClientInfo(4242, "survey-relay")

	clientID, name, err := DecodeClientInfo(payload)
	assert.NilError(t, err)
	assert.Equal(t, clientID, int64(4242))
	assert.Equal(t, name, "survey-relay")
}

func TestEncodeClientInfoEmptyName(t *testing.T) {
	payload := EncodeClientInfo(1, "")

	clientID, name, err := DecodeClientInfo(payload)
	assert.NilError(t, err)
	assert.Equal(t, clientID, int64(1))
	assert.Equal(t, name, "")
}

func TestDecodeClientInfoRejectsShortPayload(t *testing.T) {
	_, _, err := DecodeClientInfo([]byte{1, 2, 3})
	assert.ErrorContains(t, err, "too short")
}
