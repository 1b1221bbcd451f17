//go:build !linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package kernel

import "github.com/sirupsen/logrus"

// detect has no kernel-version source on non-Linux platforms, so
// SO_REUSEPORT support is assumed absent rather than guessed at.
func detect(log logrus.FieldLogger) Capabilities {
	log.Debug("netframe: kernel capability detection is linux-only, reuseport disabled")
	return Capabilities{}
}
