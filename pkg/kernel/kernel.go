/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package kernel reports host capabilities the server engine uses to
// decide how it binds its listening socket. Detection never aborts the
// host process: an unsupported platform or a failed version probe simply
// clears the capability flag.
package kernel

import "github.com/sirupsen/logrus"

// Capabilities describes what the running kernel supports.
type Capabilities struct {
	// ReusePort reports whether SO_REUSEPORT-style multi-listener binding
	// is available, letting a server run more than one accept loop on the
	// same port.
	ReusePort bool

	// Version is the detected kernel release string, empty if detection
	// was not possible on this platform.
	Version string
}

// Detect probes the host kernel. log receives a warning when detection
// fails; it may be nil.
func Detect(log logrus.FieldLogger) Capabilities {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return detect(log)
}
