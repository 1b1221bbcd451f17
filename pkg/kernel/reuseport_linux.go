//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package kernel

import (
	"fmt"

	dockerkernel "github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

// minReusePortKernel is the oldest Linux version this package trusts to
// have SO_REUSEPORT's load-balancing behavior (introduced in 3.9).
var minReusePortKernel = dockerkernel.VersionInfo{Kernel: 3, Major: 9, Minor: 0}

func detect(log logrus.FieldLogger) Capabilities {
	version, err := dockerkernel.GetKernelVersion()
	if err != nil {
		log.WithError(err).Warn("netframe: could not determine kernel version, disabling reuseport")
		return Capabilities{}
	}
	return Capabilities{
		ReusePort: dockerkernel.CompareKernelVersion(*version, minReusePortKernel) >= 0,
		Version:   fmt.Sprintf("%d.%d.%d", version.Kernel, version.Major, version.Minor),
	}
}
