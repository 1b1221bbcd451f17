//go:build !linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package server

import "syscall"

// reusePortControl is a no-op outside Linux; ReusePort capability is
// always false there, so ListenAndServe never installs this control func.
func reusePortControl(_ string, _ string, _ syscall.RawConn) error {
	return nil
}
