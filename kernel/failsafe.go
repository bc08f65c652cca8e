// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

// failsafeCoils caches the last pulse mask reported by the pulse source
// (typically the frame engine or a ticker the application itself owns)
// and forwards pulse edges to the application.
//
// Grounded on SlaveApplicationClass::cbDriveFailsafeCoils in
// original_source/examples/kernel/Failsafe/SlaveApplicationClass.cc.h:
// the kernel's only job is to remember mask so that the coil-write
// accessor (owned entirely by the application) can consult it, and to
// hand the pulse edge to the application unchanged.
type failsafeCoils struct {
	enabled bool
	mask    uint16
}

// Mask returns the last mask reported by onPulse, or 0 if the feature has
// never fired or is disabled.
func (f *failsafeCoils) Mask() uint16 {
	if !f.enabled {
		return 0
	}
	return f.mask
}

// onPulse caches mask and reports whether the application's
// DriveFailsafeCoils should be invoked (it should, whenever the feature
// is enabled).
func (f *failsafeCoils) onPulse(mask uint16) bool {
	if !f.enabled {
		return false
	}
	f.mask = mask
	return true
}
