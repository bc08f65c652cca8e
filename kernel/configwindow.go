// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

import "github.com/ffutop/modbus-rtu-kernel/modbus"

// Holding-register indices within the configuration window, mirroring
// the original kernel's anonymous enum (holdingRegSlaveId..
// holdingRegRebootRequest) in SlaveRtuKernelClass.h.
const (
	regSlaveID = iota
	regBaudRate
	regCommTimeout
	regRebootRequest
	numConfigRegs
)

// ConfigWindowBase is the first holding-register address owned by the
// kernel's configuration window: [ConfigWindowBase, ConfigWindowBase+4).
const ConfigWindowBase uint16 = 0x100

// rebootSentinel is the value that, written to the reboot-request
// register, arms a deferred reboot.
const rebootSentinel uint16 = 0xFFFF

// configWindow is the volatile mirror of the kernel's configuration
// holding registers, overlaid on the application's holding-register
// address space at [ConfigWindowBase, ConfigWindowBase+numConfigRegs).
type configWindow struct {
	mirror [numConfigRegs]uint16
}

func newConfigWindow(header KernelConfig) configWindow {
	return configWindow{mirror: [numConfigRegs]uint16{
		regSlaveID:       header.SlaveID,
		regBaudRate:      header.BaudRate,
		regCommTimeout:   header.CommTimeoutMS,
		regRebootRequest: 0,
	}}
}

// containsWindow reports whether [address, address+quantity) falls
// entirely within the configuration window. It is the caller's
// responsibility to have already checked address >= ConfigWindowBase.
func (cw *configWindow) containsWindow(address, quantity uint16) bool {
	end := uint32(address) + uint32(quantity)
	return end <= uint32(ConfigWindowBase)+uint32(numConfigRegs)
}

// read returns the mirror value at window-relative index k. retrigger
// reports whether this read should retrigger the watchdog heartbeat
// (true iff k addresses the CommTimeout register).
func (cw *configWindow) read(k int) (value uint16, retrigger bool) {
	return cw.mirror[k], k == regCommTimeout
}

// write stores value into the mirror at window-relative index k and
// reports whether the write requested a deferred reboot (k ==
// regRebootRequest with value == rebootSentinel). A write to the
// reboot-request register always leaves its mirror at zero: the register
// is ephemeral and never holds a value across reads. The caller is
// responsible for applying the persistent side effects (updating the
// kernel header, persisting it).
func (cw *configWindow) write(k int, value uint16) (rebootRequested bool) {
	switch k {
	case regRebootRequest:
		rebootRequested = value == rebootSentinel
		cw.mirror[k] = 0
	default:
		cw.mirror[k] = value
	}
	return rebootRequested
}

// inConfigWindow reports whether a holding-register request starting at
// address is routed to the kernel's configuration window rather than to
// the application.
func inConfigWindow(address uint16) bool {
	return address >= ConfigWindowBase
}

// validateWindowRange checks a request already routed to the window: any
// request whose first address falls in the window must be wholly
// contained in it, otherwise it is rejected with
// modbus.ExceptionIllegalDataAddress.
func validateWindowRange(cw *configWindow, address, quantity uint16) modbus.Exception {
	if !cw.containsWindow(address, quantity) {
		return modbus.ExceptionIllegalDataAddress
	}
	return modbus.ExceptionOK
}
