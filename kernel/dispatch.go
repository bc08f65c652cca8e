// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

import "github.com/ffutop/modbus-rtu-kernel/modbus"

// CallbackSlot names one of the six application-facing dispatch slots.
// It replaces the original kernel's CB_READ_COILS..CB_WRITE_HOLDING_REGISTERS
// enum.
type CallbackSlot int

const (
	CBReadCoils CallbackSlot = iota
	CBReadDiscreteInputs
	CBReadHoldingRegisters
	CBReadInputRegisters
	CBWriteCoils
	CBWriteHoldingRegisters
)

// slotFuncCodes maps each callback slot to the wire function codes that
// exercise it: a compile-time map in place of the original's
// enum-indexed switch statement in SlaveRtuKernelClass::enableCallback.
var slotFuncCodes = map[CallbackSlot][]byte{
	CBReadCoils:             {modbus.FuncCodeReadCoils},
	CBReadDiscreteInputs:    {modbus.FuncCodeReadDiscreteInputs},
	CBReadHoldingRegisters:  {modbus.FuncCodeReadHoldingRegisters},
	CBReadInputRegisters:    {modbus.FuncCodeReadInputRegisters},
	CBWriteCoils:            {modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteMultipleCoils},
	CBWriteHoldingRegisters: {modbus.FuncCodeWriteSingleRegister, modbus.FuncCodeWriteMultipleRegisters},
}

// dispatchTable tracks which of the six slots the application has opted
// into via Kernel.EnableCallback. The two holding-register slots are
// always enabled (the configuration window must always be reachable).
type dispatchTable struct {
	enabled [6]bool
}

func (d *dispatchTable) set(slot CallbackSlot) {
	d.enabled[slot] = true
}

func (d *dispatchTable) isEnabled(slot CallbackSlot) bool {
	return d.enabled[slot]
}
