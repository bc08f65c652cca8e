// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

import "github.com/ffutop/modbus-rtu-kernel/modbus"

// readHoldingRegisters and writeHoldingRegisters implement the FC 3 /
// FC 6+16 dispatch rule: requests whose first address falls in the
// configuration window are intercepted here and never reach the
// application; everything else is forwarded.
//
// Grounded on SlaveRtuKernelClass::_readHoldingRegs /
// _writeHoldingRegs in original_source/src/SlaveRtuKernelClass.cpp.
func (k *Kernel) readHoldingRegisters(address, quantity uint16) modbus.Exception {
	if inConfigWindow(address) {
		return k.readConfigWindow(address, quantity)
	}
	return k.app.AccessHoldingRegisters(false, address, quantity)
}

func (k *Kernel) writeHoldingRegisters(address, quantity uint16) modbus.Exception {
	if inConfigWindow(address) {
		return k.writeConfigWindow(address, quantity)
	}
	return k.app.AccessHoldingRegisters(true, address, quantity)
}

// readConfigWindow services a holding-register read that falls at or
// past ConfigWindowBase. A request that only partially overlaps the
// window is rejected outright rather than partially served.
func (k *Kernel) readConfigWindow(address, quantity uint16) modbus.Exception {
	if exc := validateWindowRange(&k.cw, address, quantity); !exc.OK() {
		return exc
	}
	base := int(address - ConfigWindowBase)
	now := k.clock.Millis()
	for i := 0; i < int(quantity); i++ {
		value, retrigger := k.cw.read(base + i)
		k.fe.WriteRegisterToBuffer(i, value)
		if retrigger {
			if k.wd.onTimeoutRegisterRead(now) {
				k.log.Info("kernel: communication reestablished")
				k.app.CommunicationReestablished()
			}
		}
	}
	return modbus.ExceptionOK
}

// writeConfigWindow services a holding-register write that falls at or
// past ConfigWindowBase, applying the per-register side effects and
// persisting the kernel header once, after the whole range has been
// applied.
func (k *Kernel) writeConfigWindow(address, quantity uint16) modbus.Exception {
	if exc := validateWindowRange(&k.cw, address, quantity); !exc.OK() {
		return exc
	}
	base := int(address - ConfigWindowBase)
	for i := 0; i < int(quantity); i++ {
		value := k.fe.ReadRegisterFromBuffer(i)
		k.applyConfigWrite(base+i, value)
	}
	if err := k.cm.persistHeader(k.appTail); err != nil {
		k.log.Error("kernel: persist configuration header", "err", err)
		return modbus.ExceptionSlaveDeviceFailure
	}
	k.log.Info("kernel: configuration written, effective on next boot")
	return modbus.ExceptionOK
}

func (k *Kernel) applyConfigWrite(idx int, value uint16) {
	rebootRequested := k.cw.write(idx, value)
	switch idx {
	case regSlaveID:
		k.cm.header.SlaveID = value
	case regBaudRate:
		k.cm.header.BaudRate = value
	case regCommTimeout:
		k.cm.header.CommTimeoutMS = value
	case regRebootRequest:
		if rebootRequested {
			k.rebootPending = true
		}
	}
}

// readCoils and writeCoils implement the FC 1/5/15 dispatch rule:
// always forwarded to the application if enabled, IllegalFunction
// otherwise. Grounded on SlaveRtuKernelClass::_readCoils/_writeCoils.
func (k *Kernel) readCoils(address, quantity uint16) modbus.Exception {
	if !k.disp.isEnabled(CBReadCoils) {
		return modbus.ExceptionIllegalFunction
	}
	return k.app.AccessCoils(false, address, quantity)
}

func (k *Kernel) writeCoils(address, quantity uint16) modbus.Exception {
	if !k.disp.isEnabled(CBWriteCoils) {
		return modbus.ExceptionIllegalFunction
	}
	return k.app.AccessCoils(true, address, quantity)
}

// readDiscreteInputs implements the FC 2 dispatch rule.
func (k *Kernel) readDiscreteInputs(address, quantity uint16) modbus.Exception {
	if !k.disp.isEnabled(CBReadDiscreteInputs) {
		return modbus.ExceptionIllegalFunction
	}
	return k.app.AccessDiscreteInputs(false, address, quantity)
}

// readInputRegisters implements the FC 4 dispatch rule.
func (k *Kernel) readInputRegisters(address, quantity uint16) modbus.Exception {
	if !k.disp.isEnabled(CBReadInputRegisters) {
		return modbus.ExceptionIllegalFunction
	}
	return k.app.AccessInputRegisters(false, address, quantity)
}
