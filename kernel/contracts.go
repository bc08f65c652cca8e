// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

import "github.com/ffutop/modbus-rtu-kernel/modbus"

// Clock supplies the millisecond counter the Timer primitive needs. It is
// the injected collaborator standing in for the platform's millis().
type Clock interface {
	Millis() Millis
}

// Store is the non-volatile memory collaborator: byte-addressed,
// read/write/commit, with no further structure assumed. The kernel uses
// it only to persist its own header and to hand the application's
// payload through untouched.
//
// This generalizes persistence.Storage from github.com/ffutop/modbus-gateway
// (Load/Save/OnWrite over a *model.DataModel) to raw bytes, since the kernel has no register
// model of its own to persist — only a small header plus an opaque
// application buffer.
type Store interface {
	// Read fills buf from the start of storage. Implementations must
	// zero-fill rather than error on a short/absent backing store; the
	// magic-sentinel check in ConfigManager is what decides validity.
	Read(buf []byte) error
	// Write persists buf starting at offset 0.
	Write(buf []byte) error
	// Commit flushes any buffered writes to stable media. Implementations
	// for which every Write is already durable (e.g. an in-memory store)
	// may treat this as a no-op.
	Commit() error
}

// RebootHook is the injected platform-reset capability. The kernel never
// calls a platform reset function directly; it calls this hook once, on
// the poll after a reboot request register write, and expects the process
// not to return from it (though nothing breaks if it does, other than the
// reboot not actually happening).
type RebootHook func()

// HandlerFunc is installed into a FrameEngine's dispatch vector for one
// function code. It has already been bound to its receiver via closure,
// so no void*-style context parameter is needed — the direct resolution
// of the static-trampoline-with-context pattern.
type HandlerFunc func(address, quantity uint16) modbus.Exception

// FrameEngine is the upstream RTU framing/CRC/timing engine: it accepts
// octets from a transport, assembles validated frames, and invokes the
// handler registered for the frame's function code with a decoded
// address/quantity and a request-relative scratch buffer available
// through the Read*/Write*ToBuffer methods below.
//
// This module treats it as an external collaborator: frameengine.Engine
// is one concrete implementation, but any type satisfying this interface
// plugs into the kernel unchanged.
type FrameEngine interface {
	// RegisterHandler installs h for function code fc. Re-registering a
	// function code replaces the previous handler.
	RegisterHandler(fc byte, h HandlerFunc)
	// Poll drains at most one pending frame, invoking the registered
	// handler synchronously if a valid frame for an enabled function
	// code was received. It must be called often enough to respect the
	// underlying transport's inter-character timeout.
	Poll() error

	// ReadRegisterFromBuffer and WriteRegisterToBuffer move 16-bit values
	// between the engine's scratch buffer and application storage. i is
	// request-relative (0..quantity), not address-relative.
	ReadRegisterFromBuffer(i int) uint16
	WriteRegisterToBuffer(i int, v uint16)
	// ReadCoilFromBuffer and WriteCoilToBuffer do the equivalent for
	// single-bit coil/discrete-input values.
	ReadCoilFromBuffer(i int) bool
	WriteCoilToBuffer(i int, v bool)
}

// Application is the capability-set a concrete slave implements: the four
// typed accessors, the two watchdog notifications, and the failsafe pulse
// notification. It replaces the original's virtual-method base class with
// explicit composition — the kernel holds this as an interface value
// rather than via subclassing.
type Application interface {
	// AccessHoldingRegisters, AccessCoils, AccessDiscreteInputs and
	// AccessInputRegisters service application-owned ranges (never the
	// kernel's configuration window, which the kernel intercepts before
	// these are called). write distinguishes a write request from a
	// read; for a write, the values have already been deposited into the
	// frame engine's scratch buffer and the callback should pull them
	// out with ReadRegisterFromBuffer/ReadCoilFromBuffer. For a read,
	// the callback should push values in with
	// WriteRegisterToBuffer/WriteCoilToBuffer. Implementations must
	// reject ranges exceeding their configured entity count with
	// modbus.ExceptionIllegalDataAddress before touching any buffers.
	AccessHoldingRegisters(write bool, address, quantity uint16) modbus.Exception
	AccessCoils(write bool, address, quantity uint16) modbus.Exception
	AccessDiscreteInputs(write bool, address, quantity uint16) modbus.Exception
	AccessInputRegisters(write bool, address, quantity uint16) modbus.Exception

	// CommunicationLost and CommunicationReestablished fire on the
	// watchdog's alarm transitions, at most once per transition.
	CommunicationLost()
	CommunicationReestablished()

	// DriveFailsafeCoils is invoked when the frame engine (or another
	// pulse source) reports a failsafe pulse edge. mask bit i set means
	// coil i is a failsafe coil at the given phase; safeState carries the
	// configured safe output level. The application must drive the
	// physical output only, leaving logical coil state untouched.
	DriveFailsafeCoils(phase bool, mask, safeState uint16)
}

// BaseApplication implements Application with the original kernel's
// default bodies: IllegalFunction for every accessor, no-ops for the
// notifiers. Embed it in a concrete application and override only the
// methods that matter, mirroring the original's virtual-method defaults
// without requiring subclassing.
type BaseApplication struct{}

func (BaseApplication) AccessHoldingRegisters(write bool, address, quantity uint16) modbus.Exception {
	return modbus.ExceptionIllegalFunction
}

func (BaseApplication) AccessCoils(write bool, address, quantity uint16) modbus.Exception {
	return modbus.ExceptionIllegalFunction
}

func (BaseApplication) AccessDiscreteInputs(write bool, address, quantity uint16) modbus.Exception {
	return modbus.ExceptionIllegalFunction
}

func (BaseApplication) AccessInputRegisters(write bool, address, quantity uint16) modbus.Exception {
	return modbus.ExceptionIllegalFunction
}

func (BaseApplication) CommunicationLost() {}

func (BaseApplication) CommunicationReestablished() {}

func (BaseApplication) DriveFailsafeCoils(phase bool, mask, safeState uint16) {}
