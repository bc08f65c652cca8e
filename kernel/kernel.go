// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package kernel implements the Modbus RTU slave kernel: frame dispatch,
// the configuration holding-register window, the communication watchdog,
// the optional failsafe-coils pulse cache, and the non-volatile settings
// lifecycle. It is application-agnostic — a concrete slave plugs in by
// implementing Application and providing Store/FrameEngine/Clock
// collaborators.
//
// Grounded throughout on original_source/src/SlaveRtuKernelClass.{h,cpp},
// restructured from a C++ base class with virtual methods into explicit
// composition over small interfaces, in the style of the
// internal/local-slave package of github.com/ffutop/modbus-gateway.
package kernel

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-rtu-kernel/modbus"
)

// Deps bundles the kernel's collaborators. AppConfigBuf, if non-nil, is
// the application's own persistent buffer; its first HeaderSize bytes are
// owned by the kernel. New fills the whole buffer from the store, and
// WriteDefaults stamps the default header into the buffer it is given;
// configuration-window writes persist the header without updating it.
// RebootHook and Logger are optional; nil-safe defaults are used if
// omitted.
type Deps struct {
	Store       Store
	FrameEngine FrameEngine
	Clock       Clock
	Application Application
	RebootHook  RebootHook
	AppConfigBuf []byte
	Logger      *slog.Logger
}

// Kernel is the long-lived object an application constructs once at
// startup and polls periodically thereafter.
type Kernel struct {
	store       Store
	fe          FrameEngine
	clock       Clock
	app         Application
	rebootHook  RebootHook
	log         *slog.Logger

	cm     *configManager
	cw     configWindow
	wd     watchdog
	fsc    failsafeCoils
	disp   dispatchTable

	appTail        []byte
	rebootPending  bool
}

// New constructs a Kernel from deps. It loads persisted configuration via
// deps.Store, validates the magic sentinel, and — if valid — copies the
// header into the volatile mirror and arms the watchdog. It does NOT
// write defaults automatically; the application must call
// DefaultsRequired/WriteDefaults itself.
//
// New also registers all six dispatch handlers unconditionally — the
// configuration window must always be reachable, and the four
// non-holding-register handlers must exist from the start so that an
// unexercised slot still gets a deliberate IllegalFunction from
// dispatchTable rather than relying on the frame engine to have no
// handler at all — and emits a diagnostic trace, mirroring the
// constructor in original_source/src/SlaveRtuKernelClass.cpp.
func New(deps Deps) (*Kernel, error) {
	if deps.Store == nil || deps.FrameEngine == nil || deps.Clock == nil || deps.Application == nil {
		return nil, fmt.Errorf("kernel: Store, FrameEngine, Clock and Application are required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cm, err := loadConfigManager(deps.Store, deps.AppConfigBuf)
	if err != nil {
		return nil, err
	}

	var appTail []byte
	if len(deps.AppConfigBuf) > HeaderSize {
		appTail = deps.AppConfigBuf[HeaderSize:]
	}

	k := &Kernel{
		store:      deps.Store,
		fe:         deps.FrameEngine,
		clock:      deps.Clock,
		app:        deps.Application,
		rebootHook: deps.RebootHook,
		log:        log,
		cm:         cm,
		appTail:    appTail,
	}

	now := k.clock.Millis()
	if cm.DefaultsRequired() {
		log.Warn("kernel: persisted configuration invalid, defaults required")
		k.cw = newConfigWindow(KernelConfig{})
		k.wd = newWatchdog(now, 0)
	} else {
		k.cw = newConfigWindow(cm.header)
		k.wd = newWatchdog(now, cm.header.CommTimeoutMS)
	}

	k.fe.RegisterHandler(modbus.FuncCodeReadHoldingRegisters, k.readHoldingRegisters)
	k.fe.RegisterHandler(modbus.FuncCodeWriteSingleRegister, k.writeHoldingRegisters)
	k.fe.RegisterHandler(modbus.FuncCodeWriteMultipleRegisters, k.writeHoldingRegisters)
	k.disp.set(CBReadHoldingRegisters)
	k.disp.set(CBWriteHoldingRegisters)

	for slot, fcs := range slotFuncCodes {
		switch slot {
		case CBReadHoldingRegisters, CBWriteHoldingRegisters:
			continue
		}
		for _, fc := range fcs {
			k.fe.RegisterHandler(fc, k.handlerFor(slot, fc))
		}
	}

	log.Info("kernel: initialized",
		"slave_id", k.cw.mirror[regSlaveID],
		"baud_rate", k.cw.mirror[regBaudRate],
		"comm_timeout_ms", k.cw.mirror[regCommTimeout],
		"config_window_base", fmt.Sprintf("0x%03X", ConfigWindowBase),
	)
	return k, nil
}

// DefaultsRequired reports whether persisted storage failed the magic
// check at load time.
func (k *Kernel) DefaultsRequired() bool {
	return k.cm.DefaultsRequired()
}

// WriteDefaults stamps the kernel header into appBuf and persists it,
// then refreshes the kernel's own volatile state (mirror, watchdog) from
// the freshly written defaults. appBuf should be the same buffer passed
// as Deps.AppConfigBuf (or a same-shaped buffer) so the application's
// payload round-trips.
func (k *Kernel) WriteDefaults(appBuf []byte) error {
	if err := k.cm.WriteDefaults(appBuf); err != nil {
		return err
	}
	now := k.clock.Millis()
	k.cw = newConfigWindow(k.cm.header)
	k.wd = newWatchdog(now, k.cm.header.CommTimeoutMS)
	if len(appBuf) > HeaderSize {
		k.appTail = appBuf[HeaderSize:]
	}
	k.log.Info("kernel: defaults written")
	return nil
}

// EnableCallback opts the application into one of the four
// non-holding-register slots (coils read/write, discrete inputs,
// input registers). The handlers themselves are already registered by
// New; this only flips the dispatchTable bit the handlers gate on, so
// a slot the application never enables keeps answering
// ExceptionIllegalFunction rather than going unregistered. Holding
// registers are always enabled and calling EnableCallback with either
// holding-register slot is a harmless no-op, matching the original's
// "Vector already / always set" branch.
func (k *Kernel) EnableCallback(slot CallbackSlot) {
	switch slot {
	case CBReadHoldingRegisters, CBWriteHoldingRegisters:
		return
	}
	if _, ok := slotFuncCodes[slot]; !ok {
		k.log.Warn("kernel: bad callback slot", "slot", slot)
		return
	}
	k.disp.set(slot)
}

func (k *Kernel) handlerFor(slot CallbackSlot, fc byte) HandlerFunc {
	switch slot {
	case CBReadCoils:
		return func(address, quantity uint16) modbus.Exception { return k.readCoils(address, quantity) }
	case CBWriteCoils:
		return func(address, quantity uint16) modbus.Exception { return k.writeCoils(address, quantity) }
	case CBReadDiscreteInputs:
		return func(address, quantity uint16) modbus.Exception { return k.readDiscreteInputs(address, quantity) }
	case CBReadInputRegisters:
		return func(address, quantity uint16) modbus.Exception { return k.readInputRegisters(address, quantity) }
	default:
		return func(address, quantity uint16) modbus.Exception { return modbus.ExceptionIllegalFunction }
	}
}

// EnableFailsafe opts into the failsafe-coils pulse cache. Until called,
// PulseFailsafeCoils is a no-op and Application.DriveFailsafeCoils is
// never invoked.
func (k *Kernel) EnableFailsafe() {
	k.fsc.enabled = true
}

// PulseFailsafeCoils is called by the pulse source (the frame engine, or
// an application-owned ticker) on each pulse edge. It caches mask and forwards to Application.DriveFailsafeCoils.
func (k *Kernel) PulseFailsafeCoils(phase bool, mask, safeState uint16) {
	if k.fsc.onPulse(mask) {
		k.app.DriveFailsafeCoils(phase, mask, safeState)
	}
}

// FailsafeMask returns the most recently cached failsafe mask, for
// applications that want to consult it outside of a pulse callback
// (e.g. from their coil-write accessor).
func (k *Kernel) FailsafeMask() uint16 {
	return k.fsc.Mask()
}

// Poll drains the frame engine, then acts on any deferred reboot
// request, then evaluates the watchdog — in that order, so a reboot
// requested during this poll's frame processing is executed before
// this same poll returns.
func (k *Kernel) Poll() error {
	if err := k.fe.Poll(); err != nil {
		return fmt.Errorf("kernel: frame engine poll: %w", err)
	}

	if k.rebootPending {
		k.log.Info("kernel: performing requested reboot")
		k.rebootPending = false
		if k.rebootHook != nil {
			k.rebootHook()
		}
		return nil
	}

	now := k.clock.Millis()
	if k.wd.onPoll(now) {
		k.log.Warn("kernel: communication lost")
		k.app.CommunicationLost()
	}
	return nil
}
