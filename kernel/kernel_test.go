// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

import (
	"errors"
	"testing"

	"github.com/ffutop/modbus-rtu-kernel/modbus"
)

// fakeStore is an in-memory Store double. A zero-value fakeStore reads as
// all zeros, matching the contract that Read never errors on short/absent
// backing storage.
type fakeStore struct {
	buf       []byte
	failWrite bool
}

func (s *fakeStore) Read(buf []byte) error {
	n := copy(buf, s.buf)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (s *fakeStore) Write(buf []byte) error {
	if s.failWrite {
		return errors.New("fakeStore: write failed")
	}
	s.buf = append([]byte(nil), buf...)
	return nil
}

func (s *fakeStore) Commit() error { return nil }

// fakeFrameEngine is a FrameEngine double that lets tests drive handlers
// directly without any real framing/CRC machinery.
type fakeFrameEngine struct {
	handlers map[byte]HandlerFunc
	regs     [16]uint16
	coils    [16]bool
}

func newFakeFrameEngine() *fakeFrameEngine {
	return &fakeFrameEngine{handlers: make(map[byte]HandlerFunc)}
}

func (f *fakeFrameEngine) RegisterHandler(fc byte, h HandlerFunc) { f.handlers[fc] = h }
func (f *fakeFrameEngine) Poll() error                            { return nil }
func (f *fakeFrameEngine) ReadRegisterFromBuffer(i int) uint16    { return f.regs[i] }
func (f *fakeFrameEngine) WriteRegisterToBuffer(i int, v uint16)  { f.regs[i] = v }
func (f *fakeFrameEngine) ReadCoilFromBuffer(i int) bool          { return f.coils[i] }
func (f *fakeFrameEngine) WriteCoilToBuffer(i int, v bool)        { f.coils[i] = v }

// fakeClock is a manually advanced Clock double.
type fakeClock struct {
	now Millis
}

func (c *fakeClock) Millis() Millis { return c.now }
func (c *fakeClock) advance(d Millis) { c.now += d }

// fakeApp is an Application double that records every notification and
// serves a tiny backing store for holding registers/coils so config-window
// forwarding can be exercised end to end.
type fakeApp struct {
	BaseApplication

	holdingRegs [8]uint16
	coils       [8]bool

	lostCount          int
	reestablishedCount int

	failsafePulses []failsafePulse
}

type failsafePulse struct {
	phase     bool
	mask      uint16
	safeState uint16
}

func (a *fakeApp) AccessHoldingRegisters(write bool, address, quantity uint16) modbus.Exception {
	if int(address)+int(quantity) > len(a.holdingRegs) {
		return modbus.ExceptionIllegalDataAddress
	}
	return modbus.ExceptionOK
}

func (a *fakeApp) AccessCoils(write bool, address, quantity uint16) modbus.Exception {
	if int(address)+int(quantity) > len(a.coils) {
		return modbus.ExceptionIllegalDataAddress
	}
	return modbus.ExceptionOK
}

func (a *fakeApp) CommunicationLost()          { a.lostCount++ }
func (a *fakeApp) CommunicationReestablished() { a.reestablishedCount++ }

func (a *fakeApp) DriveFailsafeCoils(phase bool, mask, safeState uint16) {
	a.failsafePulses = append(a.failsafePulses, failsafePulse{phase, mask, safeState})
}

func newTestKernel(t *testing.T) (*Kernel, *fakeStore, *fakeFrameEngine, *fakeClock, *fakeApp) {
	t.Helper()
	store := &fakeStore{}
	fe := newFakeFrameEngine()
	clock := &fakeClock{}
	app := &fakeApp{}

	k, err := New(Deps{Store: store, FrameEngine: fe, Clock: clock, Application: app})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !k.DefaultsRequired() {
		t.Fatalf("expected DefaultsRequired on a blank store")
	}
	if err := k.WriteDefaults(make([]byte, HeaderSize)); err != nil {
		t.Fatalf("WriteDefaults: %v", err)
	}
	return k, store, fe, clock, app
}

func TestNewRequiresAllCollaborators(t *testing.T) {
	store := &fakeStore{}
	fe := newFakeFrameEngine()
	clock := &fakeClock{}
	app := &fakeApp{}

	if _, err := New(Deps{FrameEngine: fe, Clock: clock, Application: app}); err == nil {
		t.Fatalf("expected error with nil Store")
	}
	if _, err := New(Deps{Store: store, Clock: clock, Application: app}); err == nil {
		t.Fatalf("expected error with nil FrameEngine")
	}
	if _, err := New(Deps{Store: store, FrameEngine: fe, Application: app}); err == nil {
		t.Fatalf("expected error with nil Clock")
	}
	if _, err := New(Deps{Store: store, FrameEngine: fe, Clock: clock}); err == nil {
		t.Fatalf("expected error with nil Application")
	}
}

func TestDefaultsRequiredOnBlankStore(t *testing.T) {
	store := &fakeStore{}
	fe := newFakeFrameEngine()
	clock := &fakeClock{}
	app := &fakeApp{}

	k, err := New(Deps{Store: store, FrameEngine: fe, Clock: clock, Application: app})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !k.DefaultsRequired() {
		t.Fatalf("expected DefaultsRequired true on blank store")
	}
}

func TestWriteDefaultsPersistsAndClearsDefaultsRequired(t *testing.T) {
	k, store, _, _, _ := newTestKernel(t)
	if k.DefaultsRequired() {
		t.Fatalf("expected DefaultsRequired false after WriteDefaults")
	}
	if len(store.buf) < HeaderSize {
		t.Fatalf("expected persisted header, got %d bytes", len(store.buf))
	}

	// A second kernel booted from the same store should see valid
	// defaults, not require them again.
	fe2 := newFakeFrameEngine()
	clock2 := &fakeClock{}
	app2 := &fakeApp{}
	k2, err := New(Deps{Store: store, FrameEngine: fe2, Clock: clock2, Application: app2})
	if err != nil {
		t.Fatalf("New (reboot): %v", err)
	}
	if k2.DefaultsRequired() {
		t.Fatalf("expected DefaultsRequired false after reboot from persisted defaults")
	}
}

func TestHoldingRegisterRequestOutsideWindowForwardsToApplication(t *testing.T) {
	_, _, fe, _, _ := newTestKernel(t)
	h := fe.handlers[modbus.FuncCodeReadHoldingRegisters]
	if exc := h(0, 4); !exc.OK() {
		t.Fatalf("expected forwarded read to succeed, got %v", exc)
	}
	if exc := h(5, 10); exc.OK() {
		t.Fatalf("expected forwarded read past app's table to fail")
	}
}

func TestHoldingRegisterRequestInsideWindowIsIntercepted(t *testing.T) {
	k, _, fe, _, app := newTestKernel(t)
	_ = k
	h := fe.handlers[modbus.FuncCodeReadHoldingRegisters]
	if exc := h(ConfigWindowBase, 4); !exc.OK() {
		t.Fatalf("expected config window read to succeed, got %v", exc)
	}
	// A routine window read fires no watchdog notification; the mirror
	// values checked below, which the application never writes, show the
	// kernel served the read.
	if app.lostCount != 0 || app.reestablishedCount != 0 {
		t.Fatalf("unexpected app notifications from a routine window read")
	}
	if fe.regs[0] != 1 { // default slave id
		t.Fatalf("expected default slave id 1 in slot 0, got %d", fe.regs[0])
	}
	if fe.regs[1] != 9600 { // default baud rate
		t.Fatalf("expected default baud rate 9600 in slot 1, got %d", fe.regs[1])
	}
}

func TestConfigWindowPartialOverlapRejected(t *testing.T) {
	_, _, fe, _, _ := newTestKernel(t)
	h := fe.handlers[modbus.FuncCodeReadHoldingRegisters]
	// [0xFE, 0x102) straddles the window boundary (base 0x100, 4 regs);
	// address itself is outside the window so it forwards to the
	// application, whose table only covers [0,8) — IllegalDataAddress.
	if exc := h(ConfigWindowBase-2, 4); exc.OK() {
		t.Fatalf("expected straddling request starting before the window to be rejected by the app")
	}
	// A request starting inside the window but running past it must be
	// rejected outright, never partially served.
	if exc := h(ConfigWindowBase+2, 4); exc.OK() {
		t.Fatalf("expected straddling request starting inside the window to be rejected")
	}
}

func TestWriteConfigWindowPersistsHeaderAcrossReboot(t *testing.T) {
	k, store, fe, _, _ := newTestKernel(t)
	before := len(store.buf)
	writeH := fe.handlers[modbus.FuncCodeWriteMultipleRegisters]

	fe.regs[0] = 42 // new slave id
	if exc := writeH(ConfigWindowBase+regSlaveID, 1); !exc.OK() {
		t.Fatalf("expected config window write to succeed, got %v", exc)
	}
	if k.cm.header.SlaveID != 42 {
		t.Fatalf("expected header slave id updated to 42, got %d", k.cm.header.SlaveID)
	}
	if len(store.buf) < before {
		t.Fatalf("expected persisted store to retain at least its previous size")
	}

	// Reboot and confirm the new slave id took effect.
	fe2 := newFakeFrameEngine()
	clock2 := &fakeClock{}
	app2 := &fakeApp{}
	k2, err := New(Deps{Store: store, FrameEngine: fe2, Clock: clock2, Application: app2})
	if err != nil {
		t.Fatalf("New (reboot): %v", err)
	}
	if k2.cw.mirror[regSlaveID] != 42 {
		t.Fatalf("expected slave id 42 to survive reboot, got %d", k2.cw.mirror[regSlaveID])
	}
}

func TestWriteConfigWindowPersistFailureReturnsSlaveDeviceFailure(t *testing.T) {
	store := &fakeStore{}
	fe := newFakeFrameEngine()
	clock := &fakeClock{}
	app := &fakeApp{}
	k, err := New(Deps{Store: store, FrameEngine: fe, Clock: clock, Application: app})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.WriteDefaults(make([]byte, HeaderSize)); err != nil {
		t.Fatalf("WriteDefaults: %v", err)
	}

	store.failWrite = true
	writeH := fe.handlers[modbus.FuncCodeWriteSingleRegister]
	fe.regs[0] = 7
	if exc := writeH(ConfigWindowBase+regSlaveID, 1); exc != modbus.ExceptionSlaveDeviceFailure {
		t.Fatalf("expected ExceptionSlaveDeviceFailure on persist failure, got %v", exc)
	}
}

func TestRebootRequestDeferredToNextPoll(t *testing.T) {
	k, _, fe, _, _ := newTestKernel(t)
	writeH := fe.handlers[modbus.FuncCodeWriteSingleRegister]

	fe.regs[0] = rebootSentinel
	if exc := writeH(ConfigWindowBase+regRebootRequest, 1); !exc.OK() {
		t.Fatalf("expected reboot request write to succeed, got %v", exc)
	}
	if !k.rebootPending {
		t.Fatalf("expected rebootPending to be set immediately after the write")
	}

	var rebooted bool
	k.rebootHook = func() { rebooted = true }
	if err := k.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !rebooted {
		t.Fatalf("expected reboot hook to fire on the next poll")
	}
	if k.rebootPending {
		t.Fatalf("expected rebootPending cleared after firing")
	}
}

func TestRebootRequestRegisterIsEphemeral(t *testing.T) {
	_, _, fe, _, _ := newTestKernel(t)
	readH := fe.handlers[modbus.FuncCodeReadHoldingRegisters]
	writeH := fe.handlers[modbus.FuncCodeWriteSingleRegister]

	fe.regs[0] = 123 // not the sentinel
	if exc := writeH(ConfigWindowBase+regRebootRequest, 1); !exc.OK() {
		t.Fatalf("write: %v", exc)
	}
	if exc := readH(ConfigWindowBase+regRebootRequest, 1); !exc.OK() {
		t.Fatalf("read: %v", exc)
	}
	if fe.regs[0] != 0 {
		t.Fatalf("expected reboot-request register to read back as 0, got %d", fe.regs[0])
	}
}

func TestEnableCallbackGatesDisabledSlots(t *testing.T) {
	_, _, fe, _, _ := newTestKernel(t)

	readCoils := fe.handlers[modbus.FuncCodeReadCoils]
	if readCoils == nil {
		t.Fatalf("expected a read-coils handler to be registered even when the slot is disabled")
	}
	if exc := readCoils(0, 1); exc != modbus.ExceptionIllegalFunction {
		t.Fatalf("expected ExceptionIllegalFunction before EnableCallback, got %v", exc)
	}
}

func TestEnableCallbackForwardsOnceEnabled(t *testing.T) {
	k, _, fe, _, app := newTestKernel(t)
	k.EnableCallback(CBReadCoils)

	readCoils := fe.handlers[modbus.FuncCodeReadCoils]
	if exc := readCoils(0, 1); !exc.OK() {
		t.Fatalf("expected forwarded read to succeed, got %v", exc)
	}
	if exc := readCoils(100, 1); exc.OK() {
		t.Fatalf("expected out-of-range coil read to fail")
	}
	_ = app
}

func TestEnableCallbackOnHoldingRegistersIsNoOp(t *testing.T) {
	k, _, fe, _, _ := newTestKernel(t)
	if fe.handlers[modbus.FuncCodeReadHoldingRegisters] == nil {
		t.Fatalf("expected holding-register handler registered by New")
	}
	k.EnableCallback(CBReadHoldingRegisters)
	h := fe.handlers[modbus.FuncCodeReadHoldingRegisters]
	if h == nil {
		t.Fatalf("expected handler to remain registered")
	}
	// Holding registers are always enabled; a window read must still work.
	if exc := h(ConfigWindowBase, 1); !exc.OK() {
		t.Fatalf("expected window read to still succeed: %v", exc)
	}
}

func TestWatchdogFiresCommunicationLostAfterTimeout(t *testing.T) {
	k, _, fe, clock, app := newTestKernel(t)
	writeH := fe.handlers[modbus.FuncCodeWriteSingleRegister]

	fe.regs[0] = 100 // comm timeout ms
	if exc := writeH(ConfigWindowBase+regCommTimeout, 1); !exc.OK() {
		t.Fatalf("write comm timeout: %v", exc)
	}
	// CommTimeout only takes effect on reboot; rebuild the kernel the way
	// a real power cycle would, from the persisted header.
	store := k.store
	fe2 := newFakeFrameEngine()
	clock2 := &fakeClock{}
	app2 := &fakeApp{}
	k2, err := New(Deps{Store: store, FrameEngine: fe2, Clock: clock2, Application: app2})
	if err != nil {
		t.Fatalf("New (reboot): %v", err)
	}

	if err := k2.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if app2.lostCount != 0 {
		t.Fatalf("expected no alarm before the timeout elapses")
	}

	clock2.advance(150)
	if err := k2.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if app2.lostCount != 1 {
		t.Fatalf("expected exactly one CommunicationLost notification, got %d", app2.lostCount)
	}

	// The alarm must not re-fire on subsequent polls.
	clock2.advance(1000)
	if err := k2.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if app2.lostCount != 1 {
		t.Fatalf("expected alarm to latch, got %d lost notifications", app2.lostCount)
	}

	_ = clock
	_ = app
}

func TestWatchdogReestablishesOnTimeoutRegisterRead(t *testing.T) {
	store := &fakeStore{}
	fe := newFakeFrameEngine()
	clock := &fakeClock{}
	app := &fakeApp{}
	k, err := New(Deps{Store: store, FrameEngine: fe, Clock: clock, Application: app})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.WriteDefaults(make([]byte, HeaderSize)); err != nil {
		t.Fatalf("WriteDefaults: %v", err)
	}

	writeH := fe.handlers[modbus.FuncCodeWriteSingleRegister]
	fe.regs[0] = 100
	if exc := writeH(ConfigWindowBase+regCommTimeout, 1); !exc.OK() {
		t.Fatalf("write comm timeout: %v", exc)
	}
	fe2 := newFakeFrameEngine()
	clock2 := &fakeClock{}
	app2 := &fakeApp{}
	k2, err := New(Deps{Store: store, FrameEngine: fe2, Clock: clock2, Application: app2})
	if err != nil {
		t.Fatalf("New (reboot): %v", err)
	}

	clock2.advance(150)
	if err := k2.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if app2.lostCount != 1 {
		t.Fatalf("expected comm lost, got %d", app2.lostCount)
	}

	readH := fe2.handlers[modbus.FuncCodeReadHoldingRegisters]
	if exc := readH(ConfigWindowBase+regCommTimeout, 1); !exc.OK() {
		t.Fatalf("read comm timeout: %v", exc)
	}
	if app2.reestablishedCount != 1 {
		t.Fatalf("expected exactly one CommunicationReestablished, got %d", app2.reestablishedCount)
	}

	// Reading it again without a further gap must not double-fire.
	if exc := readH(ConfigWindowBase+regCommTimeout, 1); !exc.OK() {
		t.Fatalf("read comm timeout again: %v", exc)
	}
	if app2.reestablishedCount != 1 {
		t.Fatalf("expected reestablished count to stay at 1, got %d", app2.reestablishedCount)
	}
}

func TestWatchdogDisabledWhenTimeoutIsZero(t *testing.T) {
	k, _, _, clock, app := newTestKernel(t)
	clock.advance(100000)
	if err := k.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if app.lostCount != 0 {
		t.Fatalf("expected watchdog disabled by default (timeout 0), got %d lost notifications", app.lostCount)
	}
}

func TestFailsafeDisabledByDefault(t *testing.T) {
	k, _, _, _, app := newTestKernel(t)
	k.PulseFailsafeCoils(true, 0x01, 0)
	if len(app.failsafePulses) != 0 {
		t.Fatalf("expected no pulses forwarded before EnableFailsafe")
	}
	if k.FailsafeMask() != 0 {
		t.Fatalf("expected FailsafeMask 0 before EnableFailsafe")
	}
}

func TestFailsafePulseForwardsAndCachesMask(t *testing.T) {
	k, _, _, _, app := newTestKernel(t)
	k.EnableFailsafe()

	k.PulseFailsafeCoils(true, 0x03, 0xFF)
	if len(app.failsafePulses) != 1 {
		t.Fatalf("expected one pulse forwarded, got %d", len(app.failsafePulses))
	}
	got := app.failsafePulses[0]
	if got.phase != true || got.mask != 0x03 || got.safeState != 0xFF {
		t.Fatalf("unexpected pulse: %+v", got)
	}
	if k.FailsafeMask() != 0x03 {
		t.Fatalf("expected cached mask 0x03, got 0x%x", k.FailsafeMask())
	}

	k.PulseFailsafeCoils(false, 0x01, 0x00)
	if k.FailsafeMask() != 0x01 {
		t.Fatalf("expected cached mask updated to 0x01, got 0x%x", k.FailsafeMask())
	}
}

func TestPollOrdersRebootBeforeWatchdog(t *testing.T) {
	k, _, fe, clock, app := newTestKernel(t)
	writeH := fe.handlers[modbus.FuncCodeWriteSingleRegister]
	fe.regs[0] = 50
	if exc := writeH(ConfigWindowBase+regCommTimeout, 1); !exc.OK() {
		t.Fatalf("write comm timeout: %v", exc)
	}
	// CommTimeout takes effect only after reboot; arm it directly on this
	// kernel's watchdog to test poll ordering without a second New call.
	k.wd.setTimeout(clock.Millis(), 50)

	fe.regs[0] = rebootSentinel
	if exc := writeH(ConfigWindowBase+regRebootRequest, 1); !exc.OK() {
		t.Fatalf("write reboot request: %v", exc)
	}

	clock.advance(1000) // well past the watchdog timeout too
	rebooted := false
	k.rebootHook = func() { rebooted = true }
	if err := k.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !rebooted {
		t.Fatalf("expected reboot to fire")
	}
	if app.lostCount != 0 {
		t.Fatalf("expected the reboot branch to return before evaluating the watchdog, got %d lost notifications", app.lostCount)
	}
}
