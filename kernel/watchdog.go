// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

// watchdog implements the communication-lost/reestablished state
// machine. It is enabled iff its configured timeout is nonzero.
//
// Grounded on the original kernel's _communicationLost/_communicationLostTimer
// fields and the setTimeout/checkTimeout macro calls around them
// (original_source/src/SlaveRtuKernelClass.cpp, poll() and
// _readConfigRegs()).
type watchdog struct {
	timeoutMS   uint16
	deadline    Timer
	alarmRaised bool
}

func newWatchdog(now Millis, timeoutMS uint16) watchdog {
	w := watchdog{timeoutMS: timeoutMS}
	if w.enabled() {
		w.deadline.Set(now, Millis(timeoutMS))
	}
	return w
}

func (w *watchdog) enabled() bool {
	return w.timeoutMS > 0
}

// setTimeout reconfigures the watchdog's timeout, effective immediately
// (unlike the kernel config window's SlaveID/BaudRate/CommTimeout mirror
// writes, which only take effect after a reboot). The kernel itself does
// not call it: New and WriteDefaults build the watchdog from the header
// with newWatchdog.
func (w *watchdog) setTimeout(now Millis, timeoutMS uint16) {
	w.timeoutMS = timeoutMS
	w.alarmRaised = false
	if w.enabled() {
		w.deadline.Set(now, Millis(timeoutMS))
	}
}

// onPoll evaluates the deadline and returns true exactly once per
// alarm-raising transition, signalling the caller to fire the
// "communication lost" notification.
func (w *watchdog) onPoll(now Millis) (lost bool) {
	if !w.enabled() || w.alarmRaised {
		return false
	}
	if w.deadline.Check(now) {
		w.alarmRaised = true
		return true
	}
	return false
}

// onTimeoutRegisterRead re-arms the deadline and returns true exactly
// once per alarm-clearing transition, signalling the caller to fire the
// "communication reestablished" notification. Called whenever the master
// reads the CommTimeout configuration register, which doubles as the
// watchdog heartbeat.
func (w *watchdog) onTimeoutRegisterRead(now Millis) (reestablished bool) {
	if !w.enabled() {
		return false
	}
	w.deadline.Set(now, Millis(w.timeoutMS))
	if w.alarmRaised {
		w.alarmRaised = false
		return true
	}
	return false
}
