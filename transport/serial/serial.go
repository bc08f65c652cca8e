// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial provides a transport.Port backed by an RS-485/RS-232
// serial line, via github.com/grid-x/serial.
//
// Grounded on the serialPort type in github.com/ffutop/modbus-gateway's
// transport/rtu/serial.go, trimmed down from its idle-close-timer/
// reconnect machinery (useful for a gateway juggling many downstream
// slaves, not for a kernel that owns its one bus for the process
// lifetime) to a single Open call whose returned Port is used directly
// by a frameengine.Engine.
package serial

import (
	"fmt"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// Config mirrors the fields of github.com/ffutop/modbus-gateway's
// internal/config.SerialConfig that matter to a slave-side RTU line:
// baud rate, framing, and the
// RS-485 direction-control knobs grid-x/serial exposes for half-duplex
// transceivers.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits int
	Timeout  time.Duration

	RS485              bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

// Port wraps an open serial line, serializing concurrent Read/Write
// calls with a mutex in case the embedding application polls the
// kernel from more than one goroutine.
type Port struct {
	mu   sync.Mutex
	port serial.Port
}

// Open opens cfg.Device with the given framing and, if cfg.RS485 is
// set, configures grid-x/serial's RS485 struct so the line's direction
// pin is toggled around each transmission automatically.
func Open(cfg Config) (*Port, error) {
	sc := &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		Timeout:  cfg.Timeout,
	}
	if cfg.RS485 {
		sc.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}

	p, err := serial.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &Port{port: p}, nil
}

func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Read(buf)
}

func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Write(buf)
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}
