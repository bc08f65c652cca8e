// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command kerneld runs the Modbus RTU slave kernel as a standalone
// daemon: a generic register file for application data, backed by
// whichever persistence config selects, served over one serial line.
//
// Grounded on the root main.go/gateway.go entrypoint of
// github.com/ffutop/modbus-gateway (argument parsing via pflag/viper
// through the config package, slog setup, signal-driven shutdown),
// adapted from gateway routing across many upstreams/downstreams down
// to the one kernel instance this binary owns.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-rtu-kernel/config"
	"github.com/ffutop/modbus-rtu-kernel/frameengine"
	"github.com/ffutop/modbus-rtu-kernel/kernel"
	"github.com/ffutop/modbus-rtu-kernel/modbus"
	"github.com/ffutop/modbus-rtu-kernel/registerfile"
	"github.com/ffutop/modbus-rtu-kernel/store"
	"github.com/ffutop/modbus-rtu-kernel/transport/serial"
)

const (
	numCoils          = 64
	numDiscreteInputs = 64
	numHoldingRegs    = 64
	numInputRegs      = 64
)

// genericApp exposes a fixed-size register file for each of the four
// Modbus tables. It has no domain logic of its own; kerneld is meant
// for bring-up and interoperability testing against a real master, not
// as a template for a real device.
type genericApp struct {
	kernel.BaseApplication

	fe       kernel.FrameEngine
	coils    *registerfile.File
	discrete *registerfile.File
	holding  *registerfile.File
	input    *registerfile.File
}

func newGenericApp(fe kernel.FrameEngine) *genericApp {
	return &genericApp{
		fe:       fe,
		coils:    registerfile.NewBitFile(0, numCoils),
		discrete: registerfile.NewBitFile(0, numDiscreteInputs),
		holding:  registerfile.NewRegisterFile(0, numHoldingRegs),
		input:    registerfile.NewRegisterFile(0, numInputRegs),
	}
}

func (a *genericApp) AccessCoils(write bool, address, quantity uint16) modbus.Exception {
	return a.coils.Access(a.fe, write, address, quantity)
}

func (a *genericApp) AccessDiscreteInputs(write bool, address, quantity uint16) modbus.Exception {
	return a.discrete.Access(a.fe, write, address, quantity)
}

func (a *genericApp) AccessHoldingRegisters(write bool, address, quantity uint16) modbus.Exception {
	return a.holding.Access(a.fe, write, address, quantity)
}

func (a *genericApp) AccessInputRegisters(write bool, address, quantity uint16) modbus.Exception {
	return a.input.Access(a.fe, write, address, quantity)
}

func run() error {
	config.RegisterFlags()
	slaveID := pflag.IntP("slave-id", "i", 1, "Modbus RTU slave address")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("kerneld: load config: %w", err)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	var logWriter = os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("kerneld: open log file: %w", err)
		}
		defer f.Close()
		logWriter = f
	}
	log := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	port, err := serial.Open(serial.Config{
		Device:             cfg.Serial.Device,
		BaudRate:           cfg.Serial.BaudRate,
		DataBits:           cfg.Serial.DataBits,
		Parity:             cfg.Serial.Parity,
		StopBits:           cfg.Serial.StopBits,
		Timeout:            cfg.Serial.Timeout,
		RS485:              cfg.Serial.RS485,
		DelayRtsBeforeSend: cfg.Serial.DelayRtsBeforeSend,
		DelayRtsAfterSend:  cfg.Serial.DelayRtsAfterSend,
		RtsHighDuringSend:  cfg.Serial.RtsHighDuringSend,
		RtsHighAfterSend:   cfg.Serial.RtsHighAfterSend,
		RxDuringTx:         cfg.Serial.RxDuringTx,
	})
	if err != nil {
		return fmt.Errorf("kerneld: open serial port: %w", err)
	}
	defer port.Close()

	kernelStore, closer, err := openStore(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("kerneld: open store: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	fe := frameengine.New(port, byte(*slaveID), log)
	app := newGenericApp(fe)

	k, err := kernel.New(kernel.Deps{
		Store:       kernelStore,
		FrameEngine: fe,
		Clock:       wallClock{},
		Application: app,
		RebootHook:  func() { log.Warn("kerneld: reboot requested, exiting process") ; os.Exit(0) },
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("kerneld: init kernel: %w", err)
	}
	if k.DefaultsRequired() {
		log.Info("kerneld: writing first-boot defaults")
		if err := k.WriteDefaults(make([]byte, kernel.HeaderSize)); err != nil {
			return fmt.Errorf("kerneld: write defaults: %w", err)
		}
	}

	k.EnableCallback(kernel.CBReadCoils)
	k.EnableCallback(kernel.CBWriteCoils)
	k.EnableCallback(kernel.CBReadDiscreteInputs)
	k.EnableCallback(kernel.CBReadInputRegisters)
	k.EnableCallback(kernel.CBReadHoldingRegisters)
	k.EnableCallback(kernel.CBWriteHoldingRegisters)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	log.Info("kerneld: serving", "device", cfg.Serial.Device, "slave_id", *slaveID)
	for {
		select {
		case <-sig:
			log.Info("kerneld: shutting down")
			return nil
		case <-poll.C:
			if err := k.Poll(); err != nil {
				log.Error("kerneld: poll", "err", err)
			}
		}
	}
}

func openStore(cfg config.PersistenceConfig) (kernel.Store, store.Closer, error) {
	switch cfg.Type {
	case "", "memory":
		return store.NewMemory(nil), nil, nil
	case "file":
		s, err := store.NewFile(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "mmap":
		s, err := store.NewMmap(cfg.Path, kernel.HeaderSize+4096)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("kerneld: unknown persistence type %q", cfg.Type)
	}
}

type wallClock struct{}

func (wallClock) Millis() kernel.Millis {
	return kernel.Millis(time.Now().UnixMilli())
}

func main() {
	if err := run(); err != nil {
		slog.Error("kerneld: fatal", "err", err)
		os.Exit(1)
	}
}
