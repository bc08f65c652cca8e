// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package registerfile provides a flat, bounds-checked in-memory
// register file that a concrete kernel.Application can embed for its
// own (non-configuration-window) coils/discrete-inputs/holding/input
// registers, plus an Application helper that wires it straight into a
// kernel.FrameEngine's scratch buffer.
//
// Adapted from internal/local-slave/model.DataModel and
// internal/local-slave.LocalSlave in github.com/ffutop/modbus-gateway,
// trimmed from a 65536-entry-per-table
// gateway-wide model (sized for routing arbitrary master requests) down
// to an application-sized, explicitly-bounded table, since a concrete
// embedded application owns a handful of registers, not the whole
// address space.
package registerfile

import "github.com/ffutop/modbus-rtu-kernel/modbus"

// File is a fixed-size table of one entity kind (coils, discrete
// inputs, holding registers, or input registers), addressed from a
// caller-supplied base so it can be mounted at a sub-range of the
// Modbus address space.
type File struct {
	base uint16
	bits []byte   // used for coil/discrete-input tables
	regs []uint16 // used for register tables
}

// NewBitFile returns a File of count coils/discrete-inputs starting at
// base.
func NewBitFile(base uint16, count int) *File {
	return &File{base: base, bits: make([]byte, count)}
}

// NewRegisterFile returns a File of count 16-bit registers starting at
// base.
func NewRegisterFile(base uint16, count int) *File {
	return &File{base: base, regs: make([]uint16, count)}
}

func (f *File) count() int {
	if f.bits != nil {
		return len(f.bits)
	}
	return len(f.regs)
}

// bounds translates a wire address/quantity pair into a base-relative
// range, rejecting anything not wholly contained in the table.
func (f *File) bounds(address, quantity uint16) (start, end int, exc modbus.Exception) {
	if address < f.base {
		return 0, 0, modbus.ExceptionIllegalDataAddress
	}
	start = int(address - f.base)
	end = start + int(quantity)
	if end > f.count() {
		return 0, 0, modbus.ExceptionIllegalDataAddress
	}
	return start, end, modbus.ExceptionOK
}

// Bit returns the i-th coil/discrete-input (base-relative).
func (f *File) Bit(i int) bool { return f.bits[i] != 0 }

// SetBit sets the i-th coil/discrete-input (base-relative).
func (f *File) SetBit(i int, v bool) {
	if v {
		f.bits[i] = 1
	} else {
		f.bits[i] = 0
	}
}

// Reg returns the i-th register (base-relative).
func (f *File) Reg(i int) uint16 { return f.regs[i] }

// SetReg sets the i-th register (base-relative).
func (f *File) SetReg(i int, v uint16) { f.regs[i] = v }

// Buffer is the subset of kernel.FrameEngine a File needs to move
// values to and from the wire; kernel.FrameEngine satisfies it.
type Buffer interface {
	ReadRegisterFromBuffer(i int) uint16
	WriteRegisterToBuffer(i int, v uint16)
	ReadCoilFromBuffer(i int) bool
	WriteCoilToBuffer(i int, v bool)
}

// Access implements one kernel.Application accessor method body: on a
// read it copies the table into buf starting at i; on a write it
// copies buf into the table. It is the same shape as
// kernel.Application.AccessCoils et al. so a concrete Application can
// write, e.g.:
//
//	func (a *myApp) AccessCoils(write bool, address, quantity uint16) modbus.Exception {
//	        return a.coils.Access(a.fe, write, address, quantity)
//	}
func (f *File) Access(buf Buffer, write bool, address, quantity uint16) modbus.Exception {
	start, end, exc := f.bounds(address, quantity)
	if !exc.OK() {
		return exc
	}
	for i := start; i < end; i++ {
		j := i - start
		if f.bits != nil {
			if write {
				f.SetBit(i, buf.ReadCoilFromBuffer(j))
			} else {
				buf.WriteCoilToBuffer(j, f.Bit(i))
			}
			continue
		}
		if write {
			f.SetReg(i, buf.ReadRegisterFromBuffer(j))
		} else {
			buf.WriteRegisterToBuffer(j, f.Reg(i))
		}
	}
	return modbus.ExceptionOK
}
