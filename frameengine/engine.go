// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package frameengine implements kernel.FrameEngine over an RTU byte
// stream: frame scanning, CRC16 validation, PDU decode/encode, and a
// per-request scratch buffer the kernel's dispatch handlers read and
// write through.
//
// Grounded on transport/rtu/server.go (Server.scanLoop,
// calculateRequestLength) and transport/rtu/adu.go in
// github.com/ffutop/modbus-gateway
// (ApplicationDataUnit.Encode/Decode/Verify), reworked from a
// goroutine-per-request upstream server into a single synchronous
// Poll call — the kernel has no dispatcher to hand frames off to, so
// there is nothing to run concurrently with the handler invocation.
package frameengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-rtu-kernel/kernel"
	"github.com/ffutop/modbus-rtu-kernel/modbus"
	"github.com/ffutop/modbus-rtu-kernel/modbus/crc"
	"github.com/ffutop/modbus-rtu-kernel/transport"
)

// maxADU is the largest RTU application data unit: 1 (address) + 253
// (PDU) + 2 (CRC).
const maxADU = 256

// errNoFrame is returned internally when a Poll call's read timed out
// without assembling a complete frame; it is not surfaced to the
// caller, since "nothing arrived this poll" is the normal case.
var errNoFrame = errors.New("frameengine: no frame")

// Engine is a concrete kernel.FrameEngine backed by a transport.Port.
type Engine struct {
	port    transport.Port
	slaveID byte
	log     *slog.Logger

	handlers map[byte]kernel.HandlerFunc

	readBuf []byte
	scratch []byte
	isCoil  bool
}

// New constructs an Engine that only answers requests addressed to
// slaveID. A configuration-window write to the slave-ID register takes
// effect only on the next boot (see kernel.Kernel's configuration
// window), so retargeting means tearing down and recreating the Engine
// with the new address, not mutating one in place.
func New(port transport.Port, slaveID byte, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		port:     port,
		slaveID:  slaveID,
		log:      log,
		handlers: make(map[byte]kernel.HandlerFunc),
		readBuf:  make([]byte, maxADU),
	}
}

func (e *Engine) RegisterHandler(fc byte, h kernel.HandlerFunc) {
	e.handlers[fc] = h
}

// Poll reads at most one frame from the port and, if it is addressed
// to this slave, well-formed, and CRC-valid, dispatches it to the
// registered handler and writes the response. A read timeout, a
// malformed frame, or a frame addressed to another slave are all
// silently absorbed — none of them is an error worth stopping the
// kernel's poll loop for.
func (e *Engine) Poll() error {
	n, err := e.readFrame()
	if err != nil {
		if errors.Is(err, errNoFrame) {
			return nil
		}
		return err
	}
	e.handleFrame(e.readBuf[:n])
	return nil
}

// readFrame reads one candidate ADU into e.readBuf, using the same
// incremental header-then-body strategy as Server.scanLoop: read the
// fixed-size header first, use it to compute the frame's total length,
// then read the remainder.
func (e *Engine) readFrame() (int, error) {
	buf := e.readBuf

	n, err := e.port.Read(buf[:1])
	if err != nil || n == 0 {
		return 0, errNoFrame
	}

	const headerLen = 7
	current := 1
	for current < headerLen {
		n, err := e.port.Read(buf[current:headerLen])
		if err != nil || n == 0 {
			break
		}
		current += n
	}
	if current < 2 {
		return 0, errNoFrame
	}

	total, err := calculateRequestLength(buf[1], buf[:current])
	if err != nil || total > len(buf) {
		return 0, errNoFrame
	}

	for current < total {
		n, err := e.port.Read(buf[current:total])
		if err != nil || n == 0 {
			break
		}
		current += n
	}
	if current != total {
		return 0, errNoFrame
	}
	return total, nil
}

// calculateRequestLength returns the expected total ADU length given
// the function code and however much of the header has been read so
// far. Ported from calculateRequestLength in
// github.com/ffutop/modbus-gateway's transport/rtu/server.go,
// generalized to the function codes a slave kernel actually serves.
func calculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if len(header) < 7 {
			return 0, fmt.Errorf("frameengine: need 7 bytes to size 0x%02x request, got %d", funcCode, len(header))
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("frameengine: unsupported function code 0x%02x", funcCode)
	}
}

// handleFrame validates adu's CRC and address, dispatches it to the
// registered handler, and writes the response (normal or exception).
func (e *Engine) handleFrame(adu []byte) {
	length := len(adu)
	if length < 4 {
		return
	}

	var c crc.CRC
	c.Reset().PushBytes(adu[:length-2])
	want := c.Value()
	got := uint16(adu[length-1])<<8 | uint16(adu[length-2])
	if want != got {
		e.log.Debug("frameengine: crc mismatch, discarding frame")
		return
	}

	if adu[0] != e.slaveID {
		return
	}

	funcCode := adu[1]
	pdu := adu[2 : length-2]

	handler, ok := e.handlers[funcCode]
	if !ok {
		e.writeException(funcCode, modbus.ExceptionIllegalFunction)
		return
	}

	address := binary.BigEndian.Uint16(pdu[0:2])

	var quantity uint16
	switch funcCode {
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		quantity = 1
	default:
		quantity = binary.BigEndian.Uint16(pdu[2:4])
	}

	e.isCoil = funcCode == modbus.FuncCodeReadCoils || funcCode == modbus.FuncCodeReadDiscreteInputs ||
		funcCode == modbus.FuncCodeWriteSingleCoil || funcCode == modbus.FuncCodeWriteMultipleCoils
	e.loadScratch(funcCode, pdu, quantity)

	exc := handler(address, quantity)
	if !exc.OK() {
		e.writeException(funcCode, exc)
		return
	}
	e.writeResponse(funcCode, pdu, address, quantity)
}

// loadScratch populates e.scratch from the request PDU for write
// requests, so the handler can pull values out with
// ReadRegisterFromBuffer/ReadCoilFromBuffer. For read requests it only
// sizes the buffer; the handler fills it via the Write*ToBuffer
// methods.
func (e *Engine) loadScratch(funcCode byte, pdu []byte, quantity uint16) {
	switch funcCode {
	case modbus.FuncCodeWriteSingleRegister:
		e.scratch = append(e.scratch[:0], pdu[2], pdu[3])
	case modbus.FuncCodeWriteSingleCoil:
		e.scratch = append(e.scratch[:0], boolToByte(pdu[2] == 0xFF))
	case modbus.FuncCodeWriteMultipleRegisters:
		e.scratch = append(e.scratch[:0], pdu[5:]...)
	case modbus.FuncCodeWriteMultipleCoils:
		packed := pdu[5:]
		e.scratch = e.scratch[:0]
		for i := 0; i < int(quantity); i++ {
			byteIdx, bitIdx := i/8, i%8
			bit := packed[byteIdx]&(1<<bitIdx) != 0
			e.scratch = append(e.scratch, boolToByte(bit))
		}
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		e.scratch = make([]byte, int(quantity)*2)
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		e.scratch = make([]byte, int(quantity))
	}
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ReadRegisterFromBuffer returns the i-th 16-bit value the master sent
// in a write request.
func (e *Engine) ReadRegisterFromBuffer(i int) uint16 {
	return binary.BigEndian.Uint16(e.scratch[i*2 : i*2+2])
}

// WriteRegisterToBuffer stores the i-th 16-bit value a handler wants
// returned in a read response.
func (e *Engine) WriteRegisterToBuffer(i int, v uint16) {
	binary.BigEndian.PutUint16(e.scratch[i*2:i*2+2], v)
}

// ReadCoilFromBuffer returns the i-th coil value the master sent in a
// write request.
func (e *Engine) ReadCoilFromBuffer(i int) bool {
	return e.scratch[i] != 0
}

// WriteCoilToBuffer stores the i-th coil value a handler wants
// returned in a read response.
func (e *Engine) WriteCoilToBuffer(i int, v bool) {
	e.scratch[i] = boolToByte(v)
}

// writeResponse encodes and sends a normal response for funcCode. For
// the read functions it packs e.scratch (populated by the handler) per
// the wire encoding; for the write functions it echoes the request's
// address/quantity (or address/value) fields back, as Modbus requires.
func (e *Engine) writeResponse(funcCode byte, reqPDU []byte, address, quantity uint16) {
	var data []byte
	switch funcCode {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		data = append([]byte{byte(len(e.scratch))}, e.scratch...)
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		packed := make([]byte, (int(quantity)+7)/8)
		for i := 0; i < int(quantity); i++ {
			if e.scratch[i] != 0 {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		data = append([]byte{byte(len(packed))}, packed...)
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		data = append([]byte(nil), reqPDU[:4]...)
	default:
		data = append([]byte(nil), reqPDU...)
	}

	pdu := modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: data}
	adu := append([]byte{e.slaveID}, pdu.Bytes()...)
	e.writeADU(adu)
}

func (e *Engine) writeException(funcCode byte, exc modbus.Exception) {
	pdu := modbus.ProtocolDataUnit{FunctionCode: funcCode | 0x80, Data: []byte{byte(exc)}}
	adu := append([]byte{e.slaveID}, pdu.Bytes()...)
	e.writeADU(adu)
}

func (e *Engine) writeADU(adu []byte) {
	var c crc.CRC
	c.Reset().PushBytes(adu)
	sum := c.Value()
	adu = append(adu, byte(sum), byte(sum>>8))
	if _, err := e.port.Write(adu); err != nil {
		e.log.Error("frameengine: write response", "err", err)
	}
}

var _ kernel.FrameEngine = (*Engine)(nil)
