// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus defines the wire-level vocabulary shared by the kernel
// and its transport/frame-engine collaborators: function codes, the
// protocol data unit, and the Modbus exception codes a slave may return.
package modbus

import "fmt"

// Function codes supported by the kernel. Nothing else reaches
// application code: frameengine.Engine cannot size a frame with any
// other function code and discards it without a response.
const (
	FuncCodeReadCoils             = 0x01
	FuncCodeReadDiscreteInputs    = 0x02
	FuncCodeReadHoldingRegisters  = 0x03
	FuncCodeReadInputRegisters    = 0x04
	FuncCodeWriteSingleCoil       = 0x05
	FuncCodeWriteSingleRegister   = 0x06
	FuncCodeWriteMultipleCoils    = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
)

// ProtocolDataUnit is the function code plus payload, independent of the
// framing (RTU address byte + CRC, or TCP MBAP header) wrapped around it.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Bytes returns the PDU's wire encoding: the function code followed by
// its data, with no framing. The frame engine prepends the RTU address
// byte and appends the CRC.
func (p ProtocolDataUnit) Bytes() []byte {
	return append([]byte{p.FunctionCode}, p.Data...)
}

// Exception is a Modbus exception code, returned to the master in place
// of a normal response when a request cannot be honored. It is distinct
// from a Go error: it crosses the wire.
type Exception byte

const (
	ExceptionOK                 Exception = 0x00
	ExceptionIllegalFunction     Exception = 0x01
	ExceptionIllegalDataAddress Exception = 0x02
	ExceptionIllegalDataValue   Exception = 0x03
	ExceptionSlaveDeviceFailure Exception = 0x04
)

func (e Exception) Error() string {
	switch e {
	case ExceptionOK:
		return "ok"
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "slave device failure"
	default:
		return fmt.Sprintf("exception 0x%02x", byte(e))
	}
}

// OK reports whether e represents a successful access, i.e. no exception
// should be framed into the response.
func (e Exception) OK() bool {
	return e == ExceptionOK
}
