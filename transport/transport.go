// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the byte-stream abstraction the frame
// engine reads octets from and writes responses to.
//
// github.com/ffutop/modbus-gateway's transport package models a gateway
// bridging several concurrent Upstream masters to several Downstream
// slaves, with a RequestHandler stitched between them by the router. A
// slave kernel
// has no such fan-out: there is exactly one bus, the kernel is always
// the slave, and Kernel.Poll is cooperative rather than goroutine-per-
// connection. Port replaces Upstream/Downstream/RequestHandler with the
// one shape the frame engine actually needs: a read-with-timeout byte
// stream.
package transport

import "io"

// Port is the byte-stream collaborator a frameengine.Engine reads
// frames from and writes responses to. Read must return promptly
// (bounded by whatever read timeout the concrete Port was configured
// with) rather than blocking indefinitely, so that Kernel.Poll always
// returns control to its caller.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}
