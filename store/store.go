// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store provides concrete implementations of kernel.Store: an
// in-memory stand-in for testing, a plain-file backend, and an
// mmap-backed backend.
//
// Grounded on the internal/local-slave/persistence package of
// github.com/ffutop/modbus-gateway, generalized from a four-table
// Modbus data model to a flat byte buffer, since the kernel only ever
// persists its own small header plus an opaque application payload.
package store

import "github.com/ffutop/modbus-rtu-kernel/kernel"

// Closer is implemented by backends that hold an open file descriptor
// or mapping and need an explicit teardown at shutdown.
type Closer interface {
	Close() error
}

var _ kernel.Store = (*Memory)(nil)
