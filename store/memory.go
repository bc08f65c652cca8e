// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import "fmt"

// Memory is a non-persistent kernel.Store backed by a plain byte slice.
// Every boot observes whatever was written during the process's own
// lifetime; nothing survives a restart, so a kernel built on top of it
// will always report DefaultsRequired on first load unless the caller
// seeds buf with a previously-encoded header.
//
// Grounded on persistence.MemoryStorage in github.com/ffutop/modbus-gateway's
// persistence package.
type Memory struct {
	buf []byte
}

// NewMemory returns a Memory store, optionally seeded with the given
// bytes (copied, not aliased).
func NewMemory(seed []byte) *Memory {
	m := &Memory{}
	if len(seed) > 0 {
		m.buf = append([]byte(nil), seed...)
	}
	return m
}

func (m *Memory) Read(buf []byte) error {
	n := copy(buf, m.buf)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (m *Memory) Write(buf []byte) error {
	if len(m.buf) < len(buf) {
		m.buf = make([]byte, len(buf))
	}
	copy(m.buf, buf)
	return nil
}

func (m *Memory) Commit() error {
	return nil
}

func (m *Memory) String() string {
	return fmt.Sprintf("store.Memory(%d bytes)", len(m.buf))
}
