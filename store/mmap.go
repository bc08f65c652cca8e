// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mmap is a kernel.Store backed by a memory-mapped file. Write copies
// into the mapping directly; Commit flushes it to disk via msync.
//
// Grounded on persistence.MmapStorage in github.com/ffutop/modbus-gateway's
// persistence package, generalized to an arbitrary-length buffer fixed at
// construction time (size) rather than the fixed four-table layout that
// package maps, since the kernel's persisted buffer length is
// HeaderSize plus whatever the application's own payload needs.
type Mmap struct {
	path string
	size int
	file *os.File
	data mmap.MMap
}

// NewMmap opens (creating and truncating to size if necessary) the file
// at path and maps it read-write.
func NewMmap(path string, size int) (*Mmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open mmap file %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat mmap file %s: %w", path, err)
	}
	if fi.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: resize mmap file %s: %w", path, err)
		}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap %s: %w", path, err)
	}
	return &Mmap{path: path, size: size, file: f, data: data}, nil
}

func (m *Mmap) Read(buf []byte) error {
	n := copy(buf, m.data)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (m *Mmap) Write(buf []byte) error {
	if len(buf) > len(m.data) {
		return fmt.Errorf("store: write of %d bytes exceeds mapped size %d", len(buf), len(m.data))
	}
	copy(m.data, buf)
	return nil
}

func (m *Mmap) Commit() error {
	if err := m.data.Flush(); err != nil {
		return fmt.Errorf("store: flush mmap %s: %w", m.path, err)
	}
	return nil
}

func (m *Mmap) Close() error {
	if err := m.data.Unmap(); err != nil {
		return err
	}
	return m.file.Close()
}
