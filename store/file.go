// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"os"
)

// File is a kernel.Store backed by a plain file, kept open for the
// lifetime of the store. Write overwrites from offset 0 and grows the
// file when buf is longer; it never truncates it. Commit calls
// (*os.File).Sync so a power loss right after a config-window write
// cannot lose it.
//
// Grounded on persistence.FileStorage in github.com/ffutop/modbus-gateway's
// persistence package, trimmed from its fixed four-table layout down to
// an arbitrary-length buffer.
type File struct {
	path string
	file *os.File
}

// NewFile opens (creating if necessary) the file at path.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &File{path: path, file: f}, nil
}

func (fs *File) Read(buf []byte) error {
	n, err := fs.file.ReadAt(buf, 0)
	if err != nil && n == 0 {
		// Empty or short file on first boot: zero-fill rather than error,
		// so the kernel's magic-sentinel check is what decides validity.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (fs *File) Write(buf []byte) error {
	if _, err := fs.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("store: write %s: %w", fs.path, err)
	}
	return nil
}

func (fs *File) Commit() error {
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", fs.path, err)
	}
	return nil
}

func (fs *File) Close() error {
	return fs.file.Close()
}
