// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package kernel

import (
	"encoding/binary"
	"fmt"
)

// magicSentinel identifies initialized persistent storage. Its value is
// arbitrary but fixed; changing it forces every existing deployment back
// through the defaults path on next boot. Carried over unchanged from the
// original kernel's eepromMagic constant.
const magicSentinel uint32 = 0x112233ab

// HeaderSize is the on-wire size, in bytes, of KernelConfig: three u16
// fields plus a u32 magic, encoded big-endian for the same reason the
// Modbus registers themselves are big-endian on the wire — one byte
// order convention for the whole persisted buffer, rather than relying on
// host struct layout the way the original's raw memcpy-of-struct does.
const HeaderSize = 2 + 2 + 2 + 4

// KernelConfig is the kernel-owned persistent header: the settings that
// take effect on the next boot, plus the validity sentinel.
type KernelConfig struct {
	SlaveID       uint16
	BaudRate      uint16
	CommTimeoutMS uint16
	Magic         uint32
}

func (c KernelConfig) valid() bool {
	return c.Magic == magicSentinel
}

func encodeHeader(c KernelConfig, buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], c.SlaveID)
	binary.BigEndian.PutUint16(buf[2:4], c.BaudRate)
	binary.BigEndian.PutUint16(buf[4:6], c.CommTimeoutMS)
	binary.BigEndian.PutUint32(buf[6:10], c.Magic)
}

func decodeHeader(buf []byte) KernelConfig {
	return KernelConfig{
		SlaveID:       binary.BigEndian.Uint16(buf[0:2]),
		BaudRate:      binary.BigEndian.Uint16(buf[2:4]),
		CommTimeoutMS: binary.BigEndian.Uint16(buf[4:6]),
		Magic:         binary.BigEndian.Uint32(buf[6:10]),
	}
}

// defaultKernelConfig returns the kernel's first-boot defaults: slave id
// 1, 9600 baud, watchdog disabled.
func defaultKernelConfig() KernelConfig {
	return KernelConfig{
		SlaveID:       1,
		BaudRate:      9600,
		CommTimeoutMS: 0,
		Magic:         magicSentinel,
	}
}

// configManager owns the non-volatile settings lifecycle: load-on-boot,
// first-boot defaults detection, and persisting the header after every
// mutation. It never interprets the application's payload bytes beyond
// the leading header — they are carried through verbatim.
//
// Grounded on the original SlaveRtuKernelClass constructor/eepromDefaultsRequired/
// eepromWriteDefaults methods (original_source/src/SlaveRtuKernelClass.cpp)
// and on the persistence.Storage load/commit shape in github.com/ffutop/modbus-gateway.
type configManager struct {
	store Store

	header          KernelConfig
	defaultsPending bool
}

// loadConfigManager reads appBuf.len bytes (appBuf may be nil/empty if the
// application has no payload of its own) from store, decodes the leading
// header, and determines whether first-boot defaults are required. It
// never writes to store — that is WriteDefaults's job, invoked
// explicitly by the application after checking DefaultsRequired.
func loadConfigManager(store Store, appBuf []byte) (*configManager, error) {
	length := HeaderSize
	if len(appBuf) > length {
		length = len(appBuf)
	}
	buf := make([]byte, length)
	if err := store.Read(buf); err != nil {
		return nil, fmt.Errorf("kernel: read persisted config: %w", err)
	}
	if len(appBuf) > 0 {
		copy(appBuf, buf)
	}

	header := decodeHeader(buf[:HeaderSize])

	cm := &configManager{store: store, header: header}
	if !header.valid() {
		cm.defaultsPending = true
		cm.header = KernelConfig{}
	}
	return cm, nil
}

// DefaultsRequired reports whether persisted storage failed the magic
// check at load time.
func (cm *configManager) DefaultsRequired() bool {
	return cm.defaultsPending
}

// WriteDefaults stamps the kernel header into appBuf (overwriting whatever
// the caller put there) and persists the combined buffer. appBuf must be
// at least HeaderSize bytes; the remainder, if any, is the application's
// own payload and is persisted as provided.
func (cm *configManager) WriteDefaults(appBuf []byte) error {
	if len(appBuf) < HeaderSize {
		return fmt.Errorf("kernel: eepromWriteDefaults buffer too small: %d < %d", len(appBuf), HeaderSize)
	}
	cm.header = defaultKernelConfig()
	encodeHeader(cm.header, appBuf[:HeaderSize])

	if err := cm.store.Write(appBuf); err != nil {
		return fmt.Errorf("kernel: write defaults: %w", err)
	}
	if err := cm.store.Commit(); err != nil {
		return fmt.Errorf("kernel: commit defaults: %w", err)
	}
	cm.defaultsPending = false
	return nil
}

// persistHeader writes the kernel's header followed by appTail. Since
// Store.Write always starts at offset 0, callers must supply the full
// buffer layout: appTail is the caller's in-memory copy of the
// application payload, written back as given so a header-only mutation
// does not drop it. The payload is not re-read from the store.
func (cm *configManager) persistHeader(appTail []byte) error {
	buf := make([]byte, HeaderSize+len(appTail))
	encodeHeader(cm.header, buf[:HeaderSize])
	copy(buf[HeaderSize:], appTail)
	if err := cm.store.Write(buf); err != nil {
		return fmt.Errorf("kernel: persist header: %w", err)
	}
	return cm.store.Commit()
}
