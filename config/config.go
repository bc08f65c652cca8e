// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads bring-up configuration for the demo binary
// under cmd/ — which serial device to open, how to
// persist the kernel's non-volatile header, and how verbosely to log.
// The kernel package itself never imports this package: it is wired
// entirely through kernel.Deps, so a real embedded build is free to
// construct those deps however it likes (compiled-in constants, a
// different config format, no config at all).
//
// Adapted from the internal/config package of
// github.com/ffutop/modbus-gateway, trimmed from a
// multi-gateway/multi-upstream/multi-downstream schema down to the one
// serial line and one storage backend a single kernel instance needs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level bring-up configuration for a kerneld
// instance.
type Config struct {
	Serial      SerialConfig      `mapstructure:"serial"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Log         LogConfig         `mapstructure:"log"`
}

// SerialConfig mirrors transport/serial.Config's fields for YAML/flag
// binding.
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// PersistenceConfig selects and configures the kernel.Store backend.
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // used by "file" and "mmap"
}

// LogConfig configures the demo binary's slog handler.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // empty means stdout
}

// RegisterFlags defines the pflag command-line flags Load will
// later bind into viper. Call it before pflag.Parse.
func RegisterFlags() {
	pflag.StringP("config", "c", "", "configuration file path")
	pflag.StringP("device", "p", "/tmp/ttyV0", "serial device to open")
	pflag.IntP("baud_rate", "b", 9600, "serial baud rate")
	pflag.StringP("persistence.type", "t", "memory", "persistence backend: memory, file, mmap")
	pflag.StringP("persistence.path", "f", "", "backing file path for file/mmap persistence")
	pflag.StringP("log.level", "v", "info", "log verbosity: debug, info, warn, error")
}

// Load reads configuration from (in ascending priority) defaults, an
// optional YAML file, and command-line flags bound via RegisterFlags.
// Call pflag.Parse before Load.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("serial.device", "/tmp/ttyV0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("persistence.type", "memory")
	v.SetDefault("log.level", "info")

	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	// "device" and "baud_rate" are flat flag names for a friendlier CLI;
	// alias them onto the nested keys Unmarshal expects. The rest of the
	// flags already use their nested key as the flag name.
	aliases := map[string]string{
		"device":    "serial.device",
		"baud_rate": "serial.baud_rate",
	}
	for flagName, key := range aliases {
		if v.IsSet(flagName) {
			v.Set(key, v.Get(flagName))
		}
	}

	configFile := v.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("kerneld")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-rtu-kernel/")
		v.AddConfigPath("$HOME/.modbus-rtu-kernel")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Serial.Parity = strings.ToUpper(cfg.Serial.Parity)
	if cfg.Serial.Timeout == 0 {
		cfg.Serial.Timeout = 500 * time.Millisecond
	}
	return &cfg, nil
}
