// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the YAML configuration of the hardware abstraction
// layer: log level, registry limits and the IO expander pin mapping.
//
// Example:
//
//	log_level: info
//	max_drivers: 64
//	max_handles: 256
//	pins:
//	  - device: 0x100
//	    pin: 2
//	    irq: 0
//	    reverse: false
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/ioexp"
)

// maxFileSize bounds the configuration file read by Load.
const maxFileSize = 1 << 20

// Pin maps one logical expander pin.
type Pin struct {
	Device  uint32 `yaml:"device"`
	Pin     int    `yaml:"pin"`
	Irq     int    `yaml:"irq"`
	Reverse bool   `yaml:"reverse"`
}

// Config is the parsed configuration.
//
// It implements ioexp.PinMap; logical pin ids are indexes in Pins.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	MaxDrivers int    `yaml:"max_drivers"`
	MaxHandles int    `yaml:"max_handles"`
	Pins       []Pin  `yaml:"pins"`
}

// Default returns the configuration used when no file is given: info
// logging, unbounded tables and no expander pin.
func Default() *Config {
	return &Config{LogLevel: "info"}
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if len(b) > maxFileSize {
		return nil, fmt.Errorf("config: %s is larger than %d bytes: %w", path, maxFileSize, halerr.InvalidParam)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse parses and validates a YAML document.
//
// Unknown keys are rejected. Missing keys keep the value of Default.
func Parse(b []byte) (*Config, error) {
	c := Default()
	d := yaml.NewDecoder(bytes.NewReader(b))
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %v: %w", err, halerr.InvalidParam)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values of c.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %v: %w", err, halerr.InvalidParam)
	}
	if c.MaxDrivers < 0 {
		return fmt.Errorf("config: max_drivers %d is negative: %w", c.MaxDrivers, halerr.InvalidParam)
	}
	if c.MaxHandles < 0 {
		return fmt.Errorf("config: max_handles %d is negative: %w", c.MaxHandles, halerr.InvalidParam)
	}
	type key struct {
		dev uint32
		pin int
	}
	seen := map[key]int{}
	for i, p := range c.Pins {
		if p.Pin < 0 {
			return fmt.Errorf("config: pins[%d]: pin %d is negative: %w", i, p.Pin, halerr.InvalidParam)
		}
		if p.Irq < 0 {
			return fmt.Errorf("config: pins[%d]: irq %d is negative: %w", i, p.Irq, halerr.InvalidParam)
		}
		k := key{p.Device, p.Pin}
		if j, ok := seen[k]; ok {
			return fmt.Errorf("config: pins[%d]: device 0x%x pin %d is already mapped by pins[%d]: %w", i, p.Device, p.Pin, j, halerr.InvalidParam)
		}
		seen[k] = i
	}
	return nil
}

// Level returns the logrus level named by LogLevel, or logrus.InfoLevel if
// it is invalid.
func (c *Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// Len implements ioexp.PinMap.
func (c *Config) Len() int {
	return len(c.Pins)
}

// Mapping implements ioexp.PinMap.
func (c *Config) Mapping(id int) (ioexp.Mapping, error) {
	if id < 0 || id >= len(c.Pins) {
		return ioexp.Mapping{}, halerr.New(halerr.NotFound, "config.Mapping", fmt.Sprintf("pin %d", id))
	}
	p := c.Pins[id]
	return ioexp.Mapping{Device: devreg.DeviceID(p.Device), Pin: p.Pin, Irq: p.Irq, Reverse: p.Reverse}, nil
}

var _ ioexp.PinMap = &Config{}
