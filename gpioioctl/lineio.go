// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// lineIO is the access to the lines of one GPIO chip.
//
// Lines are numbered by their offset on the chip. A line is requested from
// the kernel on its first SetConfig and stays requested until Release.
type lineIO interface {
	Name() string
	Label() string
	Lines() int
	// SetConfig requests the line if needed and applies the line flags.
	SetConfig(offset int, flags uint64) error
	Value(offset int) (gpio.Level, error)
	SetValue(offset int, l gpio.Level) error
	// WaitEvent waits up to timeout for an edge event on a line configured
	// with edge detection. It returns the level the line moved to.
	WaitEvent(offset int, timeout time.Duration) (gpio.Level, bool, error)
	Release(offset int) error
	Close() error
}
