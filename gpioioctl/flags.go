// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/ioexp"
)

// Line flags, from the /usr/include/linux/gpio.h header file.
const (
	_GPIO_V2_LINE_FLAG_USED           uint64 = 1 << 0
	_GPIO_V2_LINE_FLAG_ACTIVE_LOW     uint64 = 1 << 1
	_GPIO_V2_LINE_FLAG_INPUT          uint64 = 1 << 2
	_GPIO_V2_LINE_FLAG_OUTPUT         uint64 = 1 << 3
	_GPIO_V2_LINE_FLAG_EDGE_RISING    uint64 = 1 << 4
	_GPIO_V2_LINE_FLAG_EDGE_FALLING   uint64 = 1 << 5
	_GPIO_V2_LINE_FLAG_BIAS_PULL_UP   uint64 = 1 << 8
	_GPIO_V2_LINE_FLAG_BIAS_PULL_DOWN uint64 = 1 << 9
	_GPIO_V2_LINE_FLAG_BIAS_DISABLED  uint64 = 1 << 10
)

// getFlags accepts a set of GPIO configuration values and returns an
// appropriate uint64 ioctl gpio flag.
func getFlags(dir ioexp.Direction, edge gpio.Edge, pull gpio.Pull) uint64 {
	var flags uint64
	if dir == ioexp.Input {
		flags |= _GPIO_V2_LINE_FLAG_INPUT
	} else if dir == ioexp.Output {
		flags |= _GPIO_V2_LINE_FLAG_OUTPUT
	}
	if pull == gpio.PullUp {
		flags |= _GPIO_V2_LINE_FLAG_BIAS_PULL_UP
	} else if pull == gpio.PullDown {
		flags |= _GPIO_V2_LINE_FLAG_BIAS_PULL_DOWN
	} else if pull == gpio.Float {
		flags |= _GPIO_V2_LINE_FLAG_BIAS_DISABLED
	}
	if edge == gpio.RisingEdge {
		flags |= _GPIO_V2_LINE_FLAG_EDGE_RISING
	} else if edge == gpio.FallingEdge {
		flags |= _GPIO_V2_LINE_FLAG_EDGE_FALLING
	} else if edge == gpio.BothEdges {
		flags |= _GPIO_V2_LINE_FLAG_EDGE_RISING | _GPIO_V2_LINE_FLAG_EDGE_FALLING
	}
	return flags
}

// irqEdge returns the kernel edge detection used to serve t.
//
// The kernel only reports edges. A level interrupt is served by the edge
// entering the level.
func irqEdge(t ioexp.IrqType) gpio.Edge {
	switch t {
	case ioexp.IrqRisingEdge, ioexp.IrqLevelHigh:
		return gpio.RisingEdge
	case ioexp.IrqFallingEdge, ioexp.IrqLevelLow:
		return gpio.FallingEdge
	case ioexp.IrqBothEdges:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}
