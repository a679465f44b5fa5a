// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexp

import (
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/devreg"
)

// Ioctl commands understood by expander drivers.
//
// The argument passed to devreg.Registry.Ioctl for each command is documented
// next to it. A driver replies by filling the argument in place.
const (
	CmdGetPinTotalNum devreg.Cmd = iota + 1 // *PinCount
	CmdSetDirection                         // *PinArg, Direction is set
	CmdGetDirection                         // *PinArg, Direction is filled
	CmdWrite                                // *PinArg, Level is set
	CmdRead                                 // *PinArg, Level is filled
	CmdWriteMulti                           // []PinArg, Level is set
	CmdRegisterIrq                          // *IrqArg
	CmdUnregisterIrq                        // *IrqArg, Callback is nil
)

// Direction is the configured direction of an expander pin.
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "Input"
	case Output:
		return "Output"
	default:
		return "Direction(" + strconv.Itoa(int(d)) + ")"
	}
}

func (d Direction) valid() bool {
	return d == Input || d == Output
}

// IrqType selects the condition that triggers an interrupt.
type IrqType uint8

const (
	IrqRisingEdge IrqType = iota + 1
	IrqFallingEdge
	IrqBothEdges
	IrqLevelHigh
	IrqLevelLow
)

const irqTypeName = "RisingEdgeFallingEdgeBothEdgesLevelHighLevelLow"

var irqTypeIndex = [...]uint8{0, 10, 21, 30, 39, 47}

func (i IrqType) String() string {
	if i == 0 || int(i) >= len(irqTypeIndex) {
		return "IrqType(" + strconv.Itoa(int(i)) + ")"
	}
	return irqTypeName[irqTypeIndex[i-1]:irqTypeIndex[i]]
}

func (i IrqType) valid() bool {
	return i >= IrqRisingEdge && i <= IrqLevelLow
}

// Invert returns the type that matches the same logical condition on a pin
// with reversed polarity.
func (i IrqType) Invert() IrqType {
	switch i {
	case IrqRisingEdge:
		return IrqFallingEdge
	case IrqFallingEdge:
		return IrqRisingEdge
	case IrqLevelHigh:
		return IrqLevelLow
	case IrqLevelLow:
		return IrqLevelHigh
	default:
		return i
	}
}

// Triggers reports whether a transition from prev to cur satisfies i.
//
// Drivers that emulate interrupts in software use it to filter events.
func (i IrqType) Triggers(prev, cur gpio.Level) bool {
	switch i {
	case IrqRisingEdge:
		return prev == gpio.Low && cur == gpio.High
	case IrqFallingEdge:
		return prev == gpio.High && cur == gpio.Low
	case IrqBothEdges:
		return prev != cur
	case IrqLevelHigh:
		return cur == gpio.High
	case IrqLevelLow:
		return cur == gpio.Low
	default:
		return false
	}
}

// PinCount is the argument of CmdGetPinTotalNum.
type PinCount struct {
	N int
}

// PinArg is the argument of the pin level commands.
//
// Device is the device the pin belongs to, so that a driver receiving a
// CmdWriteMulti batch can reject pins of another device.
type PinArg struct {
	Device    devreg.DeviceID
	Pin       int
	Direction Direction
	Level     gpio.Level
}

// IrqArg is the argument of CmdRegisterIrq and CmdUnregisterIrq.
//
// The driver calls Callback from its own goroutine with the raw level of the
// pin each time the condition described by Type is met. Callback must not be
// called once CmdUnregisterIrq returned.
type IrqArg struct {
	Pin      int
	Irq      int
	Type     IrqType
	Callback func(raw gpio.Level)
}
