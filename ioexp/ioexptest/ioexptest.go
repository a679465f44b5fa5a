// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ioexptest is meant to be used to test code using ioexp.
//
// Loopback is an in-memory expander driver: what is written to a pin is read
// back, and Fire simulates an external signal on a pin.
package ioexptest

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/ioexp"
)

// Loopback is a fake expander driver with call counters.
//
// The zero value is not usable; use New.
type Loopback struct {
	ID    devreg.DeviceID
	Total int

	// OpenErr, when set, is returned by the Open callback.
	OpenErr error
	// CloseErr, when set, is returned by the Close callback.
	CloseErr error
	// Fail maps a command to the error its ioctl returns.
	Fail map[devreg.Cmd]error

	mu      sync.Mutex
	opens   int
	closes  int
	calls   map[devreg.Cmd]int
	dir     []ioexp.Direction
	level   []gpio.Level
	irqs    map[int]*irq
	batches [][]ioexp.PinArg
}

type irq struct {
	typ ioexp.IrqType
	cb  func(gpio.Level)
}

// New returns a Loopback driver for device id with total pins, all inputs
// reading Low.
func New(id devreg.DeviceID, total int) *Loopback {
	return &Loopback{
		ID:    id,
		Total: total,
		Fail:  map[devreg.Cmd]error{},
		calls: map[devreg.Cmd]int{},
		dir:   make([]ioexp.Direction, total),
		level: make([]gpio.Level, total),
		irqs:  map[int]*irq{},
	}
}

// Descriptor returns the devreg descriptor of the driver.
func (l *Loopback) Descriptor() devreg.Descriptor {
	return devreg.Descriptor{ID: l.ID, Name: "loopback-" + strconv.Itoa(int(l.ID)), Ops: l.Ops()}
}

// Ops returns the callback table of the driver.
func (l *Loopback) Ops() devreg.Ops {
	return devreg.Ops{
		Open:  l.open,
		Close: l.close,
		Ioctl: l.ioctl,
	}
}

// Opens returns the number of Open callbacks received.
func (l *Loopback) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

// Closes returns the number of Close callbacks received.
func (l *Loopback) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Calls returns the number of ioctls received for cmd.
func (l *Loopback) Calls(cmd devreg.Cmd) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[cmd]
}

// PinCalls returns the number of pin level ioctls received, that is every
// ioctl except ioexp.CmdGetPinTotalNum.
func (l *Loopback) PinCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for cmd, c := range l.calls {
		if cmd != ioexp.CmdGetPinTotalNum {
			n += c
		}
	}
	return n
}

// Batches returns the CmdWriteMulti batches received.
func (l *Loopback) Batches() [][]ioexp.PinArg {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]ioexp.PinArg(nil), l.batches...)
}

// Level returns the raw level of pin.
func (l *Loopback) Level(pin int) gpio.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level[pin]
}

// Armed reports whether an interrupt callback is installed on pin.
func (l *Loopback) Armed(pin int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.irqs[pin] != nil
}

// Fire sets the raw level of pin as an external signal would and calls the
// installed interrupt callback, if its type matches the transition.
//
// It returns true if the callback was called. The callback is called from
// the calling goroutine without holding the driver lock.
func (l *Loopback) Fire(pin int, raw gpio.Level) bool {
	l.mu.Lock()
	prev := l.level[pin]
	l.level[pin] = raw
	i := l.irqs[pin]
	l.mu.Unlock()
	if i == nil || !i.typ.Triggers(prev, raw) {
		return false
	}
	i.cb(raw)
	return true
}

//

func (l *Loopback) open(id devreg.DeviceID, arg interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	return l.OpenErr
}

func (l *Loopback) close(id devreg.DeviceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return l.CloseErr
}

func (l *Loopback) ioctl(id devreg.DeviceID, arg interface{}, cmd devreg.Cmd) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[cmd]++
	if err := l.Fail[cmd]; err != nil {
		return err
	}
	switch cmd {
	case ioexp.CmdGetPinTotalNum:
		c, ok := arg.(*ioexp.PinCount)
		if !ok {
			return badArg(cmd, arg)
		}
		c.N = l.Total
		return nil
	case ioexp.CmdWriteMulti:
		b, ok := arg.([]ioexp.PinArg)
		if !ok {
			return badArg(cmd, arg)
		}
		for i := range b {
			if err := l.checkPin(b[i].Device, b[i].Pin); err != nil {
				return err
			}
		}
		for i := range b {
			l.level[b[i].Pin] = b[i].Level
		}
		l.batches = append(l.batches, append([]ioexp.PinArg(nil), b...))
		return nil
	case ioexp.CmdRegisterIrq, ioexp.CmdUnregisterIrq:
		a, ok := arg.(*ioexp.IrqArg)
		if !ok {
			return badArg(cmd, arg)
		}
		if err := l.checkPin(l.ID, a.Pin); err != nil {
			return err
		}
		if cmd == ioexp.CmdUnregisterIrq {
			delete(l.irqs, a.Pin)
			return nil
		}
		l.irqs[a.Pin] = &irq{typ: a.Type, cb: a.Callback}
		return nil
	}

	a, ok := arg.(*ioexp.PinArg)
	if !ok {
		return badArg(cmd, arg)
	}
	if err := l.checkPin(a.Device, a.Pin); err != nil {
		return err
	}
	switch cmd {
	case ioexp.CmdSetDirection:
		l.dir[a.Pin] = a.Direction
	case ioexp.CmdGetDirection:
		a.Direction = l.dir[a.Pin]
	case ioexp.CmdWrite:
		l.level[a.Pin] = a.Level
	case ioexp.CmdRead:
		a.Level = l.level[a.Pin]
	default:
		return halerr.New(halerr.NoSupported, "ioexptest.Ioctl", fmt.Sprintf("command %d", cmd))
	}
	return nil
}

func (l *Loopback) checkPin(dev devreg.DeviceID, pin int) error {
	if dev != l.ID {
		return halerr.New(halerr.InvalidParam, "ioexptest.Ioctl", "pin of device "+dev.String()+" sent to "+l.ID.String())
	}
	if pin < 0 || pin >= l.Total {
		return halerr.New(halerr.InvalidParam, "ioexptest.Ioctl", "pin "+strconv.Itoa(pin)+" out of range")
	}
	return nil
}

func badArg(cmd devreg.Cmd, arg interface{}) error {
	return halerr.New(halerr.InvalidParam, "ioexptest.Ioctl", fmt.Sprintf("command %d: unexpected argument %T", cmd, arg))
}
