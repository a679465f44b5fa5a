// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexp

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/halerr"
)

// Handler is called with the logical level of the pin when its interrupt
// fires, along with the data given to RegisterIrqHandler.
//
// It runs on the driver goroutine with the interrupt lock held: it must
// return quickly and must not call back into the Expander. Hand the event
// off through a channel instead.
type Handler func(l gpio.Level, data interface{})

// RegisterIrqHandler installs fn as the interrupt handler of the pin.
//
// The driver is given an internal callback that corrects the polarity of the
// raw level before calling fn. While a handler is registered, SetConfigure,
// GetConfigure and Write fail with halerr.InvalidState.
func (x *Expander) RegisterIrqHandler(h Handle, fn Handler, data interface{}, typ IrqType) error {
	const op = "ioexp.RegisterIrqHandler"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	if !typ.valid() {
		return x.fail(halerr.New(halerr.InvalidParam, op, typ.String()))
	}
	if fn == nil {
		return x.fail(halerr.New(halerr.InvalidParam, op, "nil handler"))
	}
	d, err := x.lookup(op, h)
	if err != nil {
		return x.fail(err)
	}
	if d.irq {
		return x.fail(halerr.New(halerr.Already, op, d.name()+" already has an interrupt handler"))
	}
	if err = checkPin(op, d); err != nil {
		return x.fail(err)
	}

	x.irqMu.Lock()
	d.irqSeq++
	seq := d.irqSeq
	d.handler = fn
	d.data = data
	x.irqMu.Unlock()

	a := &IrqArg{Pin: d.m.Pin, Irq: d.m.Irq, Type: typ, Callback: x.trampoline(d, seq)}
	if err = x.reg.Ioctl(d.dev.h, a, CmdRegisterIrq); err != nil {
		x.clearHandler(d)
		return x.fail(err)
	}
	d.irq = true
	return nil
}

// UnregisterIrqHandler removes the interrupt handler of the pin.
//
// Once it returns, the handler is not called anymore.
func (x *Expander) UnregisterIrqHandler(h Handle) error {
	const op = "ioexp.UnregisterIrqHandler"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	d, err := x.lookup(op, h)
	if err != nil {
		return x.fail(err)
	}
	if !d.irq {
		return x.fail(halerr.New(halerr.InvalidState, op, d.name()+" has no interrupt handler"))
	}
	return x.fail(x.unregister(d))
}

// unregister must be called with apiMu held.
//
// The driver callback is removed first, outside irqMu, so a driver that
// waits for its event goroutine cannot deadlock against a dispatch in
// flight. The handler is then cleared under irqMu, which waits for that
// dispatch to complete.
func (x *Expander) unregister(d *descriptor) error {
	a := &IrqArg{Pin: d.m.Pin, Irq: d.m.Irq}
	if err := x.reg.Ioctl(d.dev.h, a, CmdUnregisterIrq); err != nil {
		return err
	}
	x.clearHandler(d)
	d.irq = false
	return nil
}

func (x *Expander) clearHandler(d *descriptor) {
	x.irqMu.Lock()
	defer x.irqMu.Unlock()
	d.irqSeq++
	d.handler = nil
	d.data = nil
}

// trampoline returns the callback installed in the driver for registration
// seq of d.
//
// A callback that outlives its registration, for example one still queued
// in a driver when the pin was registered again, is ignored.
func (x *Expander) trampoline(d *descriptor, seq uint32) func(raw gpio.Level) {
	return func(raw gpio.Level) {
		x.irqMu.Lock()
		defer x.irqMu.Unlock()
		if d.irqSeq != seq || d.handler == nil {
			return
		}
		d.handler(d.polarity(raw), d.data)
	}
}
