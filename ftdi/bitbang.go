// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/ioexp"
)

// DBusPins is the number of pins served by an Expander.
const DBusPins = 8

// DefaultPoll is the sampling period used to detect edges.
const DefaultPoll = 2 * time.Millisecond

// Expander drives the DBus D0~D7 pins of a FTDI device in asynchronous
// bit-bang mode.
//
// It is a devreg driver speaking the ioexp ioctl protocol. The chip has no
// interrupt line, so interrupts are emulated by sampling the pins every
// poll period while at least one is registered.
//
// Read returns the raw DBus byte. Write streams bytes to the DBus at the
// bit-bang clock; only the output pins are affected.
type Expander struct {
	id   devreg.DeviceID
	name string
	h    *handle
	poll time.Duration
	log  *logrus.Entry

	// dispatchMu is held while interrupt callbacks run, so that removing a
	// callback can wait for a dispatch in flight.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	dmask  uint8 // 0 input, 1 output
	dvalue uint8 // last value written
	irqs   [DBusPins]*irq
	armed  int
	stop   chan struct{}
	done   chan struct{}
}

type irq struct {
	typ  ioexp.IrqType
	cb   func(gpio.Level)
	last gpio.Level
}

// newExpander takes ownership of h. Every pin is left as an input.
func newExpander(h *handle, id devreg.DeviceID, name string, poll time.Duration) (*Expander, error) {
	if !h.t.bitbang() {
		return nil, fmt.Errorf("ftdi: %s does not support bit-bang", h.t)
	}
	// Default to 3MHz.
	if err := h.SetBaudRate(3 * physic.MegaHertz); err != nil {
		return nil, err
	}
	if err := h.SetBitMode(0, bitModeAsyncBitbang); err != nil {
		return nil, err
	}
	v, err := h.GetBitMode()
	if err != nil {
		return nil, err
	}
	return &Expander{
		id:     id,
		name:   name,
		h:      h,
		poll:   poll,
		log:    logrus.WithFields(logrus.Fields{"prefix": "ftdi", "device": id.String()}),
		dvalue: v,
	}, nil
}

func (e *Expander) String() string {
	return e.name
}

// ID returns the devreg id the device is registered under.
func (e *Expander) ID() devreg.DeviceID {
	return e.id
}

// Type returns the FTDI device type.
func (e *Expander) Type() DevType {
	return e.h.t
}

// Descriptor returns the devreg descriptor of the device.
func (e *Expander) Descriptor() devreg.Descriptor {
	name := e.name
	if len(name) > devreg.MaxNameLen {
		name = name[:devreg.MaxNameLen]
	}
	return devreg.Descriptor{
		ID:   e.id,
		Name: name,
		Ops: devreg.Ops{
			Open:  e.open,
			Close: e.close,
			Read:  e.read,
			Write: e.write,
			Ioctl: e.ioctl,
		},
	}
}

// Halt implements conn.Resource.
//
// It stops interrupt emulation, drops every callback and sets every pin as
// an input.
func (e *Expander) Halt() error {
	e.mu.Lock()
	for i := range e.irqs {
		e.irqs[i] = nil
	}
	e.armed = 0
	stop, done := e.stopPollLocked()
	e.mu.Unlock()
	waitPoll(stop, done)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.h.SetBitMode(0, bitModeAsyncBitbang); err != nil {
		return err
	}
	e.dmask = 0
	return nil
}

//

func (e *Expander) open(id devreg.DeviceID, arg interface{}) error {
	return nil
}

func (e *Expander) close(id devreg.DeviceID) error {
	return nil
}

func (e *Expander) read(id devreg.DeviceID, b []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range b {
		v, err := e.h.GetBitMode()
		if err != nil {
			return i, err
		}
		b[i] = v
	}
	return len(b), nil
}

func (e *Expander) write(id devreg.DeviceID, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.h.Write(b)
	if n != 0 {
		e.dvalue = b[n-1]
	}
	return n, err
}

func (e *Expander) ioctl(id devreg.DeviceID, arg interface{}, cmd devreg.Cmd) error {
	switch cmd {
	case ioexp.CmdGetPinTotalNum:
		c, ok := arg.(*ioexp.PinCount)
		if !ok {
			return e.badArg(cmd, arg)
		}
		c.N = DBusPins
		return nil
	case ioexp.CmdWriteMulti:
		b, ok := arg.([]ioexp.PinArg)
		if !ok {
			return e.badArg(cmd, arg)
		}
		return e.writeMulti(b)
	case ioexp.CmdRegisterIrq:
		a, ok := arg.(*ioexp.IrqArg)
		if !ok || a.Callback == nil {
			return e.badArg(cmd, arg)
		}
		return e.registerIrq(a)
	case ioexp.CmdUnregisterIrq:
		a, ok := arg.(*ioexp.IrqArg)
		if !ok {
			return e.badArg(cmd, arg)
		}
		return e.unregisterIrq(a.Pin)
	}

	a, ok := arg.(*ioexp.PinArg)
	if !ok {
		return e.badArg(cmd, arg)
	}
	if err := e.checkPin(a.Device, a.Pin); err != nil {
		return err
	}
	mask := uint8(1 << uint(a.Pin))
	e.mu.Lock()
	defer e.mu.Unlock()
	switch cmd {
	case ioexp.CmdSetDirection:
		v := e.dmask &^ mask
		if a.Direction == ioexp.Output {
			v |= mask
		}
		return e.setDBusMaskLocked(v)
	case ioexp.CmdGetDirection:
		a.Direction = ioexp.Input
		if e.dmask&mask != 0 {
			a.Direction = ioexp.Output
		}
		return nil
	case ioexp.CmdWrite:
		v := e.dvalue &^ mask
		if a.Level {
			v |= mask
		}
		return e.outLocked(v)
	case ioexp.CmdRead:
		v, err := e.h.GetBitMode()
		if err != nil {
			return err
		}
		a.Level = v&mask != 0
		return nil
	default:
		return halerr.New(halerr.NoSupported, "ftdi.Ioctl", "command "+strconv.Itoa(int(cmd)))
	}
}

// writeMulti updates every pin of b with a single USB write.
func (e *Expander) writeMulti(b []ioexp.PinArg) error {
	for i := range b {
		if err := e.checkPin(b[i].Device, b[i].Pin); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.dvalue
	for i := range b {
		mask := uint8(1 << uint(b[i].Pin))
		if b[i].Level {
			v |= mask
		} else {
			v &^= mask
		}
	}
	return e.outLocked(v)
}

func (e *Expander) setDBusMaskLocked(mask uint8) error {
	if mask != e.dmask {
		if err := e.h.SetBitMode(mask, bitModeAsyncBitbang); err != nil {
			return err
		}
		e.dmask = mask
	}
	return nil
}

func (e *Expander) outLocked(v uint8) error {
	b := [1]byte{v}
	if _, err := e.h.Write(b[:]); err != nil {
		return err
	}
	e.dvalue = v
	return nil
}

func (e *Expander) registerIrq(a *ioexp.IrqArg) error {
	if err := e.checkPin(e.id, a.Pin); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.irqs[a.Pin] != nil {
		return halerr.New(halerr.Already, "ftdi.Ioctl", e.name+": D"+strconv.Itoa(a.Pin)+" already has an interrupt")
	}
	v, err := e.h.GetBitMode()
	if err != nil {
		return err
	}
	e.irqs[a.Pin] = &irq{typ: a.Type, cb: a.Callback, last: v&(1<<uint(a.Pin)) != 0}
	e.armed++
	if e.armed == 1 && e.poll > 0 {
		e.stop = make(chan struct{})
		e.done = make(chan struct{})
		go e.pollLoop(e.stop, e.done)
	}
	return nil
}

// unregisterIrq returns once the callback cannot be called anymore.
func (e *Expander) unregisterIrq(pin int) error {
	if err := e.checkPin(e.id, pin); err != nil {
		return err
	}
	e.mu.Lock()
	if e.irqs[pin] == nil {
		e.mu.Unlock()
		return halerr.New(halerr.NotFound, "ftdi.Ioctl", e.name+": D"+strconv.Itoa(pin)+" has no interrupt")
	}
	e.irqs[pin] = nil
	e.armed--
	var stop, done chan struct{}
	if e.armed == 0 {
		stop, done = e.stopPollLocked()
	}
	e.mu.Unlock()
	waitPoll(stop, done)
	// Wait for a dispatch that sampled the callback before it was removed.
	e.dispatchMu.Lock()
	e.dispatchMu.Unlock()
	return nil
}

// stopPollLocked detaches the poll goroutine channels. The caller must call
// waitPoll without holding mu.
func (e *Expander) stopPollLocked() (chan struct{}, chan struct{}) {
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	return stop, done
}

func waitPoll(stop, done chan struct{}) {
	if stop != nil {
		close(stop)
		<-done
	}
}

func (e *Expander) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(e.poll)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		if err := e.sample(); err != nil {
			e.log.WithError(err).Warn("sampling DBus")
		}
	}
}

// sample reads the DBus once and calls the callbacks whose condition is met.
func (e *Expander) sample() error {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	type event struct {
		cb func(gpio.Level)
		l  gpio.Level
	}
	var events []event
	e.mu.Lock()
	v, err := e.h.GetBitMode()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	for i, s := range e.irqs {
		if s == nil {
			continue
		}
		l := gpio.Level(v&(1<<uint(i)) != 0)
		if s.typ.Triggers(s.last, l) {
			events = append(events, event{s.cb, l})
		}
		s.last = l
	}
	e.mu.Unlock()
	for _, ev := range events {
		ev.cb(ev.l)
	}
	return nil
}

func (e *Expander) checkPin(dev devreg.DeviceID, pin int) error {
	if dev != e.id {
		return halerr.New(halerr.InvalidParam, "ftdi.Ioctl", "pin of device "+dev.String()+" sent to "+e.name)
	}
	if pin < 0 || pin >= DBusPins {
		return halerr.New(halerr.InvalidParam, "ftdi.Ioctl", e.name+": no pin D"+strconv.Itoa(pin))
	}
	return nil
}

func (e *Expander) badArg(cmd devreg.Cmd, arg interface{}) error {
	return halerr.New(halerr.InvalidParam, "ftdi.Ioctl", fmt.Sprintf("%s: command %d: unexpected argument %T", e.name, cmd, arg))
}
