// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexp

import (
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/logging"
)

// Handle is an opened logical pin.
//
// The zero Handle is never valid. A Handle stays invalid once its pin was
// closed, even if the pin is opened again.
type Handle struct {
	id  int
	gen uint32
}

// ID returns the logical pin number.
func (h Handle) ID() int {
	return h.id
}

func (h Handle) String() string {
	return "ioexp.Handle(" + strconv.Itoa(h.id) + "#" + strconv.FormatUint(uint64(h.gen), 10) + ")"
}

// Option configures an Expander.
type Option func(x *Expander)

// WithSink sets the sink failures are reported to. Defaults to
// logging.Discard.
func WithSink(s logging.Sink) Option {
	return func(x *Expander) { x.sink = s }
}

// Expander multiplexes logical pins onto expander devices reached through a
// devreg.Registry.
//
// Every public method is serialized by a single mutex. Interrupt dispatch is
// serialized separately by irqMu, which is always acquired after apiMu.
type Expander struct {
	apiMu sync.Mutex
	irqMu sync.Mutex

	reg  *devreg.Registry
	pins PinMap
	sink logging.Sink

	// Guarded by apiMu.
	ready   bool
	descs   []*descriptor
	devices []*deviceInfo
	// seq is the last Handle generation handed out. It survives Finalize.
	seq uint32
}

// New returns an uninitialized Expander that reads its pin mapping from pins
// and reaches the devices through reg.
func New(reg *devreg.Registry, pins PinMap, opts ...Option) *Expander {
	x := &Expander{reg: reg, pins: pins, sink: logging.Discard}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Initialize builds the pin catalogue and opens one registry handle per
// distinct device.
//
// On failure every device handle already opened is closed and the Expander
// stays uninitialized.
func (x *Expander) Initialize() error {
	const op = "ioexp.Initialize"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	if x.ready {
		return x.fail(halerr.New(halerr.InvalidState, op, "already initialized"))
	}
	descs, devs, err := catalogue(x.pins)
	if err != nil {
		return x.fail(err)
	}
	for _, dev := range devs {
		if err = x.openDevice(dev); err != nil {
			x.closeDevices(op, devs)
			return x.fail(err)
		}
	}
	x.descs = descs
	x.devices = devs
	x.ready = true
	return nil
}

func (x *Expander) openDevice(dev *deviceInfo) error {
	h, err := x.reg.Open(dev.id, nil)
	if err != nil {
		return err
	}
	dev.h = h
	dev.opened = true
	var c PinCount
	if err = x.reg.Ioctl(h, &c, CmdGetPinTotalNum); err != nil {
		return err
	}
	if c.N < 0 {
		return halerr.New(halerr.Internal, "ioexp.Initialize", "device "+dev.id.String()+" reported "+strconv.Itoa(c.N)+" pins")
	}
	dev.pinTotal = c.N
	return nil
}

func (x *Expander) closeDevices(op string, devs []*deviceInfo) error {
	var first error
	for _, dev := range devs {
		if !dev.opened {
			continue
		}
		if err := x.reg.Close(dev.h); err != nil {
			x.sink.Event(logging.Warn, halerr.KindOf(err), "%s: closing device %s: %v", op, dev.id, err)
			if first == nil {
				first = err
			}
			continue
		}
		dev.opened = false
	}
	return first
}

// Finalize closes every opened pin, including its interrupt registration,
// then closes every device handle.
//
// Handlers are never called once Finalize returns, even when the driver
// failed to unregister them.
//
// Teardown continues past failures; the first one is returned.
func (x *Expander) Finalize() error {
	const op = "ioexp.Finalize"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	if !x.ready {
		return x.fail(halerr.New(halerr.InvalidState, op, "not initialized"))
	}
	var first error
	for _, d := range x.descs {
		if !d.opened {
			continue
		}
		if err := x.close(d); err != nil {
			x.sink.Event(logging.Warn, halerr.KindOf(err), "%s: closing %s: %v", op, d.name(), err)
			if first == nil {
				first = err
			}
			// The driver may still call the trampoline; make it inert.
			x.clearHandler(d)
			d.irq = false
			d.opened = false
		}
	}
	if err := x.closeDevices(op, x.devices); err != nil && first == nil {
		first = err
	}
	x.descs = nil
	x.devices = nil
	x.ready = false
	return first
}

// Len returns the number of logical pins, or 0 when uninitialized.
func (x *Expander) Len() int {
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	return len(x.descs)
}

// Open opens the logical pin id.
func (x *Expander) Open(id int) (Handle, error) {
	const op = "ioexp.Open"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	if !x.ready {
		return Handle{}, x.fail(halerr.New(halerr.InvalidState, op, "not initialized"))
	}
	if id < 0 || id >= len(x.descs) {
		return Handle{}, x.fail(halerr.New(halerr.NotFound, op, "pin "+strconv.Itoa(id)))
	}
	d := x.descs[id]
	if d.opened {
		return Handle{}, x.fail(halerr.New(halerr.Already, op, d.name()+" is already open"))
	}
	x.seq++
	if x.seq == 0 {
		x.seq = 1
	}
	d.gen = x.seq
	d.opened = true
	return Handle{id: id, gen: d.gen}, nil
}

// Close closes the pin, unregistering its interrupt handler first.
func (x *Expander) Close(h Handle) error {
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	d, err := x.lookup("ioexp.Close", h)
	if err != nil {
		return x.fail(err)
	}
	return x.fail(x.close(d))
}

func (x *Expander) close(d *descriptor) error {
	if d.irq {
		if err := x.unregister(d); err != nil {
			return err
		}
	}
	d.opened = false
	return nil
}

// SetConfigure sets the direction of the pin.
func (x *Expander) SetConfigure(h Handle, dir Direction) error {
	const op = "ioexp.SetConfigure"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	d, err := x.lookupIdle(op, h)
	if err != nil {
		return x.fail(err)
	}
	if !dir.valid() {
		return x.fail(halerr.New(halerr.InvalidParam, op, dir.String()))
	}
	a := d.arg()
	a.Direction = dir
	return x.fail(x.reg.Ioctl(d.dev.h, a, CmdSetDirection))
}

// GetConfigure returns the direction of the pin.
func (x *Expander) GetConfigure(h Handle) (Direction, error) {
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	d, err := x.lookupIdle("ioexp.GetConfigure", h)
	if err != nil {
		return Input, x.fail(err)
	}
	dir, err := x.direction(d)
	return dir, x.fail(err)
}

func (x *Expander) direction(d *descriptor) (Direction, error) {
	a := d.arg()
	if err := x.reg.Ioctl(d.dev.h, a, CmdGetDirection); err != nil {
		return Input, err
	}
	return a.Direction, nil
}

// Write drives the pin to the logical level l.
//
// It fails with halerr.InputDirection when the pin is an input.
func (x *Expander) Write(h Handle, l gpio.Level) error {
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	d, a, err := x.prepareWrite("ioexp.Write", h, l)
	if err != nil {
		return x.fail(err)
	}
	return x.fail(x.reg.Ioctl(d.dev.h, &a, CmdWrite))
}

// WriteMulti drives several pins in one driver call.
//
// Every pin is validated as in Write before anything is written. The batch
// is sent to the device of hs[0]; whether the update is atomic depends on
// that driver.
func (x *Expander) WriteMulti(hs []Handle, ls []gpio.Level) error {
	const op = "ioexp.WriteMulti"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	if len(hs) == 0 || len(hs) != len(ls) {
		return x.fail(halerr.New(halerr.InvalidParam, op, strconv.Itoa(len(hs))+" handles for "+strconv.Itoa(len(ls))+" levels"))
	}
	batch := make([]PinArg, len(hs))
	var first *descriptor
	for i := range hs {
		d, a, err := x.prepareWrite(op, hs[i], ls[i])
		if err != nil {
			return x.fail(err)
		}
		if i == 0 {
			first = d
		}
		batch[i] = a
	}
	return x.fail(x.reg.Ioctl(first.dev.h, batch, CmdWriteMulti))
}

func (x *Expander) prepareWrite(op string, h Handle, l gpio.Level) (*descriptor, PinArg, error) {
	d, err := x.lookupIdle(op, h)
	if err != nil {
		return nil, PinArg{}, err
	}
	dir, err := x.direction(d)
	if err != nil {
		return nil, PinArg{}, err
	}
	if dir == Input {
		return nil, PinArg{}, halerr.New(halerr.InputDirection, op, d.name()+" is an input")
	}
	a := d.arg()
	a.Direction = Output
	a.Level = d.polarity(l)
	return d, *a, nil
}

// Read returns the logical level of the pin.
func (x *Expander) Read(h Handle) (gpio.Level, error) {
	const op = "ioexp.Read"
	x.apiMu.Lock()
	defer x.apiMu.Unlock()
	d, err := x.lookup(op, h)
	if err != nil {
		return gpio.Low, x.fail(err)
	}
	if err = checkPin(op, d); err != nil {
		return gpio.Low, x.fail(err)
	}
	a := d.arg()
	if err = x.reg.Ioctl(d.dev.h, a, CmdRead); err != nil {
		return gpio.Low, x.fail(err)
	}
	return d.polarity(a.Level), nil
}

//

// lookup must be called with apiMu held.
func (x *Expander) lookup(op string, h Handle) (*descriptor, error) {
	if !x.ready {
		return nil, halerr.New(halerr.InvalidState, op, "not initialized")
	}
	if h.id < 0 || h.id >= len(x.descs) {
		return nil, halerr.New(halerr.InvalidParam, op, "unknown "+h.String())
	}
	d := x.descs[h.id]
	if !d.opened || d.gen != h.gen {
		return nil, halerr.New(halerr.InvalidParam, op, "stale "+h.String())
	}
	return d, nil
}

// lookupIdle is lookup for operations that are refused while an interrupt
// handler is registered. It also checks the pin range.
func (x *Expander) lookupIdle(op string, h Handle) (*descriptor, error) {
	d, err := x.lookup(op, h)
	if err != nil {
		return nil, err
	}
	if d.irq {
		return nil, halerr.New(halerr.InvalidState, op, d.name()+" has an interrupt handler")
	}
	if err = checkPin(op, d); err != nil {
		return nil, err
	}
	return d, nil
}

func checkPin(op string, d *descriptor) error {
	if d.m.Pin >= d.dev.pinTotal {
		return halerr.New(halerr.InvalidParam, op, d.name()+": pin "+strconv.Itoa(d.m.Pin)+" out of range on device "+d.dev.id.String()+" with "+strconv.Itoa(d.dev.pinTotal)+" pins")
	}
	return nil
}

func (x *Expander) fail(err error) error {
	return logging.Fail(x.sink, err)
}
