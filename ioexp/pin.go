// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/hal/v3/halerr"
)

// Pin is an opened logical pin exposed as a gpio.PinIO.
//
// Edges are delivered to WaitForEdge through the interrupt handler that In
// registers. Pin has no pull resistor control.
type Pin struct {
	x    *Expander
	h    Handle
	name string

	mu   sync.Mutex
	edge gpio.Edge
	halt chan struct{} // closed by Halt to wake the current waiters

	edges chan gpio.Level
}

// Pin opens the logical pin id and wraps it.
func (x *Expander) Pin(id int) (*Pin, error) {
	h, err := x.Open(id)
	if err != nil {
		return nil, err
	}
	return &Pin{
		x:     x,
		h:     h,
		name:  fmt.Sprintf("IOEXP%d", id),
		edges: make(chan gpio.Level, 1),
		halt:  make(chan struct{}),
	}, nil
}

// RegisterPins opens every logical pin that is not opened yet and registers
// it in gpioreg as IOEXP<id>.
//
// Pins already opened through Open are skipped.
func (x *Expander) RegisterPins() ([]*Pin, error) {
	var out []*Pin
	for id := 0; id < x.Len(); id++ {
		p, err := x.Pin(id)
		if errors.Is(err, halerr.Already) {
			continue
		}
		if err != nil {
			return out, err
		}
		if err = gpioreg.Register(p); err != nil {
			_ = x.Close(p.h)
			return out, fmt.Errorf("ioexp: registering %s: %w", p.name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Close unregisters the pin from gpioreg, if it was registered, and closes
// it.
func (p *Pin) Close() error {
	if gpioreg.ByName(p.name) == p {
		_ = gpioreg.Unregister(p.name)
	}
	return p.x.Close(p.h)
}

// Handle returns the expander handle backing p.
func (p *Pin) Handle() Handle {
	return p.h
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.name
}

// Halt implements conn.Resource. It interrupts the WaitForEdge calls
// already blocked; later calls are not affected.
func (p *Pin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.halt)
	p.halt = make(chan struct{})
	return nil
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.name
}

// Number implements pin.Pin. It returns the logical pin number.
func (p *Pin) Number() int {
	return p.h.ID()
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	p.mu.Lock()
	edge := p.edge
	p.mu.Unlock()
	if edge != gpio.NoEdge {
		// Direction cannot be queried while the interrupt handler is installed.
		return gpio.IN
	}
	dir, err := p.x.GetConfigure(p.h)
	if err != nil {
		return pin.FuncNone
	}
	if dir == Input {
		if p.Read() {
			return gpio.IN_HIGH
		}
		return gpio.IN_LOW
	}
	if p.Read() {
		return gpio.OUT_HIGH
	}
	return gpio.OUT_LOW
}

// SupportedFuncs implements pin.PinFunc.
func (p *Pin) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.IN, gpio.OUT}
}

// SetFunc implements pin.PinFunc.
func (p *Pin) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	case gpio.OUT_HIGH:
		return p.Out(gpio.High)
	case gpio.OUT, gpio.OUT_LOW:
		return p.Out(gpio.Low)
	default:
		return errors.New("ioexp: unsupported function " + string(f))
	}
}

// In implements gpio.PinIn.
//
// Only gpio.PullNoChange and gpio.Float are accepted.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.PullNoChange && pull != gpio.Float {
		return fmt.Errorf("ioexp: %s: pull %s is not supported", p.name, pull)
	}
	typ, err := irqType(edge)
	if err != nil {
		return fmt.Errorf("ioexp: %s: %w", p.name, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.edge != gpio.NoEdge {
		if err = p.x.UnregisterIrqHandler(p.h); err != nil {
			return err
		}
		p.edge = gpio.NoEdge
	}
	if err = p.x.SetConfigure(p.h, Input); err != nil {
		return err
	}
	if edge == gpio.NoEdge {
		return nil
	}
	if p.reversed() {
		typ = typ.Invert()
	}
	// Drop edges left from a previous configuration.
	select {
	case <-p.edges:
	default:
	}
	if err = p.x.RegisterIrqHandler(p.h, pinEdge, p, typ); err != nil {
		return err
	}
	p.edge = edge
	return nil
}

// Read implements gpio.PinIn. Errors are reported to the Expander sink and
// read as Low.
func (p *Pin) Read() gpio.Level {
	l, err := p.x.Read(p.h)
	if err != nil {
		return gpio.Low
	}
	return l
}

// WaitForEdge implements gpio.PinIn. A timeout of 0 waits forever.
//
// It returns false immediately if edge detection is not enabled.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	edge, halt := p.edge, p.halt
	p.mu.Unlock()
	if edge == gpio.NoEdge {
		return false
	}
	var t <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		t = tm.C
	}
	select {
	case <-p.edges:
		return true
	case <-halt:
		return false
	case <-t:
		return false
	}
}

// Pull implements gpio.PinIn.
func (p *Pin) Pull() gpio.Pull {
	return gpio.PullNoChange
}

// DefaultPull implements gpio.PinIn.
func (p *Pin) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.edge != gpio.NoEdge {
		if err := p.x.UnregisterIrqHandler(p.h); err != nil {
			return err
		}
		p.edge = gpio.NoEdge
	}
	dir, err := p.x.GetConfigure(p.h)
	if err != nil {
		return err
	}
	if dir != Output {
		if err = p.x.SetConfigure(p.h, Output); err != nil {
			return err
		}
	}
	return p.x.Write(p.h, l)
}

// PWM implements gpio.PinOut.
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("ioexp: PWM is not supported")
}

func (p *Pin) reversed() bool {
	p.x.apiMu.Lock()
	defer p.x.apiMu.Unlock()
	if p.h.id >= len(p.x.descs) {
		return false
	}
	return p.x.descs[p.h.id].m.Reverse
}

// pinEdge is the Handler installed by Pin.In. data is the *Pin.
func pinEdge(l gpio.Level, data interface{}) {
	p := data.(*Pin)
	select {
	case p.edges <- l:
	default:
	}
}

func irqType(e gpio.Edge) (IrqType, error) {
	switch e {
	case gpio.NoEdge:
		return 0, nil
	case gpio.RisingEdge:
		return IrqRisingEdge, nil
	case gpio.FallingEdge:
		return IrqFallingEdge, nil
	case gpio.BothEdges:
		return IrqBothEdges, nil
	default:
		return 0, fmt.Errorf("edge %s is not supported", e)
	}
}

var _ gpio.PinIO = &Pin{}
var _ pin.PinFunc = &Pin{}
