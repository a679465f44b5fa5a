// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/ioexp"
)

// eventPoll bounds how long stopping an interrupt watcher can take.
const eventPoll = 100 * time.Millisecond

// Chip is a Linux GPIO chip served as an IO expander.
//
// It is a devreg driver speaking the ioexp ioctl protocol. Each line offset
// is an expander pin. Lines are requested from the kernel on first use.
// CmdWriteMulti updates the lines one at a time.
type Chip struct {
	id  devreg.DeviceID
	io  lineIO
	log *logrus.Entry

	mu   sync.Mutex
	dirs []ioexp.Direction
	used []bool
	irqs []*watcher
}

// watcher delivers the kernel edge events of one line.
type watcher struct {
	typ  ioexp.IrqType
	cb   func(gpio.Level)
	stop chan struct{}
	done chan struct{}
}

func newChip(io lineIO, id devreg.DeviceID) *Chip {
	n := io.Lines()
	return &Chip{
		id:   id,
		io:   io,
		log:  logrus.WithFields(logrus.Fields{"prefix": "gpioioctl", "device": id.String()}),
		dirs: make([]ioexp.Direction, n),
		used: make([]bool, n),
		irqs: make([]*watcher, n),
	}
}

func (c *Chip) String() string {
	return c.io.Name()
}

// ID returns the devreg id the chip is registered under.
func (c *Chip) ID() devreg.DeviceID {
	return c.id
}

// Label returns the label of the chip as reported by the kernel.
func (c *Chip) Label() string {
	return c.io.Label()
}

// LineCount returns the number of lines of the chip.
func (c *Chip) LineCount() int {
	return c.io.Lines()
}

// Descriptor returns the devreg descriptor of the chip.
func (c *Chip) Descriptor() devreg.Descriptor {
	name := c.io.Name()
	if len(name) > devreg.MaxNameLen {
		name = name[:devreg.MaxNameLen]
	}
	return devreg.Descriptor{
		ID:   c.id,
		Name: name,
		Ops: devreg.Ops{
			Open:  c.open,
			Close: c.close,
			Ioctl: c.ioctl,
		},
	}
}

// Halt implements conn.Resource.
//
// It stops every interrupt watcher and releases every line.
func (c *Chip) Halt() error {
	c.mu.Lock()
	var ws []*watcher
	for i, w := range c.irqs {
		if w != nil {
			close(w.stop)
			ws = append(ws, w)
			c.irqs[i] = nil
		}
	}
	c.mu.Unlock()
	for _, w := range ws {
		<-w.done
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for i := range c.used {
		if !c.used[i] {
			continue
		}
		if err1 := c.io.Release(i); err1 != nil && err == nil {
			err = err1
		}
		c.used[i] = false
		c.dirs[i] = ioexp.Input
	}
	return err
}

// Close halts the chip and closes the character device.
func (c *Chip) Close() error {
	err := c.Halt()
	if err1 := c.io.Close(); err == nil {
		err = err1
	}
	return err
}

//

func (c *Chip) open(id devreg.DeviceID, arg interface{}) error {
	return nil
}

func (c *Chip) close(id devreg.DeviceID) error {
	return nil
}

func (c *Chip) ioctl(id devreg.DeviceID, arg interface{}, cmd devreg.Cmd) error {
	switch cmd {
	case ioexp.CmdGetPinTotalNum:
		n, ok := arg.(*ioexp.PinCount)
		if !ok {
			return c.badArg(cmd, arg)
		}
		n.N = c.io.Lines()
		return nil
	case ioexp.CmdWriteMulti:
		b, ok := arg.([]ioexp.PinArg)
		if !ok {
			return c.badArg(cmd, arg)
		}
		return c.writeMulti(b)
	case ioexp.CmdRegisterIrq:
		a, ok := arg.(*ioexp.IrqArg)
		if !ok || a.Callback == nil {
			return c.badArg(cmd, arg)
		}
		return c.registerIrq(a)
	case ioexp.CmdUnregisterIrq:
		a, ok := arg.(*ioexp.IrqArg)
		if !ok {
			return c.badArg(cmd, arg)
		}
		return c.unregisterIrq(a.Pin)
	}

	a, ok := arg.(*ioexp.PinArg)
	if !ok {
		return c.badArg(cmd, arg)
	}
	if err := c.checkPin(a.Device, a.Pin); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd {
	case ioexp.CmdSetDirection:
		return c.setDirectionLocked(a.Pin, a.Direction, gpio.NoEdge)
	case ioexp.CmdGetDirection:
		a.Direction = c.dirs[a.Pin]
		return nil
	case ioexp.CmdWrite:
		return c.writeLocked(a.Pin, a.Level)
	case ioexp.CmdRead:
		if err := c.requestLocked(a.Pin); err != nil {
			return err
		}
		l, err := c.io.Value(a.Pin)
		a.Level = l
		return err
	default:
		return halerr.New(halerr.NoSupported, "gpioioctl.Ioctl", "command "+strconv.Itoa(int(cmd)))
	}
}

func (c *Chip) writeMulti(b []ioexp.PinArg) error {
	for i := range b {
		if err := c.checkPin(b[i].Device, b[i].Pin); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range b {
		if err := c.writeLocked(b[i].Pin, b[i].Level); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chip) writeLocked(offset int, l gpio.Level) error {
	if !c.used[offset] || c.dirs[offset] != ioexp.Output {
		return halerr.New(halerr.InputDirection, "gpioioctl.Ioctl", c.lineName(offset)+" is an input")
	}
	return c.io.SetValue(offset, l)
}

// requestLocked requests the line as an input if it was never used.
func (c *Chip) requestLocked(offset int) error {
	if c.used[offset] {
		return nil
	}
	return c.setDirectionLocked(offset, ioexp.Input, gpio.NoEdge)
}

func (c *Chip) setDirectionLocked(offset int, dir ioexp.Direction, edge gpio.Edge) error {
	if err := c.io.SetConfig(offset, getFlags(dir, edge, gpio.PullNoChange)); err != nil {
		return err
	}
	c.used[offset] = true
	c.dirs[offset] = dir
	return nil
}

func (c *Chip) registerIrq(a *ioexp.IrqArg) error {
	if err := c.checkPin(c.id, a.Pin); err != nil {
		return err
	}
	edge := irqEdge(a.Type)
	if edge == gpio.NoEdge {
		return halerr.New(halerr.InvalidParam, "gpioioctl.Ioctl", a.Type.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.irqs[a.Pin] != nil {
		return halerr.New(halerr.Already, "gpioioctl.Ioctl", c.lineName(a.Pin)+" already has an interrupt")
	}
	if err := c.setDirectionLocked(a.Pin, ioexp.Input, edge); err != nil {
		return err
	}
	w := &watcher{typ: a.Type, cb: a.Callback, stop: make(chan struct{}), done: make(chan struct{})}
	c.irqs[a.Pin] = w
	go c.watch(a.Pin, w)
	return nil
}

// unregisterIrq returns once the callback cannot be called anymore.
func (c *Chip) unregisterIrq(offset int) error {
	if err := c.checkPin(c.id, offset); err != nil {
		return err
	}
	c.mu.Lock()
	w := c.irqs[offset]
	if w == nil {
		c.mu.Unlock()
		return halerr.New(halerr.NotFound, "gpioioctl.Ioctl", c.lineName(offset)+" has no interrupt")
	}
	c.irqs[offset] = nil
	c.mu.Unlock()
	close(w.stop)
	<-w.done
	c.mu.Lock()
	defer c.mu.Unlock()
	// Disable edge detection so the kernel stops queuing events.
	return c.setDirectionLocked(offset, ioexp.Input, gpio.NoEdge)
}

func (c *Chip) watch(offset int, w *watcher) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		l, ok, err := c.io.WaitEvent(offset, eventPoll)
		if err != nil {
			c.log.WithError(err).Warnf("line %d", offset)
			select {
			case <-w.stop:
				return
			case <-time.After(eventPoll):
			}
			continue
		}
		if ok && w.typ.Triggers(!l, l) {
			w.cb(l)
		}
	}
}

func (c *Chip) lineName(offset int) string {
	return fmt.Sprintf("%s line %d", c.io.Name(), offset)
}

func (c *Chip) checkPin(dev devreg.DeviceID, offset int) error {
	if dev != c.id {
		return halerr.New(halerr.InvalidParam, "gpioioctl.Ioctl", "pin of device "+dev.String()+" sent to "+c.io.Name())
	}
	if offset < 0 || offset >= c.io.Lines() {
		return halerr.New(halerr.InvalidParam, "gpioioctl.Ioctl", c.io.Name()+": no line "+strconv.Itoa(offset))
	}
	return nil
}

func (c *Chip) badArg(cmd devreg.Cmd, arg interface{}) error {
	return halerr.New(halerr.InvalidParam, "gpioioctl.Ioctl", fmt.Sprintf("%s: command %d: unexpected argument %T", c.io.Name(), cmd, arg))
}
