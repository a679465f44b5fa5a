// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/d2xx"
	"periph.io/x/hal/v3/devreg"
)

// DeviceBase is the devreg id of the first FTDI device. The device at index
// i is registered as DeviceBase+i.
const DeviceBase devreg.DeviceID = 0x100

// All enumerates the FTDI devices that were successfully opened.
func All() []*Expander {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	out := make([]*Expander, len(drv.all))
	copy(out, drv.all)
	return out
}

// Platform returns a devreg.Platform listing every device returned by All.
//
// Its Teardown halts every device. The USB handles stay open for the
// lifetime of the process.
func Platform() devreg.Platform {
	return platform{}
}

type platform struct{}

func (platform) Drivers() ([]devreg.Descriptor, error) {
	all := All()
	out := make([]devreg.Descriptor, 0, len(all))
	for _, e := range all {
		out = append(out, e.Descriptor())
	}
	return out, nil
}

func (platform) Teardown() error {
	var err error
	for _, e := range All() {
		if err1 := e.Halt(); err1 != nil && err == nil {
			err = err1
		}
	}
	return err
}

//

// open opens a FTDI device and switches its DBus to bit-bang.
func open(opener func(i int) (d2xx.Handle, d2xx.Err), i int, poll time.Duration) (*Expander, error) {
	h, err := openHandle(opener, i)
	if err != nil {
		return nil, err
	}
	if err := h.Init(); err != nil {
		// Init() takes the device in its previous state. It could be in an
		// unexpected state, so try resetting it first.
		if err := h.Reset(); err != nil {
			_ = h.Close()
			return nil, err
		}
		if err := h.Init(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	name := h.t.String()
	if i > 0 {
		// When more than one device is present, add "(index)" suffix.
		name += "(" + strconv.Itoa(i) + ")"
	}
	e, err := newExpander(h, DeviceBase+devreg.DeviceID(i), name, poll)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return e, nil
}

// driver implements driver.Impl.
type driver struct {
	mu         sync.Mutex
	all        []*Expander
	poll       time.Duration
	d2xxOpen   func(i int) (d2xx.Handle, d2xx.Err)
	numDevices func() (int, error)
}

func (d *driver) String() string {
	return "ftdi"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	num, err := d.numDevices()
	if err != nil {
		return true, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < num; i++ {
		e, err1 := open(d.d2xxOpen, i, d.poll)
		if err1 != nil {
			// Keep going, the other devices may be usable.
			logrus.WithField("prefix", "ftdi").WithError(err1).Warnf("device #%d", i)
			err = err1
			continue
		}
		d.all = append(d.all, e)
	}
	return true, err
}

func (d *driver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = nil
	d.poll = DefaultPoll
	// open is mocked in tests.
	d.d2xxOpen = d2xx.Open
	// numDevices is mocked in tests.
	d.numDevices = numDevices
}

func init() {
	if d2xx.Available {
		drv.reset()
		driverreg.MustRegister(&drv)
	}
}

var drv driver
