// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/hal/v3/devreg"
)

// DeviceBase is the devreg id of the first GPIO chip. Chips are sorted as
// described in All and the chip at index i is registered as DeviceBase+i.
const DeviceBase devreg.DeviceID = 0x200

// All returns the GPIO chips found on the running device.
//
// Chips labeled pinctrl- (a Pi kernel standard) come first, then the others
// sorted by label, so that ids do not depend on the kernel enumeration order.
func All() []*Chip {
	drvGPIO.mu.Lock()
	defer drvGPIO.mu.Unlock()
	out := make([]*Chip, len(drvGPIO.chips))
	copy(out, drvGPIO.chips)
	return out
}

// Platform returns a devreg.Platform listing every chip returned by All.
//
// Its Teardown halts every chip, releasing the lines requested through the
// registry.
func Platform() devreg.Platform {
	return platform{}
}

type platform struct{}

func (platform) Drivers() ([]devreg.Descriptor, error) {
	all := All()
	out := make([]devreg.Descriptor, 0, len(all))
	for _, c := range all {
		out = append(out, c.Descriptor())
	}
	return out, nil
}

func (platform) Teardown() error {
	var err error
	for _, c := range All() {
		if err1 := c.Halt(); err1 != nil && err == nil {
			err = err1
		}
	}
	return err
}

//

// driverGPIO implements periph.Driver.
type driverGPIO struct {
	mu    sync.Mutex
	chips []*Chip
	// Mocked in tests.
	glob     func(pattern string) ([]string, error)
	openChip func(path string) (lineIO, error)
}

func (d *driverGPIO) String() string {
	return "ioctl-gpio"
}

func (d *driverGPIO) Prerequisites() []string {
	return nil
}

func (d *driverGPIO) After() []string {
	return nil
}

// Init opens every GPIO chip.
//
// # Uses Linux gpio ioctl as described at
//
// https://docs.kernel.org/userspace-api/gpio/chardev.html
func (d *driverGPIO) Init() (bool, error) {
	items, err := d.glob("/dev/gpiochip*")
	if err != nil {
		return true, fmt.Errorf("gpioioctl: %w", err)
	}
	if len(items) == 0 {
		return false, errors.New("no GPIO chips found")
	}
	var ios []lineIO
	for _, item := range items {
		io, err := d.openChip(item)
		if err != nil {
			logrus.WithField("prefix", "gpioioctl").WithError(err).Warn("skipping chip")
			continue
		}
		ios = append(ios, io)
	}
	sort.SliceStable(ios, func(i, j int) bool {
		I := ios[i].Label()
		J := ios[j].Label()
		if strings.HasPrefix(I, "pinctrl-") != strings.HasPrefix(J, "pinctrl-") {
			return strings.HasPrefix(I, "pinctrl-")
		}
		return I < J
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]struct{})
	for _, io := range ios {
		// On a pi, gpiochip0 is also symlinked to gpiochip4, checking the map
		// ensures we don't duplicate the chip.
		if _, found := seen[io.Name()]; found {
			_ = io.Close()
			continue
		}
		seen[io.Name()] = struct{}{}
		d.chips = append(d.chips, newChip(io, DeviceBase+devreg.DeviceID(len(d.chips))))
	}
	return len(d.chips) > 0, nil
}

func (d *driverGPIO) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chips = nil
	d.glob = filepath.Glob
	d.openChip = openChip
}

var drvGPIO driverGPIO

func init() {
	if runtime.GOOS == "linux" {
		drvGPIO.reset()
		driverreg.MustRegister(&drvGPIO)
	}
}
