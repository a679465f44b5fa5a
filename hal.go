// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hal

import (
	"github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/hal/v3/config"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/ftdi"
	"periph.io/x/hal/v3/gpioioctl"
	"periph.io/x/hal/v3/ioexp"
	"periph.io/x/hal/v3/logging"
)

// State is the result of Init.
type State struct {
	// Drivers is the periph driver loading result, as returned by
	// driverreg.Init().
	Drivers *driverreg.State

	log  *logrus.Entry
	reg  *devreg.Registry
	x    *ioexp.Expander
	pins []*ioexp.Pin
}

// Init loads the periph drivers, registers the devices they found in a
// devreg.Registry and exposes the pins listed in cfg through an
// ioexp.Expander.
//
// Every logical pin is registered in gpioreg as IOEXP<id>. cfg may be nil,
// in which case config.Default() is used.
func Init(cfg *config.Config) (*State, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	drv, err := driverreg.Init()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Level())
	for _, f := range drv.Failed {
		log.WithField("driver", f.D.String()).WithError(f.Err).Warn("driver failed")
	}
	return initWith(cfg, log, drv, devreg.Platforms(ftdi.Platform(), gpioioctl.Platform()))
}

func initWith(cfg *config.Config, log *logrus.Entry, drv *driverreg.State, p devreg.Platform) (*State, error) {
	reg := devreg.New(p,
		devreg.WithSink(logging.NewLogrus(log, "devreg")),
		devreg.WithMaxDrivers(cfg.MaxDrivers),
		devreg.WithMaxHandles(cfg.MaxHandles))
	if err := reg.Initialize(); err != nil {
		return nil, err
	}
	x := ioexp.New(reg, cfg, ioexp.WithSink(logging.NewLogrus(log, "ioexp")))
	if err := x.Initialize(); err != nil {
		_ = reg.Finalize()
		return nil, err
	}
	s := &State{Drivers: drv, log: log, reg: reg, x: x}
	pins, err := x.RegisterPins()
	s.pins = pins
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{"drivers": len(reg.Drivers()), "pins": x.Len()}).Info("initialized")
	return s, nil
}

// Registry returns the device registry.
func (s *State) Registry() *devreg.Registry {
	return s.reg
}

// Expander returns the IO expander serving the configured pins.
func (s *State) Expander() *ioexp.Expander {
	return s.x
}

// Pins returns the pins registered in gpioreg.
func (s *State) Pins() []*ioexp.Pin {
	return s.pins
}

// Close unregisters the pins and finalizes the expander, then the
// registry. It returns the first error encountered.
func (s *State) Close() error {
	var err error
	for _, p := range s.pins {
		if err1 := p.Close(); err1 != nil && err == nil {
			err = err1
		}
	}
	s.pins = nil
	if err1 := s.x.Finalize(); err1 != nil && err == nil {
		err = err1
	}
	if err1 := s.reg.Finalize(); err1 != nil && err == nil {
		err = err1
	}
	return err
}
