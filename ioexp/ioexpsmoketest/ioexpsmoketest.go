// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ioexpsmoketest is leveraged by periph-smoketest to verify that two
// IO expander pins wired together are working as expected.
package ioexpsmoketest

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/hal/v3"
	"periph.io/x/hal/v3/config"
)

// SmokeTest is imported by periph-smoketest.
type SmokeTest struct {
}

// Name implements the SmokeTest interface.
func (s *SmokeTest) Name() string {
	return "ioexp"
}

// Description implements the SmokeTest interface.
func (s *SmokeTest) Description() string {
	return "Tests two IO expander pins connected together"
}

// Run implements the SmokeTest interface.
func (s *SmokeTest) Run(f *flag.FlagSet, args []string) (err error) {
	path := f.String("config", "", "YAML configuration file listing the expander pins")
	in := f.String("in", "IOEXP0", "pin used as input")
	out := f.String("out", "IOEXP1", "pin used as output, wired to -in")
	if err := f.Parse(args); err != nil {
		return err
	}
	if f.NArg() != 0 {
		f.Usage()
		return errors.New("unrecognized arguments")
	}
	if *path == "" {
		return errors.New("-config is required")
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	st, err := hal.Init(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err2 := st.Close(); err == nil {
			err = err2
		}
	}()

	p1 := gpioreg.ByName(*in)
	if p1 == nil {
		return fmt.Errorf("unknown pin %q", *in)
	}
	p2 := gpioreg.ByName(*out)
	if p2 == nil {
		return fmt.Errorf("unknown pin %q", *out)
	}
	return run(p1, p2)
}

func run(p1, p2 gpio.PinIO) error {
	if err := gpioTest(&loggingPin{p1}, &loggingPin{p2}); err != nil {
		return err
	}
	if err := edgeTest(p1, p2); err != nil {
		return err
	}
	return gpioPerfTest(p2)
}

// gpioPerfTest reads and write in a tight loop to evaluate performance.
//
// It doesn't evaluate correctness.
func gpioPerfTest(p gpio.PinIO) error {
	fmt.Printf("  GPIO performance on %s:\n", p)
	const loops = 1000
	fmt.Printf("    %d reads:  ", loops)
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return err
	}
	start := time.Now()
	for i := 0; i < loops; i++ {
		p.Read()
	}
	s := time.Since(start)
	fmt.Printf("%s; %s/op\n", s, s/loops)
	fmt.Printf("    %d writes: ", loops)
	if err := p.Out(gpio.Low); err != nil {
		return err
	}
	start = time.Now()
	for i := 0; i < loops; i++ {
		if err := p.Out(gpio.Low); err != nil {
			return err
		}
	}
	s = time.Since(start)
	fmt.Printf("%s; %s/op\n", s, s/loops)
	return nil
}

// gpioTest ensures connectivity works.
func gpioTest(p1, p2 gpio.PinIO) error {
	fmt.Printf("  GPIO functionality on %s and %s:\n", p1, p2)
	if err := p1.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return err
	}
	for _, l := range []gpio.Level{gpio.Low, gpio.High, gpio.Low} {
		if err := p2.Out(l); err != nil {
			return err
		}
		// There can be a small amount of skew. This should inject just enough time.
		time.Sleep(10 * time.Microsecond)
		if got := p1.Read(); got != l {
			return fmt.Errorf("%s: expected to read %s but got %s", p1, l, got)
		}
	}
	return nil
}

// edgeTest ensures the interrupt path delivers edges.
func edgeTest(p1, p2 gpio.PinIO) error {
	fmt.Printf("  Edge detection on %s:\n", p1)
	if err := p2.Out(gpio.Low); err != nil {
		return err
	}
	if err := p1.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return err
	}
	defer p1.In(gpio.PullNoChange, gpio.NoEdge)
	for i := 0; i < 3; i++ {
		if err := p2.Out(gpio.High); err != nil {
			return err
		}
		start := time.Now()
		if !p1.WaitForEdge(time.Second) {
			return fmt.Errorf("%s: no rising edge detected", p1)
		}
		fmt.Printf("    %s rising edge\n", time.Since(start))
		if err := p2.Out(gpio.Low); err != nil {
			return err
		}
		// A falling edge must not be reported.
		if p1.WaitForEdge(50 * time.Millisecond) {
			return fmt.Errorf("%s: unexpected edge", p1)
		}
	}
	return nil
}

// loggingPin logs when its state changes.
type loggingPin struct {
	gpio.PinIO
}

func (p *loggingPin) In(pull gpio.Pull, edge gpio.Edge) error {
	start := time.Now()
	if err := p.PinIO.In(pull, edge); err != nil {
		fmt.Printf("    %s %s.In(%s, %s) = %v\n", time.Since(start), p, pull, edge, err)
		return err
	}
	fmt.Printf("    %s %s.In(%s, %s)\n", time.Since(start), p, pull, edge)
	return nil
}

func (p *loggingPin) Read() gpio.Level {
	start := time.Now()
	l := p.PinIO.Read()
	fmt.Printf("    %s %s.Read() = %s\n", time.Since(start), p, l)
	return l
}

func (p *loggingPin) Out(l gpio.Level) error {
	start := time.Now()
	if err := p.PinIO.Out(l); err != nil {
		fmt.Printf("    %s %s.Out(%s) = %v\n", time.Since(start), p, l, err)
		return err
	}
	fmt.Printf("    %s %s.Out(%s)\n", time.Since(start), p, l)
	return nil
}
