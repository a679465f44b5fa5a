// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexpsmoketest

import (
	"flag"
	"io"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestRun(t *testing.T) {
	in := &gpiotest.Pin{N: "IN", EdgesChan: make(chan gpio.Level, 4)}
	out := &wire{Pin: gpiotest.Pin{N: "OUT"}, peer: in}
	if err := run(in, out); err != nil {
		t.Fatal(err)
	}
}

func TestRunDisconnected(t *testing.T) {
	in := &gpiotest.Pin{N: "IN", EdgesChan: make(chan gpio.Level, 4)}
	out := &gpiotest.Pin{N: "OUT"}
	if err := run(in, out); err == nil {
		t.Fatal("expected failure")
	}
}

func TestRunFlags(t *testing.T) {
	s := SmokeTest{}
	if s.Name() != "ioexp" || s.Description() == "" {
		t.Fatal(s.Name(), s.Description())
	}
	data := [][]string{
		{},
		{"extra"},
		{"-config", "/nonexistent/hal.yaml"},
	}
	for _, args := range data {
		f := flag.NewFlagSet("ioexp", flag.ContinueOnError)
		f.SetOutput(io.Discard)
		if err := s.Run(f, args); err == nil {
			t.Fatalf("Run(%q) succeeded", args)
		}
	}
}

// wire is an output pin connected to peer. Rising edges are reported to
// peer.
type wire struct {
	gpiotest.Pin
	peer *gpiotest.Pin
}

func (w *wire) Out(l gpio.Level) error {
	if err := w.Pin.Out(l); err != nil {
		return err
	}
	w.peer.Lock()
	prev := w.peer.L
	w.peer.L = l
	w.peer.Unlock()
	if prev == gpio.Low && l == gpio.High {
		select {
		case w.peer.EdgesChan <- l:
		default:
		}
	}
	return nil
}
