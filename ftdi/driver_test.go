// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"sync"
	"testing"

	"periph.io/x/d2xx"
	"periph.io/x/d2xx/d2xxtest"
)

func TestDriver(t *testing.T) {
	defer reset(t)
	fakes := []*fakeHandle{
		newFake(DevTypeFT232R),
		newFake(DevTypeFTAM),
		newFake(DevTypeFT232H),
	}
	drv.numDevices = func() (int, error) {
		return 4, nil
	}
	drv.d2xxOpen = func(i int) (d2xx.Handle, d2xx.Err) {
		if i >= len(fakes) {
			return nil, d2xx.Err(2)
		}
		return fakes[i], 0
	}
	if b, err := drv.Init(); !b || err == nil {
		t.Fatalf("Init() = %t, %v", b, err)
	}
	all := All()
	if len(all) != 2 {
		t.Fatalf("All() = %v", all)
	}
	if s := all[0].String(); s != "FT232R" {
		t.Fatal(s)
	}
	if s := all[1].String(); s != "FT232H(2)" {
		t.Fatal(s)
	}
	if id := all[1].ID(); id != DeviceBase+2 {
		t.Fatal(id)
	}
	if all[1].Type() != DevTypeFT232H {
		t.Fatal(all[1].Type())
	}
	if !fakes[1].isClosed() {
		t.Fatal("unsupported device must be closed")
	}
	for _, f := range []*fakeHandle{fakes[0], fakes[2]} {
		if f.isClosed() {
			t.Fatal("device closed")
		}
		if m := f.bitMode(); m != byte(bitModeAsyncBitbang) {
			t.Fatalf("mode %#x", m)
		}
	}
}

func TestDriverNumDevicesError(t *testing.T) {
	defer reset(t)
	drv.numDevices = func() (int, error) {
		return 0, toErr("GetNumDevices initialization failed", d2xx.Err(1))
	}
	if b, err := drv.Init(); !b || err == nil {
		t.Fatalf("Init() = %t, %v", b, err)
	}
	if len(All()) != 0 {
		t.Fatal("expected no device")
	}
}

func TestPlatform(t *testing.T) {
	defer reset(t)
	f := newFake(DevTypeFT232R)
	drv.numDevices = func() (int, error) {
		return 1, nil
	}
	drv.d2xxOpen = func(i int) (d2xx.Handle, d2xx.Err) {
		return f, 0
	}
	if _, err := drv.Init(); err != nil {
		t.Fatal(err)
	}
	p := Platform()
	descs, err := p.Drivers()
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 1 || descs[0].ID != DeviceBase || descs[0].Name != "FT232R" {
		t.Fatalf("Drivers() = %#v", descs)
	}
	f.mu.Lock()
	f.mask = 0xF0
	f.mu.Unlock()
	if err := p.Teardown(); err != nil {
		t.Fatal(err)
	}
	if m := f.outputs(); m != 0 {
		t.Fatalf("outputs %#x", m)
	}
	if f.isClosed() {
		t.Fatal("Teardown must not close the USB handle")
	}
}

//

// fakeHandle emulates the DBus of a device in bit-bang mode.
type fakeHandle struct {
	d2xxtest.Fake

	mu      sync.Mutex
	mode    byte
	mask    byte
	pins    byte // level driven externally on the inputs
	out     byte
	writes  [][]byte
	resets  int
	closed  bool
	readErr d2xx.Err
}

func newFake(t DevType) *fakeHandle {
	return &fakeHandle{
		Fake: d2xxtest.Fake{DevType: uint32(t), Vid: 0x0403, Pid: 0x6014},
	}
}

func (f *fakeHandle) Close() d2xx.Err {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return 0
}

func (f *fakeHandle) ResetDevice() d2xx.Err {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return 0
}

func (f *fakeHandle) SetBitMode(mask, mode byte) d2xx.Err {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mask = mask
	f.mode = mode
	return 0
}

func (f *fakeHandle) GetBitMode() (byte, d2xx.Err) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != 0 {
		return 0, f.readErr
	}
	return f.pins&^f.mask | f.out&f.mask, 0
}

func (f *fakeHandle) Write(b []byte) (int, d2xx.Err) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(b) != 0 {
		f.out = b[len(b)-1]
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return len(b), 0
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHandle) bitMode() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeHandle) outputs() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mask
}

func (f *fakeHandle) drive(v byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = v
}

func (f *fakeHandle) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func reset(t *testing.T) {
	drv.reset()
}

func init() {
	reset(nil)
}
