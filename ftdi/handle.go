// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/d2xx"
)

// bitMode is used by SetBitMode to change the chip behavior.
type bitMode uint8

const (
	// Resets all DBus pins to inputs.
	bitModeReset bitMode = 0x00
	// Sets the DBus to asynchronous bit-bang. The mask selects the outputs.
	bitModeAsyncBitbang bitMode = 0x01
)

// numDevices returns the number of detected devices.
func numDevices() (int, error) {
	num, e := d2xx.CreateDeviceInfoList()
	if e != 0 {
		return 0, toErr("GetNumDevices initialization failed", e)
	}
	return num, nil
}

func openHandle(opener func(i int) (d2xx.Handle, d2xx.Err), i int) (*handle, error) {
	h, e := opener(i)
	if e != 0 {
		return nil, toErr("Open", e)
	}
	d := &handle{h: h}
	t, vid, did, e := h.GetDeviceInfo()
	if e != 0 {
		_ = d.Close()
		return nil, toErr("GetDeviceInfo", e)
	}
	d.t = DevType(t)
	d.venID = vid
	d.devID = did
	return d, nil
}

// handle converts the d2xx integer error codes into Go errors.
//
// The content of the struct is immutable after initialization.
type handle struct {
	h     d2xx.Handle
	t     DevType
	venID uint16
	devID uint16
}

func (h *handle) Close() error {
	return toErr("Close", h.h.Close())
}

// Init is the general setup for common devices.
//
// It doesn't reset the device, to reduce glitches on the pins on a best
// effort basis.
func (h *handle) Init() error {
	// Note that this clears any data in the buffer.
	if e := h.h.SetUSBParameters(65536, 0); e != 0 {
		return toErr("SetUSBParameters", e)
	}
	if e := h.h.SetTimeouts(15000, 15000); e != 0 {
		return toErr("SetTimeouts", e)
	}
	if e := h.h.SetChars(0, false, 0, false); e != 0 {
		return toErr("SetChars", e)
	}
	if e := h.h.SetLatencyTimer(1); e != 0 {
		return toErr("SetLatencyTimer", e)
	}
	return nil
}

// Reset resets the device and leaves every DBus pin as an input.
func (h *handle) Reset() error {
	if e := h.h.ResetDevice(); e != 0 {
		return toErr("Reset", e)
	}
	return h.SetBitMode(0, bitModeReset)
}

// GetBitMode returns the instantaneous value of the DBus pins.
func (h *handle) GetBitMode() (byte, error) {
	l, e := h.h.GetBitMode()
	if e != 0 {
		return 0, toErr("GetBitMode", e)
	}
	return l, nil
}

// SetBitMode change the mode of operation of the device.
//
// mask sets which pins are outputs in bit-bang modes.
func (h *handle) SetBitMode(mask byte, mode bitMode) error {
	return toErr("SetBitMode", h.h.SetBitMode(mask, byte(mode)))
}

// Write blocks until all data is written. In bit-bang mode each byte is
// latched on the DBus output pins in turn.
func (h *handle) Write(b []byte) (int, error) {
	for offset := 0; offset != len(b); {
		chunk := len(b) - offset
		if chunk > 4096 {
			chunk = 4096
		}
		p, e := h.h.Write(b[offset : offset+chunk])
		if e != 0 {
			return offset + p, toErr("Write", e)
		}
		offset += p
	}
	return len(b), nil
}

// SetBaudRate sets the bit-bang clock. The pins are updated at 16 times
// this rate.
func (h *handle) SetBaudRate(f physic.Frequency) error {
	if f >= physic.GigaHertz {
		return errors.New("ftdi: baud rate too high")
	}
	v := uint32(f / physic.Hertz)
	return toErr("SetBaudRate", h.h.SetBaudRate(v))
}

//

func toErr(s string, e d2xx.Err) error {
	if e == 0 {
		return nil
	}
	return errors.New("ftdi: " + s + ": " + e.String())
}
