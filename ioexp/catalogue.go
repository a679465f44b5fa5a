// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexp

import (
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
)

// Mapping places a logical expander pin on a physical device.
type Mapping struct {
	Device  devreg.DeviceID
	Pin     int
	Irq     int
	Reverse bool
}

// PinMap supplies the mapping of every logical pin at Initialize.
//
// Logical pins are numbered 0 to Len()-1.
type PinMap interface {
	Len() int
	Mapping(id int) (Mapping, error)
}

// Mappings is a PinMap backed by a slice.
type Mappings []Mapping

// Len implements PinMap.
func (m Mappings) Len() int {
	return len(m)
}

// Mapping implements PinMap.
func (m Mappings) Mapping(id int) (Mapping, error) {
	if id < 0 || id >= len(m) {
		return Mapping{}, halerr.New(halerr.NotFound, "ioexp.Mapping", "pin "+strconv.Itoa(id))
	}
	return m[id], nil
}

// deviceInfo is shared by every descriptor multiplexed on the same device.
type deviceInfo struct {
	id       devreg.DeviceID
	h        devreg.Handle
	opened   bool
	pinTotal int
}

// descriptor is one logical pin.
type descriptor struct {
	id  int
	m   Mapping
	dev *deviceInfo

	// Guarded by Expander.apiMu.
	opened bool
	gen    uint32
	irq    bool

	// Guarded by Expander.irqMu.
	handler Handler
	data    interface{}
	irqSeq  uint32
}

func (d *descriptor) name() string {
	return "IOEXP" + strconv.Itoa(d.id)
}

// polarity converts between the logical and the raw level. It is its own
// inverse.
func (d *descriptor) polarity(l gpio.Level) gpio.Level {
	if d.m.Reverse {
		return !l
	}
	return l
}

func (d *descriptor) arg() *PinArg {
	return &PinArg{Device: d.m.Device, Pin: d.m.Pin}
}

// catalogue builds the descriptors from p and groups them by device, in order
// of first appearance.
func catalogue(p PinMap) ([]*descriptor, []*deviceInfo, error) {
	const op = "ioexp.Initialize"
	n := p.Len()
	descs := make([]*descriptor, 0, n)
	var devs []*deviceInfo
	byID := map[devreg.DeviceID]*deviceInfo{}
	for id := 0; id < n; id++ {
		m, err := p.Mapping(id)
		if err != nil {
			return nil, nil, halerr.Ensure(halerr.Internal, op, err)
		}
		if m.Pin < 0 {
			return nil, nil, halerr.New(halerr.InvalidParam, op, "pin "+strconv.Itoa(id)+" has a negative offset")
		}
		dev := byID[m.Device]
		if dev == nil {
			dev = &deviceInfo{id: m.Device}
			byID[m.Device] = dev
			devs = append(devs, dev)
		}
		descs = append(descs, &descriptor{id: id, m: m, dev: dev})
	}
	return descs, devs, nil
}
