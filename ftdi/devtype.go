// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

// DevType is the FTDI device type.
type DevType uint32

const (
	DevTypeFTBM DevType = iota // 0
	DevTypeFTAM
	DevTypeFT100AX
	DevTypeUnknown // 3
	DevTypeFT2232C
	DevTypeFT232R // 5
	DevTypeFT2232H
	DevTypeFT4232H
	DevTypeFT232H // 8
	DevTypeFTXSeries
)

const devTypeName = "FTBMFTAMFT100AXUnknownFT2232CFT232RFT2232HFT4232HFT232HFTXSeries"

var devTypeIndex = [...]uint8{0, 4, 8, 15, 22, 29, 35, 42, 49, 55, 64}

func (d DevType) String() string {
	if d >= DevType(len(devTypeIndex)-1) {
		d = DevTypeUnknown
	}
	return devTypeName[devTypeIndex[d]:devTypeIndex[d+1]]
}

// bitbang reports whether the DBus of the device supports asynchronous
// bit-bang.
func (d DevType) bitbang() bool {
	switch d {
	case DevTypeFT232R, DevTypeFT2232C, DevTypeFT2232H, DevTypeFT4232H, DevTypeFT232H, DevTypeFTXSeries:
		return true
	default:
		return false
	}
}
