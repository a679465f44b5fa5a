// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi exposes the DBus of FTDI devices as IO expanders.
//
// Every detected device with an asynchronous bit-bang capable DBus
// (FT232R, FT2232C/H, FT4232H, FT232H, FT-X series) is switched to bit-bang
// and listed by Platform() as a devreg driver speaking the ioexp ioctl
// protocol. The device at index i is registered as DeviceBase+i and serves
// the 8 pins D0~D7.
//
// The chips have no interrupt line. Interrupts are emulated by sampling the
// DBus every DefaultPoll while at least one is registered, so pulses
// shorter than the poll period are missed.
//
// # More details
//
// See https://periph.io/device/ftdi/ for more details, and how to configure
// the host to be able to use this driver.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
//
// https://www.ftdichip.com/Support/Documents/AppNotes/AN_232R-01_Bit_Bang_Mode_Available_For_FT232R_and_Ft245R.pdf
package ftdi
