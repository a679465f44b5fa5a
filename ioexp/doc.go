// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ioexp multiplexes logical GPIO pins onto IO expander devices.
//
// Each logical pin is mapped by a PinMap to a (device, pin) pair. The devices
// are devreg drivers speaking the ioctl protocol defined in this package;
// exactly one registry handle is opened per device, however many logical pins
// share it.
//
// Pins wired active low can be flagged Reverse in their Mapping; Read, Write
// and interrupt handlers then see the logical level.
//
// Pins can also be used through periph's gpio interfaces, see Pin and
// Expander.RegisterPins.
package ioexp
