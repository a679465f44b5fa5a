// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hal is the hardware abstraction layer entry point.
//
// Init loads the periph drivers, then exposes the devices they found (FTDI
// bit-bang DBus, Linux GPIO chips) through a devreg.Registry and the
// configured logical pins through an ioexp.Expander.
//
// Importing this package guarantees that every driver implemented in this
// module is registered.
package hal
