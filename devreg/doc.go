// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devreg is a registry of device drivers keyed by numeric id.
//
// A driver is a table of optional callbacks (Ops). Opening a driver returns
// an opaque Handle; Read, Write and Ioctl on that Handle are dispatched to
// the driver callbacks, one at a time per Handle.
//
// The registry is bootstrapped from a Platform, which lists the drivers
// present on the board:
//
//	r := devreg.New(&devreg.StaticPlatform{Descriptors: drivers})
//	if err := r.Initialize(); err != nil {
//		log.Fatal(err)
//	}
//	defer r.Finalize()
//	h, err := r.Open(0x100, nil)
//
// Every error returned matches one of the halerr kinds.
package devreg
