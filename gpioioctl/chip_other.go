// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package gpioioctl

import "errors"

// openChip fails since ioctl is only supported on Linux.
func openChip(p string) (lineIO, error) {
	return nil, errors.New("gpioioctl: not supported on this OS")
}
