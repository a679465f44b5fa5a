// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpioioctl serves Linux GPIO chips as IO expanders, using the GPIO
// character device ioctl interface.
//
// https://docs.kernel.org/userspace-api/gpio/index.html
//
// Every /dev/gpiochip* is listed by Platform() as a devreg driver speaking
// the ioexp ioctl protocol, with one expander pin per line offset. The
// kernel only reports edges, so IrqLevelHigh and IrqLevelLow fire when the
// line enters the level.
package gpioioctl
