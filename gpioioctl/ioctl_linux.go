// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

// This file contains definitions for the GPIO character device ioctl calls.
//
// Documentation for the ioctl() API is at:
//
// https://docs.kernel.org/userspace-api/gpio/index.html

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// From the linux /usr/include/asm-generic/ioctl.h file.
const (
	_IOC_WRITE = 1
	_IOC_READ  = 2

	_IOC_NRBITS   = 8
	_IOC_TYPEBITS = 8
	_IOC_SIZEBITS = 14

	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

func _IOC(dir, typ, nr, size uintptr) uintptr {
	return dir<<_IOC_DIRSHIFT |
		typ<<_IOC_TYPESHIFT |
		nr<<_IOC_NRSHIFT |
		size<<_IOC_SIZESHIFT
}

func _IOR(typ, nr, size uintptr) uintptr {
	return _IOC(_IOC_READ, typ, nr, size)
}

func _IOWR(typ, nr, size uintptr) uintptr {
	return _IOC(_IOC_READ|_IOC_WRITE, typ, nr, size)
}

// From the /usr/include/linux/gpio.h header file.
const (
	_GPIO_MAX_NAME_SIZE         = 32
	_GPIO_V2_LINE_NUM_ATTRS_MAX = 10
	_GPIO_V2_LINES_MAX          = 64

	_GPIO_V2_LINE_EVENT_RISING_EDGE  uint32 = 1
	_GPIO_V2_LINE_EVENT_FALLING_EDGE uint32 = 2
)

type gpiochip_info struct {
	name  [_GPIO_MAX_NAME_SIZE]byte
	label [_GPIO_MAX_NAME_SIZE]byte
	lines uint32
}

type gpio_v2_line_attribute struct {
	id      uint32
	padding uint32
	// value is a union whose interpretation depends on id.
	value uint64
}

type gpio_v2_line_config_attribute struct {
	attr gpio_v2_line_attribute
	mask uint64
}

type gpio_v2_line_config struct {
	flags     uint64
	num_attrs uint32
	padding   [5]uint32
	attrs     [_GPIO_V2_LINE_NUM_ATTRS_MAX]gpio_v2_line_config_attribute
}

type gpio_v2_line_request struct {
	offsets           [_GPIO_V2_LINES_MAX]uint32
	consumer          [_GPIO_MAX_NAME_SIZE]byte
	config            gpio_v2_line_config
	num_lines         uint32
	event_buffer_size uint32
	padding           [5]uint32
	fd                int32
}

type gpio_v2_line_values struct {
	bits uint64
	mask uint64
}

type gpio_v2_line_event struct {
	timestamp_ns uint64
	id           uint32
	offset       uint32
	seqno        uint32
	line_seqno   uint32
	padding      [6]uint32
}

var (
	_GPIO_GET_CHIPINFO_IOCTL       = _IOR(0xb4, 0x01, unsafe.Sizeof(gpiochip_info{}))
	_GPIO_V2_GET_LINE_IOCTL        = _IOWR(0xb4, 0x07, unsafe.Sizeof(gpio_v2_line_request{}))
	_GPIO_V2_LINE_SET_CONFIG_IOCTL = _IOWR(0xb4, 0x0d, unsafe.Sizeof(gpio_v2_line_config{}))
	_GPIO_V2_LINE_GET_VALUES_IOCTL = _IOWR(0xb4, 0x0e, unsafe.Sizeof(gpio_v2_line_values{}))
	_GPIO_V2_LINE_SET_VALUES_IOCTL = _IOWR(0xb4, 0x0f, unsafe.Sizeof(gpio_v2_line_values{}))
	sizeofLineEvent                = int(unsafe.Sizeof(gpio_v2_line_event{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg)); ep != 0 {
		return ep
	}
	return nil
}
